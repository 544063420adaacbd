package broker

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost of 10 balances security and latency for short-lived room codes.
const bcryptCost = 10

// HashJoinCode generates a bcrypt hash of a room join code.
func HashJoinCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash join code: %w", err)
	}
	return string(hash), nil
}

// CompareJoinCode compares a hashed join code with its plaintext form.
func CompareJoinCode(hashedCode, code string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedCode), []byte(code))
}
