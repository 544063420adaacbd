package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quizarena/roomsync/internal/config"
	"github.com/quizarena/roomsync/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "roomsync",
		Short: "Room synchronization service for QuizArena live sessions",
		Long: `roomsync runs the real-time messaging broker behind QuizArena class
battles, co-op raids, and tournaments, and ships a watch client for
observing a live room.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable log output")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	return cmd
}

// loadConfig resolves configuration and builds the logger with flag
// overrides applied.
func (o *rootOptions) loadConfig() (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("info", o.pretty)
	cfg, path, err := config.Load(bootstrap, o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	logger := log.New(cfg.LogLevel, o.pretty)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}
