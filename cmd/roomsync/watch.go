package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quizarena/roomsync/internal/realtime"
	"github.com/quizarena/roomsync/internal/roomsync"
	"github.com/quizarena/roomsync/internal/store/sqlite"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		roomID   string
		name     string
		token    string
		fallback bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a room as an observer and print its event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}

			room := roomsync.Room{ID: roomID, Kind: roomsync.KindClassBattle}
			self := roomsync.Participant{
				ID:     "watch-" + uuid.NewString()[:8],
				Name:   name,
				Avatar: "👀",
			}

			var session roomsync.Session
			if fallback {
				st, err := sqlite.New(cfg.DatabasePath)
				if err != nil {
					return err
				}
				defer st.Close()
				session, err = roomsync.New(room, self, nil, st, roomsync.Options{
					Logger:       logger,
					PollInterval: cfg.PollInterval,
				})
				if err != nil {
					return err
				}
			} else {
				clientCfg := realtime.DefaultConfig()
				clientCfg.URL = cfg.TransportURL
				clientCfg.Token = token
				ch := realtime.NewClient(clientCfg, room.ID, logger)
				session, err = roomsync.New(room, self, ch, nil, roomsync.Options{Logger: logger})
				if err != nil {
					return err
				}
			}
			defer session.Close()

			if err := session.Connect(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().Str("room", room.ID).Msg("watching room")
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-session.Events():
					if !ok {
						return nil
					}
					printEvent(logger, ev)
				}
			}
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "", "room id to watch")
	cmd.Flags().StringVar(&name, "name", "observer", "display name")
	cmd.Flags().StringVar(&token, "token", "", "room access token")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "use the polling fallback over the shared store")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func printEvent(logger *zerolog.Logger, ev roomsync.Event) {
	switch ev.Kind {
	case roomsync.EventConnected:
		logger.Info().Msg("connected")
	case roomsync.EventParticipantJoined:
		logger.Info().Str("id", ev.Participant.ID).Str("name", ev.Participant.Name).Msg("participant joined")
	case roomsync.EventParticipantLeft:
		logger.Info().Str("id", ev.ParticipantID).Msg("participant left")
	case roomsync.EventPresenceSynced:
		logger.Info().Int("participants", len(ev.Participants)).Msg("presence synced")
	case roomsync.EventScoreUpdated:
		logger.Info().
			Str("id", ev.Score.ParticipantID).
			Int("score", ev.Score.Score).
			Int("correct", ev.Score.CorrectAnswers).
			Int("question", ev.Score.CurrentQuestion).
			Msg("score updated")
	case roomsync.EventRoomUpdated:
		e := logger.Info()
		if ev.Patch.Status != nil {
			e = e.Str("status", string(*ev.Patch.Status))
		}
		e.Msg("room updated")
	case roomsync.EventQuestionChanged:
		logger.Info().Int("question", ev.QuestionIndex).Msg("question changed")
	}
}
