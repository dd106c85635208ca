package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/quantrail/quantachat/api"
	"github.com/quantrail/quantachat/auth"
	"github.com/quantrail/quantachat/dbsession"
	"github.com/quantrail/quantachat/internal/config"
	"github.com/quantrail/quantachat/pinggy"
	"github.com/quantrail/quantachat/session"
	"github.com/quantrail/quantachat/storage/boltkv"
	"github.com/quantrail/quantachat/storage/memkv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("agent exited with error")
	}
	log.Info().Msg("agent stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	if err := os.MkdirAll(c.GetDataFolder(), 0o700); err != nil {
		return fmt.Errorf("creating data folder: %w", err)
	}

	persistent, err := boltkv.Open(filepath.Join(c.GetDataFolder(), "state.db"))
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer persistent.Close()

	store := session.NewStore(persistent, memkv.New())
	store.Subscribe(func(s *session.Session) {
		if s == nil {
			log.Info().Msg("session cleared")
			return
		}
		log.Info().Int64("user", s.User.ID).Str("role", string(s.User.Role)).Msg("session updated")
	})

	registry := dbsession.NewRegistry(persistent)

	backend, err := api.NewClient(c.GetAPIBaseURL(), store,
		[]api.TransportOption{
			api.WithRevokedHook(func(e *api.AuthError) {
				log.Error().Str("cause", e.Message).Msg("access revoked, signed out")
			}),
			api.WithExpiredHook(func(e *api.AuthError) {
				log.Warn().Str("cause", e.Message).Msg("session expired, signed out")
			}),
		})
	if err != nil {
		return fmt.Errorf("building backend client: %w", err)
	}

	ai, err := pinggy.NewClient(c.GetAIBaseURL(), registry)
	if err != nil {
		return fmt.Errorf("building AI service client: %w", err)
	}
	_ = ai // handed to the chat layer once a session is live

	gate, err := auth.NewGate(backend)
	if err != nil {
		return fmt.Errorf("building authorization gate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go registry.Run(ctx, c.GetSweepInterval())

	resumeSession(ctx, store, backend, gate)

	waitForStopSignal()
	cancel()
	return nil
}

// resumeSession restores a persisted session on startup: refresh the token,
// then re-confirm identity through the gate so a demoted or deleted account
// does not come back up with stale access.
func resumeSession(ctx context.Context, store *session.Store, backend *api.Client, gate *auth.Gate) {
	sess := store.Read()
	if sess == nil || sess.Token == "" {
		log.Info().Msg("no persisted session, waiting for login")
		return
	}

	if err := backend.RefreshSession(ctx); err != nil {
		log.Warn().Err(err).Msg("session refresh failed")
		return
	}

	if state := gate.Evaluate(ctx, true, nil); state != auth.StateAllowed {
		log.Warn().Stringer("state", state).Msg("persisted session no longer authorized")
		return
	}

	log.Info().Int64("user", sess.User.ID).Msg("session resumed")
}

func setupLogging(c config.Config) {
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
