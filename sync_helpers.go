package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/journal-sync/internal/auth"
	"github.com/tonimelisma/journal-sync/internal/config"
	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/kv"
	"github.com/tonimelisma/journal-sync/internal/media"
	"github.com/tonimelisma/journal-sync/internal/remote"
	"github.com/tonimelisma/journal-sync/internal/sync"
)

// exitEscalated is the process exit status when a write needs the user's
// attention (identity inconsistency or a date that keeps failing to drain).
const exitEscalated = 2

// shutdownTimeout bounds the teardown flush on exit.
const shutdownTimeout = 30 * time.Second

// errEscalated marks errors that the engine escalated to the user.
var errEscalated = errors.New("needs attention")

// engineHooks are the optional coordinator listeners a command installs.
type engineHooks struct {
	onDocument func(sync.Document)
	onFailure  func(day.Date, error)
}

// engine bundles a Coordinator with the resources it was built from.
type engine struct {
	coord  *sync.Coordinator
	store  *kv.Degrading
	client *remote.Client // nil when offline
	tokens oauth2.TokenSource
	logger *slog.Logger
}

// newEngine opens the local store, resolves the user, and builds the
// coordinator from the resolved config. The user comes from the configured
// token, or from the last user seen on this device when no token is set.
func newEngine(ctx context.Context, cc *CLIContext, hooks engineHooks) (*engine, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	store := kv.Open(ctx, cfg.StorePath, cfg.MaxBytes, logger)

	userID, err := auth.NewResolver(store, logger).Resolve(ctx, cfg.Token)
	if err != nil {
		store.Close()

		if errors.Is(err, auth.ErrNoUser) {
			return nil, fmt.Errorf("no user known on this device: set [remote] token or %s", config.EnvToken)
		}

		return nil, err
	}

	e := &engine{store: store, logger: logger}

	ccfg := &sync.CoordinatorConfig{
		UserID:            userID,
		Store:             store,
		Debounce:          cfg.Debounce,
		FetchTimeout:      cfg.FetchTimeout,
		DrainFailureLimit: cfg.DrainFailureLimit,
		Logger:            logger,
		OnDocument:        hooks.onDocument,
		OnFailure:         hooks.onFailure,
	}

	if !cfg.Offline() {
		if cfg.Token == "" {
			logger.Warn("remote configured without a token, requests will be rejected",
				slog.String("url", cfg.RemoteURL),
			)
		}

		e.tokens = remote.StaticToken(cfg.Token)
		e.client = remote.NewClient(cfg.RemoteURL, defaultHTTPClient(), e.tokens, logger)
		ccfg.Remote = e.client
	}

	if cfg.Media.S3Bucket != "" {
		cleaner, err := media.NewS3Cleaner(ctx, media.S3Config{
			Bucket:    cfg.Media.S3Bucket,
			Region:    cfg.Media.S3Region,
			Endpoint:  cfg.Media.S3Endpoint,
			AccessKey: cfg.Media.S3AccessKey,
			SecretKey: cfg.Media.S3SecretKey,
		}, logger)
		if err != nil {
			store.Close()
			return nil, err
		}

		ccfg.Cleaner = cleaner
	}

	coord, err := sync.NewCoordinator(ccfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	e.coord = coord

	return e, nil
}

// close flushes outstanding edits and closes the store. It runs on a
// context detached from ctx's cancellation so a signal-triggered exit
// still gets its teardown flush.
func (e *engine) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := e.coord.Close(ctx)

	if cerr := e.store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing store: %w", cerr)
	}

	return err
}

// escalation wraps err with errEscalated when the engine reported it as
// needing the user's attention.
func escalation(err error) error {
	if errors.Is(err, sync.ErrIdentityInconsistent) || errors.Is(err, sync.ErrDrainExhausted) {
		return fmt.Errorf("%w: %w", errEscalated, err)
	}

	return err
}
