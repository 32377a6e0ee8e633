package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/journal-sync/internal/auth"
	"github.com/tonimelisma/journal-sync/internal/remote"
)

const (
	defaultAddr       = ":8080"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

type serveFlags struct {
	addr    string
	dsn     string
	secret  string
	verbose bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the entry API",
		Long: `Serve the entry API and its websocket change feed.

Entries are kept in PostgreSQL when --dsn (or ` + envDSN + `) is set and
in memory otherwise. Tokens must be HS256-signed with --secret (or
` + envSecret + `).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (default "+defaultAddr+")")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "PostgreSQL connection string")
	cmd.Flags().StringVar(&f.secret, "secret", "", "token signing secret")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func runServe(ctx context.Context, f serveFlags) error {
	logger := newLogger(f.verbose)

	secret, err := secretFrom(f.secret)
	if err != nil {
		return err
	}

	addr := firstNonEmpty(f.addr, os.Getenv(envAddr), defaultAddr)
	dsn := firstNonEmpty(f.dsn, os.Getenv(envDSN))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	return serve(ctx, ln, store, auth.NewVerifier(secret), logger)
}

// openStore returns the PostgreSQL store for dsn, or a memory store when
// dsn is empty.
func openStore(ctx context.Context, dsn string, logger *slog.Logger) (remote.Store, func(), error) {
	if dsn == "" {
		logger.Warn("no database configured, entries are kept in memory only")
		return remote.NewMemory(), func() {}, nil
	}

	pg, err := remote.OpenPostgres(ctx, dsn, logger)
	if err != nil {
		return nil, nil, err
	}

	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}, nil
}

// serve runs the API on ln until ctx is canceled, then shuts down
// gracefully. Open change feeds are ended by closing the hub.
func serve(ctx context.Context, ln net.Listener, store remote.Store, authn remote.Authenticator, logger *slog.Logger) error {
	hub := remote.NewHub(logger)

	srv := &http.Server{
		Handler:           remote.NewHandler(store, authn, hub, logger),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("serving", slog.String("addr", ln.Addr().String()))

		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down")
		hub.Close()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}
