package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/oauth2"
)

const (
	feedMinBackoff = 1 * time.Second
	feedMaxBackoff = 2 * time.Minute
)

// FeedHandler receives change feed events. Connected fires after each
// successful (re)connect, which is when pending writes should be drained.
// Calls are made from the Run goroutine, one at a time.
type FeedHandler interface {
	Connected()
	Disconnected(err error)
	Changed(c Change)
}

// Feed is a reconnecting client for the /v1/changes websocket.
type Feed struct {
	baseURL    string
	token      oauth2.TokenSource
	handler    FeedHandler
	logger     *slog.Logger
	httpClient *http.Client

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewFeed creates a feed client for the API at baseURL.
func NewFeed(baseURL string, token oauth2.TokenSource, handler FeedHandler, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	return &Feed{
		baseURL:   baseURL,
		token:     token,
		handler:   handler,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// Run connects and reconnects until ctx is canceled. It always returns nil
// after cancellation.
func (f *Feed) Run(ctx context.Context) error {
	var attempt int

	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if connected {
			attempt = 0
		}

		backoff := feedBackoff(attempt)
		f.logger.Debug("change feed reconnecting",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", errString(err)),
		)

		if err := f.sleepFunc(ctx, backoff); err != nil {
			return nil
		}

		attempt++
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (f *Feed) session(ctx context.Context) (bool, error) {
	header := http.Header{}

	if f.token != nil {
		tok, err := f.token.Token()
		if err != nil {
			return false, fmt.Errorf("remote: obtaining token: %w", err)
		}

		header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	conn, _, err := websocket.Dial(ctx, f.baseURL+pathChanges, &websocket.DialOptions{
		HTTPClient: f.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return false, fmt.Errorf("remote: dialing change feed: %w", err)
	}
	defer conn.CloseNow()

	f.logger.Info("change feed connected")
	f.handler.Connected()

	for {
		var c Change
		if err := wsjson.Read(ctx, conn, &c); err != nil {
			if ctx.Err() == nil {
				f.logger.Info("change feed disconnected", slog.String("error", err.Error()))
			}

			f.handler.Disconnected(err)

			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return true, nil
			}

			return true, err
		}

		f.handler.Changed(c)
	}
}

func feedBackoff(attempt int) time.Duration {
	d := feedMinBackoff << min(attempt, 10)
	if d > feedMaxBackoff {
		d = feedMaxBackoff
	}

	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
