package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/tonimelisma/journal-sync/internal/day"
)

const (
	headerRequestID = "request-id"
	maxBodyBytes    = 4 << 20
	feedWriteWait   = 5 * time.Second
)

// Authenticator resolves a bearer token to a user ID.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// Handler serves a Store over HTTP:
//
//	GET   /v1/ping                 reachability and token check
//	GET   /v1/entries/{date}       FetchByDate
//	PUT   /v1/entries/{date}       UpsertByDate
//	PATCH /v1/entries/id/{id}      UpdateByID
//	GET   /v1/changes              websocket change feed
//
// Every route requires a bearer token; the user is taken from the token,
// never from the request.
type Handler struct {
	store  Store
	auth   Authenticator
	hub    *Hub
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler builds the API handler. hub may be nil, which disables the
// change feed.
func NewHandler(store Store, auth Authenticator, hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{store: store, auth: auth, hub: hub, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET "+pathPing, h.authed(h.handlePing))
	h.mux.HandleFunc("GET "+pathEntries+"{date}", h.authed(h.handleFetch))
	h.mux.HandleFunc("PUT "+pathEntries+"{date}", h.authed(h.handleUpsert))
	h.mux.HandleFunc("PATCH "+pathEntryIDs+"{id}", h.authed(h.handleUpdate))

	if hub != nil {
		h.mux.HandleFunc("GET "+pathChanges, h.authed(h.handleChanges))
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(headerRequestID, uuid.NewString())
	h.mux.ServeHTTP(w, r)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// authed rejects requests without a valid bearer token.
func (h *Handler) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			h.writeError(w, r, ErrUnauthorized)
			return
		}

		userID, err := h.auth.Authenticate(token)
		if err != nil {
			h.logger.Debug("rejected token", slog.String("error", err.Error()))
			h.writeError(w, r, ErrUnauthorized)

			return
		}

		next(w, r, userID)
	}
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request, _ string) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request, userID string) {
	d, err := day.Parse(r.PathValue("date"))
	if err != nil {
		h.writeError(w, r, ErrBadRequest)
		return
	}

	e, err := h.store.FetchByDate(r.Context(), userID, d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request, userID string) {
	d, err := day.Parse(r.PathValue("date"))
	if err != nil {
		h.writeError(w, r, ErrBadRequest)
		return
	}

	wr, err := decodeWrite(r)
	if err != nil {
		h.writeError(w, r, ErrBadRequest)
		return
	}

	e, err := h.store.UpsertByDate(r.Context(), userID, d, wr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.publish(e)
	h.writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	wr, err := decodeWrite(r)
	if err != nil {
		h.writeError(w, r, ErrBadRequest)
		return
	}

	e, err := h.store.UpdateByID(r.Context(), userID, r.PathValue("id"), wr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.publish(e)
	h.writeJSON(w, http.StatusOK, e)
}

// handleChanges streams Change messages for the authenticated user until
// the client disconnects or the hub closes.
func (h *Handler) handleChanges(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	changes, unsubscribe := h.hub.Subscribe(userID)
	defer unsubscribe()

	h.logger.Debug("change feed subscriber connected",
		slog.String("user_id", userID),
		slog.Int("subscribers", h.hub.Subscribers(userID)),
	)

	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}

			wctx, cancel := context.WithTimeout(ctx, feedWriteWait)
			err := wsjson.Write(wctx, conn, c)
			cancel()

			if err != nil {
				h.logger.Debug("change feed write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (h *Handler) publish(e *Entry) {
	if h.hub == nil {
		return
	}

	h.hub.Publish(Change{UserID: e.UserID, Date: e.Date, ID: e.ID, UpdatedAt: e.UpdatedAt})
}

func decodeWrite(r *http.Request) (Write, error) {
	var wr Write

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&wr); err != nil {
		return Write{}, err
	}

	return wr, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("writing response", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	http.Error(w, http.StatusText(status), status)
}
