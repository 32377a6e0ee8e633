// Package auth supplies the current user ID to the sync engine and
// authenticates API requests on the server side. Tokens are HS256 JWTs whose
// subject claim is the user ID.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tonimelisma/journal-sync/internal/kv"
)

// lastUserKey is where the most recently authenticated user ID is kept for
// offline use.
const lastUserKey = "auth/last_user"

// Sentinel errors.
var (
	ErrNoUser       = errors.New("auth: no user available")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// UserFromToken extracts the subject claim without verifying the signature.
// Clients cannot verify server-signed tokens; the server does that on every
// request.
func UserFromToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// Mint signs a token for userID valid for ttl.
func Mint(userID string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}

	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}

	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verifier authenticates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Authenticate verifies the signature and expiry and returns the subject.
func (v *Verifier) Authenticate(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// Resolver supplies the current user ID, falling back to the last known one
// when no token is available.
type Resolver struct {
	store  kv.Store
	logger *slog.Logger
}

// NewResolver returns a Resolver persisting the last known user in store.
func NewResolver(store kv.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: store, logger: logger}
}

// Resolve returns the user of token and remembers it. With no usable token
// it returns the last remembered user, or ErrNoUser.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	if token != "" {
		userID, err := UserFromToken(token)
		if err == nil {
			if err := r.store.Set(ctx, lastUserKey, []byte(userID)); err != nil {
				r.logger.Warn("could not remember user", slog.String("error", err.Error()))
			}

			return userID, nil
		}

		r.logger.Warn("ignoring unusable token", slog.String("error", err.Error()))
	}

	v, ok, err := r.store.Get(ctx, lastUserKey)
	if err != nil {
		return "", fmt.Errorf("auth: reading last user: %w", err)
	}

	if !ok || len(v) == 0 {
		return "", ErrNoUser
	}

	r.logger.Debug("using last known user", slog.String("user_id", string(v)))

	return string(v), nil
}
