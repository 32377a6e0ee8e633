package remote

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"

	"github.com/tonimelisma/journal-sync/internal/day"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const entryColumns = `id, user_id, date, content, image_url, audio_url, updated_at`

const (
	sqlFetchByDate = `SELECT ` + entryColumns + ` FROM entries WHERE user_id = $1 AND date = $2`

	sqlUpsertByDate = `INSERT INTO entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, date) DO UPDATE SET
			content = EXCLUDED.content,
			image_url = EXCLUDED.image_url,
			audio_url = EXCLUDED.audio_url,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + entryColumns

	sqlUpdateByID = `UPDATE entries
		SET content = $1, image_url = $2, audio_url = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6
		RETURNING ` + entryColumns
)

// Postgres is the production Store. Uniqueness of (user_id, date) is
// enforced by the table constraint, so concurrent first writes for one date
// converge on a single row.
type Postgres struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
	newID   func() string
}

// NewPostgres wraps an open database handle. Call Migrate before first use
// on a fresh database.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}

	return &Postgres{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// OpenPostgres connects to dsn with the pgx driver and applies migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("remote: opening postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("remote: connecting to postgres: %w", err)
	}

	p := NewPostgres(db, logger)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return p, nil
}

// Migrate applies all pending schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("remote: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, p.db, subFS)
	if err != nil {
		return fmt.Errorf("remote: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("remote: running migrations: %w", err)
	}

	for _, r := range results {
		p.logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// FetchByDate reads the entry for (userID, d).
func (p *Postgres) FetchByDate(ctx context.Context, userID string, d day.Date) (*Entry, error) {
	e, err := scanEntry(p.db.QueryRowContext(ctx, sqlFetchByDate, userID, d))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("remote: fetch %s/%s: %w", userID, d, err)
	}

	return e, nil
}

// UpsertByDate inserts or updates the row keyed by (userID, d). A new row
// gets a fresh UUID; an existing row keeps its identity.
func (p *Postgres) UpsertByDate(ctx context.Context, userID string, d day.Date, w Write) (*Entry, error) {
	if d.IsZero() || userID == "" {
		return nil, ErrBadRequest
	}

	e, err := scanEntry(p.db.QueryRowContext(ctx, sqlUpsertByDate,
		p.newID(), userID, d, w.Content,
		nullable(w.Media.Image), nullable(w.Media.Audio), p.nowFunc().UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("remote: upsert %s/%s: %w", userID, d, err)
	}

	return e, nil
}

// UpdateByID updates the row with the given identity.
func (p *Postgres) UpdateByID(ctx context.Context, userID, id string, w Write) (*Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	e, err := scanEntry(p.db.QueryRowContext(ctx, sqlUpdateByID,
		w.Content, nullable(w.Media.Image), nullable(w.Media.Audio), p.nowFunc().UTC(),
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("remote: update %s: %w", id, err)
	}

	return e, nil
}

// Close closes the database.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var (
		e            Entry
		image, audio sql.NullString
	)

	if err := row.Scan(&e.ID, &e.UserID, &e.Date, &e.Content, &image, &audio, &e.UpdatedAt); err != nil {
		return nil, err
	}

	e.Media = Media{Image: image.String, Audio: audio.String}
	e.UpdatedAt = e.UpdatedAt.UTC()

	return &e, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
