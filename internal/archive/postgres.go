// Package archive persists completed rooms to Postgres for long-term history
// beyond the bounded in-app list.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/taxipool/internal/models"
)

// Archiver records completed rooms. The agent treats archiving as
// best-effort; a failed insert is logged and retried on the next sync.
type Archiver interface {
	ArchiveCompleted(ctx context.Context, userKey string, entry models.CompletedRoomEntry) error
	Close() error
}

type PostgresArchive struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS completed_rooms (
	user_key     TEXT NOT NULL,
	room_id      TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	entry        JSONB NOT NULL,
	archived_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_key, room_id)
)`

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

// ArchiveCompleted upserts the entry keyed by (user_key, room_id) so repeated
// syncs of the same completion stay idempotent.
func (p *PostgresArchive) ArchiveCompleted(ctx context.Context, userKey string, entry models.CompletedRoomEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	completedAt, err := time.Parse(time.RFC3339, entry.CompletedAt)
	if err != nil {
		completedAt = time.Now().UTC()
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO completed_rooms(user_key, room_id, completed_at, entry)
		 VALUES($1,$2,$3,$4)
		 ON CONFLICT (user_key, room_id) DO UPDATE SET completed_at=$3, entry=$4, archived_at=now()`,
		userKey, entry.RoomID, completedAt, payload)
	return err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }

// NopArchiver drops entries; used when no DSN is configured.
type NopArchiver struct{}

func (NopArchiver) ArchiveCompleted(context.Context, string, models.CompletedRoomEntry) error {
	return nil
}
func (NopArchiver) Close() error { return nil }
