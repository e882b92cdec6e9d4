package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voxpaylabs/voxpay-core/internal/config"
	_ "modernc.org/sqlite"
)

// TurnEvent is one recorded artifact of a call turn: received audio sizes,
// transcripts, responses, stage errors.
type TurnEvent struct {
	ID        int64
	CallSID   string
	TurnID    string
	Stage     string
	Payload   []byte
	CreatedAt time.Time
}

// Store keeps a SQLite-backed audit trail of calls and their turns. With
// retention mode "ephemeral" it is a no-op and never touches disk.
type Store struct {
	db    *sql.DB
	cfg   config.AuditConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the audit store according to config.
func Open(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("audit store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("audit store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS calls (
    call_sid TEXT PRIMARY KEY,
    remote_addr TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS turn_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    call_sid TEXT NOT NULL,
    turn_id TEXT,
    stage TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(call_sid) REFERENCES calls(call_sid) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_turn_events_call_created ON turn_events(call_sid, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendCall ensures a call row exists.
func (s *Store) AppendCall(ctx context.Context, callSID, remoteAddr string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls(call_sid, remote_addr, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(call_sid) DO UPDATE SET remote_addr=excluded.remote_addr`,
		callSID, remoteAddr, s.clock().UTC())
	return err
}

// AppendTurnEvent writes one turn artifact into the store.
func (s *Store) AppendTurnEvent(ctx context.Context, callSID, turnID, stage string, payload []byte) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_events(call_sid, turn_id, stage, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		callSID, turnID, stage, payload, s.clock().UTC())
	return err
}

// ListTurnEvents retrieves up to limit events for a call ordered ascending by time.
func (s *Store) ListTurnEvents(ctx context.Context, callSID string, limit int) ([]TurnEvent, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_sid, turn_id, stage, payload, created_at
		 FROM turn_events WHERE call_sid = ? ORDER BY created_at ASC, id ASC LIMIT ?`, callSID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TurnEvent
	for rows.Next() {
		var e TurnEvent
		var created string
		if err := rows.Scan(&e.ID, &e.CallSID, &e.TurnID, &e.Stage, &e.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM turn_events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM calls WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxCalls > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM calls WHERE call_sid IN (
			SELECT call_sid FROM calls ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxCalls)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
