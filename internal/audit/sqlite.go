package audit

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"areacast/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sends (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	at             TEXT NOT NULL,
	area           TEXT NOT NULL,
	channel        TEXT NOT NULL,
	count          INTEGER NOT NULL,
	sent           INTEGER NOT NULL,
	failed         INTEGER NOT NULL,
	fingerprint    TEXT NOT NULL,
	msg_type       TEXT,
	eta            TEXT,
	category       TEXT,
	unit_price     REAL NOT NULL DEFAULT 0,
	estimated_cost REAL NOT NULL DEFAULT 0,
	currency       TEXT
);
CREATE INDEX IF NOT EXISTS idx_sends_at ON sends(at);
CREATE INDEX IF NOT EXISTS idx_sends_fingerprint ON sends(fingerprint);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also serializes
	// concurrent requests appending simultaneously.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sends(at, area, channel, count, sent, failed, fingerprint, msg_type, eta, category, unit_price, estimated_cost, currency)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.Area, r.Channel, r.Count, r.Sent, r.Failed,
		r.Fingerprint, nullStr(r.MsgType), nullStr(r.ETA), nullStr(r.Category),
		r.UnitPrice, r.EstimatedCost, nullStr(r.Currency),
	)
	return err
}

func (s *sqliteStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sends WHERE at < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
