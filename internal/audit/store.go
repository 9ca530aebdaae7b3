package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"areacast/pkg/logx"
)

var ErrClosed = errors.New("audit store closed")

// Record is one audit row: exactly one is appended per live (non-dry-run)
// send request. Records are never updated or deleted except by retention
// pruning.
type Record struct {
	At            time.Time
	Area          string
	Channel       string
	Count         int
	Sent          int
	Failed        int
	Fingerprint   string
	MsgType       string
	ETA           string
	Category      string
	UnitPrice     float64
	EstimatedCost float64
	Currency      string
}

// Store is the minimal audit persistence API.
type Store interface {
	Append(ctx context.Context, r Record) error
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

// Config configures the audit store.
//
// Driver values:
//   - "csv": append-only delimited file, header written once on creation
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver string
	Path   string
}

// Open initializes the configured store. It returns (nil, nil) if
// auditing is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "csv":
		return openCSV(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
