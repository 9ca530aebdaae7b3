package audit

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"areacast/pkg/logx"
)

// Fixed column order of the audit file. The header is written exactly once
// when the file is created.
var csvHeader = []string{
	"timestamp_iso", "area", "channel", "count", "sent", "failed", "fingerprint",
	"msg_type", "eta",
	"pricing_category", "unit_price", "estimated_cost", "currency",
}

// csvStore appends audit rows to a delimited file.
//
// Appends are serialized behind an in-process mutex, which covers
// concurrent requests within one daemon. Multiple processes appending to
// the same file remain unsynchronized; use the sqlite driver when that
// matters.
type csvStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	file *os.File
}

func openCSV(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	needHeader := true
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		needHeader = false
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	s := &csvStore{log: log, path: path, file: f}
	if needHeader {
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *csvStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *csvStore) Append(ctx context.Context, r Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	w := csv.NewWriter(s.file)
	if err := w.Write(csvRow(r)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func csvRow(r Record) []string {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return []string{
		at.UTC().Format(time.RFC3339),
		r.Area,
		r.Channel,
		strconv.Itoa(r.Count),
		strconv.Itoa(r.Sent),
		strconv.Itoa(r.Failed),
		r.Fingerprint,
		r.MsgType,
		r.ETA,
		r.Category,
		formatPrice(r.UnitPrice),
		formatPrice(r.EstimatedCost),
		r.Currency,
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Prune rewrites the file keeping the header and every row at or after
// the cutoff. The rewrite goes through a temp file and rename so a crash
// mid-prune never loses the live log.
func (s *csvStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, ErrClosed
	}

	in, err := os.Open(s.path)
	if err != nil {
		return 0, err
	}
	rows, err := csv.NewReader(in).ReadAll()
	_ = in.Close()
	if err != nil {
		return 0, err
	}

	kept := make([][]string, 0, len(rows))
	removed := 0
	for i, row := range rows {
		if i == 0 {
			kept = append(kept, row)
			continue
		}
		if len(row) > 0 {
			if ts, err := time.Parse(time.RFC3339, row[0]); err == nil && ts.Before(olderThan) {
				removed++
				continue
			}
		}
		kept = append(kept, row)
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	w := csv.NewWriter(out)
	if err := w.WriteAll(kept); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	// Swap the live file under the handle.
	if err := s.file.Close(); err != nil {
		return 0, err
	}
	s.file = nil
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	s.file = f
	s.log.Debug("audit csv pruned", logx.Int("removed", removed))
	return removed, nil
}
