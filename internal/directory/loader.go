// Package directory loads the contact source: a flat CSV keyed by phone,
// area, and account id. Contacts are materialized fresh on every load and
// never cached across requests.
package directory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"areacast/pkg/logx"
)

// ErrUnavailable means the contact source file is missing.
var ErrUnavailable = errors.New("contact source unavailable")

// SchemaError means the source exists but lacks required columns.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "contact source missing required columns: " + strings.Join(e.Missing, ", ")
}

type Contact struct {
	Phone     string `json:"phone"`
	Area      string `json:"area"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

var requiredColumns = []string{"phone", "area", "account_id"}

type Loader struct {
	path string
	log  logx.Logger
}

func NewLoader(path string, log logx.Logger) *Loader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loader{path: path, log: log}
}

// Load reads and normalizes the whole contact source.
//
// Column matching is case-insensitive; values are trimmed. A missing
// optional name column defaults to the empty string. Rows whose required
// fields are empty after trimming are skipped, not fatal.
func (l *Loader) Load() ([]Contact, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, l.path)
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &SchemaError{Missing: requiredColumns}
		}
		return nil, err
	}

	idx := map[string]int{}
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	nameIdx, hasName := idx["name"]

	var (
		contacts []Contact
		skipped  int
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		c := Contact{
			Phone:     field(rec, idx["phone"]),
			Area:      field(rec, idx["area"]),
			AccountID: field(rec, idx["account_id"]),
		}
		if hasName {
			c.Name = field(rec, nameIdx)
		}
		if c.Phone == "" || c.Area == "" || c.AccountID == "" {
			skipped++
			continue
		}
		contacts = append(contacts, c)
	}
	if skipped > 0 {
		l.log.Debug("contact rows skipped", logx.Int("skipped", skipped), logx.String("path", l.path))
	}
	return contacts, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// FilterArea returns the contacts belonging to the given area.
func FilterArea(contacts []Contact, area string) []Contact {
	var out []Contact
	for _, c := range contacts {
		if c.Area == area {
			out = append(out, c)
		}
	}
	return out
}

// AreaSummary is one distinct area with its member contacts.
type AreaSummary struct {
	Area     string
	Count    int
	Contacts []Contact
}

// Areas groups contacts by area, sorted by area name.
func Areas(contacts []Contact) []AreaSummary {
	byArea := map[string][]Contact{}
	for _, c := range contacts {
		byArea[c.Area] = append(byArea[c.Area], c)
	}
	names := make([]string, 0, len(byArea))
	for a := range byArea {
		names = append(names, a)
	}
	sort.Strings(names)

	out := make([]AreaSummary, 0, len(names))
	for _, a := range names {
		out = append(out, AreaSummary{Area: a, Count: len(byArea[a]), Contacts: byArea[a]})
	}
	return out
}
