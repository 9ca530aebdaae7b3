// Package audit derives the per-blast accounting data (fingerprint, unit
// price, estimated cost) and persists append-only send records.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen is the number of hex characters kept from the digest.
// Long enough to correlate blasts across logs; not a uniqueness key and
// not a security token.
const fingerprintLen = 16

// Fingerprint identifies a logical blast: a deterministic digest of the
// UTF-8 bytes of area, channel, and message concatenated in that order.
func Fingerprint(area, channel, message string) string {
	h := sha256.New()
	h.Write([]byte(area))
	h.Write([]byte(channel))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen]
}

// Categories recognized by the pricing table.
const (
	CategoryService   = "service"
	CategoryUtility   = "utility"
	CategoryMarketing = "marketing"
)

// Pricing is the process-wide category -> unit price table. Built once at
// startup, read-only thereafter.
type Pricing struct {
	Currency string
	Default  string
	Prices   map[string]float64
}

// NormalizeCategory lower-cases a client-supplied category and validates
// it against the known set. Unknown categories resolve to the configured
// default rather than being recorded verbatim.
func (p Pricing) NormalizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	switch c {
	case CategoryService, CategoryUtility, CategoryMarketing:
		return c
	}
	if p.Default != "" {
		return p.Default
	}
	return CategoryUtility
}

// UnitPrice looks up the per-message price for a category, falling back to
// the utility price for anything unrecognized.
func (p Pricing) UnitPrice(category string) float64 {
	c := strings.ToLower(strings.TrimSpace(category))
	if v, ok := p.Prices[c]; ok {
		return v
	}
	return p.Prices[CategoryUtility]
}
