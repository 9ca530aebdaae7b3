// Package events publishes blast lifecycle events to a message broker so
// downstream consumers (billing, dashboards) can react without polling the
// audit log.
package events

import (
	"time"

	"github.com/google/uuid"
)

const TypeBlastCompleted = "blast.completed"

type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Envelope struct {
	Meta Meta   `json:"meta"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BlastCompleted describes the terminal outcome of one live send request.
type BlastCompleted struct {
	Area          string  `json:"area"`
	Channel       string  `json:"channel"`
	Backend       string  `json:"backend"`
	Count         int     `json:"count"`
	Sent          int     `json:"sent"`
	Failed        int     `json:"failed"`
	Fingerprint   string  `json:"fingerprint"`
	EstimatedCost float64 `json:"estimated_cost"`
	Currency      string  `json:"currency"`
}

// NewBlastCompleted wraps the payload in an envelope. The blast
// fingerprint doubles as the correlation id so consumers can join the
// event against audit rows.
func NewBlastCompleted(data BlastCompleted) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: data.Fingerprint,
			OccurredAt:    time.Now().UTC(),
		},
		Type: TypeBlastCompleted,
		Data: data,
	}
}
