// Package eventlog provides the durable, totally ordered event log that all
// mutating state flows through. In-memory state elsewhere in the brain is a
// projection of this log.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Subjects for every event class the brain appends.
const (
	SubjectIntentReceived    = "evt.intent.received"
	SubjectRiskDecision      = "evt.risk.decision"
	SubjectAllocationUpdated = "evt.allocation.updated"
	SubjectExecutionFill     = "evt.execution.fill"
	SubjectTreasurySweep     = "evt.treasury.sweep"
	SubjectBreakerTrip       = "evt.breaker.trip"
	SubjectBreakerReset      = "evt.breaker.reset"
	SubjectConfigOverride    = "evt.config.override"
)

// ErrClosed is returned when appending after shutdown.
var ErrClosed = errors.New("eventlog: store closed")

// Entry is one append-only record. IDs are assigned by the store and are
// strictly increasing; they define the system's global total order.
type Entry struct {
	ID        int64           `json:"id" db:"id"`
	Timestamp time.Time       `json:"timestamp" db:"ts"`
	Subject   string          `json:"subject" db:"subject"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
}

// Decode unmarshals the payload into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Store is the durable event log contract. Append assigns the next id;
// StreamFrom returns up to limit entries with id >= from in ascending order.
type Store interface {
	Append(ctx context.Context, subject string, payload any) (int64, error)
	StreamFrom(ctx context.Context, from int64, limit int) ([]Entry, error)
	LastID(ctx context.Context) (int64, error)
	Close() error
}
