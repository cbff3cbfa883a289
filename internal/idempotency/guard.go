// Package idempotency provides at-most-once admission for inbound
// channel events. Channels redeliver: Telegram retries webhooks until it
// sees a 2xx, users double-tap send buttons. The guard turns redelivery
// into either a replay of the original response or a "still processing"
// acknowledgement, never into a second execution.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a dedupe record is retained. Channel retry
// windows are much shorter; a day covers manual resends too.
const DefaultTTL = 24 * time.Hour

// State is the processing state of an admitted event.
type State string

const (
	// StateProcessing marks an event whose run has not finished.
	StateProcessing State = "processing"

	// StateDone marks an event whose run finished; Response holds the
	// output to replay on duplicates.
	StateDone State = "done"
)

// Record is one dedupe entry.
type Record struct {
	TenantID  uuid.UUID
	Key       string
	State     State
	TraceID   string
	Response  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Admission is the result of Admit. Exactly one delivery of a given key
// observes FirstDelivery; all others receive the prior record.
type Admission struct {
	// FirstDelivery is true when the caller won the claim and must run
	// the event.
	FirstDelivery bool

	// Prior is the existing record for duplicates; nil on first delivery.
	Prior *Record
}

// ErrUnknownKey is returned by Complete for a key that was never admitted
// or whose record expired.
var ErrUnknownKey = errors.New("idempotency: unknown key")

// Guard is the admission gate. Admit must be atomic: under concurrent
// delivery of the same key exactly one caller gets FirstDelivery.
type Guard interface {
	// Admit claims the key for processing, or returns the prior record.
	Admit(ctx context.Context, tenantID uuid.UUID, key string) (*Admission, error)

	// Complete marks the key done and stores the response for replay.
	Complete(ctx context.Context, tenantID uuid.UUID, key, traceID, response string) error

	// Release drops the claim so a redelivery can run the event again.
	// Used when the run itself could not be started.
	Release(ctx context.Context, tenantID uuid.UUID, key string) error
}
