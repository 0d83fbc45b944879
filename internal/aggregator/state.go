package aggregator

import (
	"context"
	"time"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/normalizer"
)

// state is the accumulation of one in-flight call. All fields are guarded
// by Aggregator.mu.
type state struct {
	callID string
	merged normalizer.Event

	// ctx is the detached context of the most recent event, used for the
	// fallback flush.
	ctx context.Context

	timer   *time.Timer
	gen     uint64
	dueAt   time.Time
	flushed bool

	events    int
	firstSeen time.Time
	lastSeen  time.Time
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		CallID:        s.callID,
		Event:         s.merged,
		EventCount:    s.events,
		FirstEventAt:  s.firstSeen,
		LastEventAt:   s.lastSeen,
		FallbackDueAt: s.dueAt,
	}
}

// Snapshot is a read-only view of a pending call.
type Snapshot struct {
	CallID        string           `json:"callId"`
	Event         normalizer.Event `json:"event"`
	EventCount    int              `json:"eventCount"`
	FirstEventAt  time.Time        `json:"firstEventAt"`
	LastEventAt   time.Time        `json:"lastEventAt"`
	FallbackDueAt time.Time        `json:"fallbackDueAt"`
}

// Flush is handed to the FlushFunc once per call.
type Flush struct {
	CallID       string
	Event        normalizer.Event
	Reason       string
	EventCount   int
	FirstEventAt time.Time
	LastEventAt  time.Time
}

type FlushFunc func(ctx context.Context, f Flush)

// Outcome describes what Ingest did with an event.
type Outcome string

const (
	OutcomeStarted    Outcome = "started"
	OutcomeMerged     Outcome = "merged"
	OutcomeFlushed    Outcome = "flushed"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeRejected   Outcome = "rejected"
)
