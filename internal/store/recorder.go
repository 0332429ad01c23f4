package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/gpucep/internal/ir"
)

// DefaultWriteTimeout bounds one Recorder write.
const DefaultWriteTimeout = 5 * time.Second

// Recorder is a result listener that appends every delivered event to the
// store.
//
// Deliver cannot return an error to the engine, so write failures are
// logged and counted; the dispatch that delivered the event is unaffected.
type Recorder struct {
	store   *Store
	timeout time.Duration
	failed  atomic.Int64
}

// NewRecorder creates a Recorder writing to s.
func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s, timeout: DefaultWriteTimeout}
}

// Deliver implements engine.ResultListener.
func (r *Recorder) Deliver(ev *ir.PubPkt) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.WriteEvent(ctx, ev); err != nil {
		r.failed.Add(1)
		slog.Error("record event failed",
			"event_id", ev.ID,
			"lineage", ev.Lineage,
			"error", err,
		)
	}
}

// Failed returns the number of events that could not be written.
func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}
