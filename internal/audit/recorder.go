package audit

import (
	"context"
	"time"

	"studyhub.org/internal/ids"
	"studyhub.org/internal/obs"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Sink is the durable storage the recorder appends to. ReadFiltered
// returns one page sorted newest-first plus the total match count
// before pagination.
type Sink interface {
	Append(ctx context.Context, event Event) error
	ReadFiltered(ctx context.Context, filter Filter) ([]Event, int, error)
}

// Purger is implemented by sinks that can discard events older than a
// cutoff. Retention cleanup is optional.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

// Recorder fills in event bookkeeping and appends to the sink.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder over the sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one event. It assigns the id, timestamp and severity
// and never returns an error: a broken audit sink must not fail the
// authentication path, so failures go to the diagnostic log and a
// counter instead. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.sink == nil {
		return
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	event.Severity = SeverityFor(event.Action)

	if err := r.sink.Append(ctx, event); err != nil {
		obs.CountAuditAppendFailure()
		obs.LogRequest(map[string]any{
			"ts":     r.now().UTC().Format(time.RFC3339Nano),
			"level":  "error",
			"msg":    "audit append failed",
			"action": string(event.Action),
			"error":  err.Error(),
		})
	}
}

// Query returns one page of matching events, newest first, along with
// the total match count and whether more pages follow.
func (r *Recorder) Query(ctx context.Context, filter Filter) ([]Event, int, bool, error) {
	if r == nil || r.sink == nil {
		return nil, 0, false, nil
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	events, total, err := r.sink.ReadFiltered(ctx, filter)
	if err != nil {
		return nil, 0, false, err
	}
	hasMore := filter.Offset+len(events) < total
	return events, total, hasMore, nil
}

// PurgeOlderThan removes events past the retention window when the
// sink supports it. Returns the number of events discarded.
func (r *Recorder) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	if r == nil || r.sink == nil {
		return 0, nil
	}
	p, ok := r.sink.(Purger)
	if !ok {
		return 0, nil
	}
	return p.Purge(ctx, r.now().UTC().Add(-age))
}
