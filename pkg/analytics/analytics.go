// Package analytics is an append-only ClickHouse sink for evaluation
// events, recording the flag_evaluations table spec.md §6 names. Grounded
// on the teacher's cmd/event-ingestor/internal/storage/event_storage.go
// (ClickHouse batch-insert shape), trimmed from its exposure/metric-event
// pair down to the single flag_evaluations row this platform's spec
// defines; the experiment/cohort/funnel query surface that repository
// also carried belongs to a multi-tenant experimentation product this
// spec does not describe (see DESIGN.md).
package analytics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one recorded evaluation outcome.
type Event struct {
	ID          uuid.UUID
	FlagKey     string
	Environment string
	VariantKey  string
	Reason      string
	EvaluatedAt time.Time
}

// flushInterval and batchSize bound how long an event can sit in the
// buffer before being written, and how large one INSERT batch grows.
const (
	flushInterval = 2 * time.Second
	batchSize     = 500
	bufferCap     = 4096
)

// Recorder batches evaluation events and flushes them to ClickHouse on a
// timer or when the batch fills, whichever comes first. Recording must
// never block or fail the evaluation request that produced the event
// (spec.md §4.5 step 4's fire-and-forget principle applies here too).
type Recorder struct {
	conn   clickhouse.Conn
	logger zerolog.Logger
	events chan Event
	done   chan struct{}
}

// NewRecorder wires a Recorder over an already-connected ClickHouse
// connection and starts its background flush loop. A nil conn produces a
// Recorder whose Record is a no-op, so the evaluation service can run
// without ClickHouse configured in development.
func NewRecorder(conn clickhouse.Conn, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		conn:   conn,
		logger: logger.With().Str("component", "analytics").Logger(),
		events: make(chan Event, bufferCap),
		done:   make(chan struct{}),
	}
	if conn != nil {
		go r.run()
	}
	return r
}

// Record enqueues an event for batched persistence. If the buffer is
// full, the event is dropped and logged rather than blocking the caller.
func (r *Recorder) Record(evt Event) {
	if r.conn == nil {
		return
	}
	select {
	case r.events <- evt:
	default:
		r.logger.Warn().Str("flag", evt.FlagKey).Msg("analytics buffer full, dropping event")
	}
}

func (r *Recorder) run() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, batchSize)
	for {
		select {
		case evt := <-r.events:
			batch = append(batch, evt)
			if len(batch) >= batchSize {
				batch = r.flush(batch)
			}
		case <-ticker.C:
			batch = r.flush(batch)
		case <-r.done:
			for {
				select {
				case evt := <-r.events:
					batch = append(batch, evt)
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.insert(ctx, batch); err != nil {
		r.logger.Warn().Err(err).Int("count", len(batch)).Msg("failed to flush evaluation events")
	}
	return batch[:0]
}

func (r *Recorder) insert(ctx context.Context, batch []Event) error {
	b, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO flag_evaluations (id, flag_key, environment, variant_key, reason, evaluated_at)
	`)
	if err != nil {
		return err
	}
	for _, evt := range batch {
		if err := b.Append(evt.ID, evt.FlagKey, evt.Environment, evt.VariantKey, evt.Reason, evt.EvaluatedAt); err != nil {
			return err
		}
	}
	return b.Send()
}

// Close stops the background flush loop after draining the current
// buffer. Safe to call on a Recorder built with a nil connection.
func (r *Recorder) Close() {
	if r.conn == nil {
		return
	}
	close(r.done)
}
