package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/domain"
)

// Sink delivers one batch of audit records to the control plane.
type Sink interface {
	SubmitLogs(ctx context.Context, records []domain.AuditRecord) error
}

// RetryAfterError carries a server-requested delay, typically from a 429
// Retry-After header. The worker waits at least After before retrying.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 5 * time.Second
	DefaultQueueSize     = 256

	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// Options tune the delivery worker. Zero values fall back to defaults.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
}

// Ledger owns the WAL and the background delivery worker. Enqueue appends
// to the WAL before queuing, so a crash between the two loses nothing.
type Ledger struct {
	wal     *WAL
	sink    Sink
	opts    Options
	metrics *Metrics
	queue   chan domain.AuditRecord
	done    chan struct{}
}

func New(wal *WAL, sink Sink, opts Options, metrics *Metrics) *Ledger {
	opts.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Ledger{
		wal:     wal,
		sink:    sink,
		opts:    opts,
		metrics: metrics,
		queue:   make(chan domain.AuditRecord, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

// Enqueue durably records rec and hands it to the delivery worker. The
// WAL write happens first; once it succeeds the record cannot be lost.
func (l *Ledger) Enqueue(ctx context.Context, rec domain.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := l.wal.Append(rec); err != nil {
		return fmt.Errorf("ledger.Enqueue: %w", err)
	}
	l.metrics.RecordsEnqueued.Inc()

	select {
	case l.queue <- rec:
		l.metrics.QueueFill.Set(float64(len(l.queue)))
		return nil
	case <-ctx.Done():
		// Already in the WAL; it will be replayed on the next start.
		return ctx.Err()
	}
}

// Run replays unacknowledged WAL records, then batches queued records by
// count or flush interval, whichever fires first. It returns when ctx is
// cancelled; anything undelivered stays in the WAL.
func (l *Ledger) Run(ctx context.Context) {
	defer close(l.done)

	batch := l.wal.Pending()
	if n := len(batch); n > 0 {
		l.metrics.RecordsReplayed.Add(float64(n))
		log.Info().Int("records", n).Msg("replaying audit records from write-ahead log")
	}

	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	for {
		if len(batch) >= l.opts.BatchSize {
			batch = l.flush(ctx, batch)
			ticker.Reset(l.opts.FlushInterval)
		}

		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				// Best effort on shutdown; the WAL covers a failure here.
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				l.deliver(flushCtx, batch)
				cancel()
			}
			return
		case rec := <-l.queue:
			batch = append(batch, rec)
			l.metrics.QueueFill.Set(float64(len(l.queue)))
		case <-ticker.C:
			if len(batch) > 0 {
				batch = l.flush(ctx, batch)
			}
		}
	}
}

// Done is closed when Run has returned.
func (l *Ledger) Done() <-chan struct{} { return l.done }

// flush retries delivery until it succeeds or ctx is cancelled. On
// success the records are acknowledged in the WAL and the batch resets.
func (l *Ledger) flush(ctx context.Context, batch []domain.AuditRecord) []domain.AuditRecord {
	if l.deliver(ctx, batch) {
		return batch[:0]
	}
	return batch
}

func (l *Ledger) deliver(ctx context.Context, batch []domain.AuditRecord) bool {
	for attempt := 0; ; attempt++ {
		err := l.sink.SubmitLogs(ctx, batch)
		if err == nil {
			ids := make([]uuid.UUID, len(batch))
			for i, rec := range batch {
				ids[i] = rec.ID
			}
			if ackErr := l.wal.Ack(ids); ackErr != nil {
				log.Error().Err(ackErr).Msg("audit WAL ack failed, records may be redelivered")
			}
			l.metrics.BatchesDelivered.Inc()
			return true
		}

		l.metrics.DeliveryFailures.Inc()
		delay := backoffDelay(attempt, err)
		log.Warn().Err(err).Int("records", len(batch)).Dur("retry_in", delay).
			Msg("audit batch delivery failed")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

// backoffDelay is exponential with jitter, capped at maxBackoff. A
// server-provided Retry-After wins when it is longer.
func backoffDelay(attempt int, err error) time.Duration {
	delay := baseBackoff << min(attempt, 5)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	delay += time.Duration(rand.Int63n(int64(delay) / 2))
	if delay > maxBackoff {
		delay = maxBackoff
	}

	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.After > delay {
		delay = ra.After
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return delay
}
