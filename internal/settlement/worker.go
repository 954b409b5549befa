package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"PariLedger/internal/observability"
)

// JobProcessor is what the worker feeds locked queue items to.
type JobProcessor interface {
	ProcessJob(ctx context.Context, item *QueueItem) (*JobResult, error)
}

// BatchStats tallies one ProcessAll invocation.
type BatchStats struct {
	Processed int
	Succeeded int
	Failed    int
}

// retrySchedule is the fixed backoff ladder; attempts past the end cap at
// the last entry.
var retrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// RetryDelay returns the backoff delay for the given attempt count
// (1-based). Attempt 1 waits 1 minute; attempt 5 and beyond wait 12 hours.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retrySchedule) {
		attempt = len(retrySchedule)
	}
	return retrySchedule[attempt-1]
}

// Worker polls the settlement queue, locking one item at a time and
// feeding it to the processor. Multiple workers (processes or instances)
// may run concurrently against the same queue: exclusion comes from the
// store's atomic conditional update, not from anything in memory.
type Worker struct {
	queue     Queue
	processor JobProcessor
	id        string

	// staleLockAge, when positive, reclaims PROCESSING items whose lock
	// is older than this before each batch. Zero disables reclamation:
	// an item orphaned by a hard crash then stays locked until operator
	// action, matching the original queue behavior.
	staleLockAge time.Duration

	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewWorker builds a worker with an explicit identity. Distinct ids let
// several workers coexist in one process (and in tests).
func NewWorker(queue Queue, processor JobProcessor, workerID string, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		queue:     queue,
		processor: processor,
		id:        workerID,
		log:       log.With().Str("worker_id", workerID).Logger(),
		metrics:   metrics,
		now:       time.Now,
	}
}

// WithStaleLockReclaim enables reclamation of stuck PROCESSING items.
func (w *Worker) WithStaleLockReclaim(age time.Duration) *Worker {
	w.staleLockAge = age
	return w
}

// ProcessAll repeatedly locks and processes queue items until none remain
// eligible or maxItems is reached. It is the batch entry point for a
// scheduled caller, not a long-lived loop.
func (w *Worker) ProcessAll(ctx context.Context, maxItems int) (BatchStats, error) {
	var stats BatchStats

	if w.staleLockAge > 0 {
		n, err := w.queue.ReclaimStale(ctx, w.staleLockAge)
		if err != nil {
			w.log.Error().Err(err).Msg("stale lock reclaim failed")
		} else if n > 0 {
			w.log.Warn().Int("reclaimed", n).Msg("requeued stale PROCESSING items")
			if w.metrics != nil {
				w.metrics.StaleReclaims.Add(float64(n))
			}
		}
	}

	for stats.Processed < maxItems {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		item, err := w.queue.LockNext(ctx, w.id, w.now())
		if err != nil {
			return stats, err
		}
		if item == nil {
			break
		}
		if w.metrics != nil {
			w.metrics.LockedItems.Inc()
		}

		stats.Processed++
		if w.processOne(ctx, item) {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}

	if stats.Processed > 0 {
		w.log.Info().
			Int("processed", stats.Processed).
			Int("succeeded", stats.Succeeded).
			Int("failed", stats.Failed).
			Msg("settlement batch complete")
	}
	return stats, nil
}

// processOne runs a single locked item through the processor and records
// the terminal queue transition. Returns true on success.
func (w *Worker) processOne(ctx context.Context, item *QueueItem) bool {
	log := w.log.With().Int64("item_id", item.ID).Stringer("game_id", item.GameID).Logger()
	start := w.now()

	res, err := w.processor.ProcessJob(ctx, item)
	if w.metrics != nil {
		w.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		attempts := item.Attempts + 1
		next := w.now().Add(RetryDelay(attempts))
		reason := err.Error()
		if errors.Is(err, ErrNotFound) {
			// Possibly replication lag on the game row; retrying is the
			// right call.
			log.Warn().Str("reason", reason).Msg("game not found, will retry")
		} else {
			log.Error().Err(err).Int("attempts", attempts).Time("next_attempt", next).Msg("settlement job failed")
		}
		if mErr := w.queue.MarkFailed(ctx, item.ID, attempts, next, reason); mErr != nil {
			log.Error().Err(mErr).Msg("mark failed errored")
		}
		if w.metrics != nil {
			w.metrics.JobsProcessed.WithLabelValues("failed").Inc()
			w.metrics.QueueRetries.Inc()
		}
		return false
	}

	if err := w.queue.MarkDone(ctx, item.ID); err != nil {
		log.Error().Err(err).Msg("mark done errored")
		return false
	}

	paid, refunded, skipped, failed := res.Counts()
	log.Info().
		Bool("already_settled", res.AlreadySettled).
		Int("markets", len(res.Markets)).
		Int("paid", paid).
		Int("refunded", refunded).
		Int("skipped", skipped).
		Int("trade_failures", failed).
		Msg("settlement job done")
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues("done").Inc()
	}
	return true
}
