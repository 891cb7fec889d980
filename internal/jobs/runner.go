package jobs

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/telemetry"
)

var jobsProcessedCounter metric.Int64Counter

func init() {
	c, err := telemetry.Meter("jobs").Int64Counter("jobs_processed_total")
	if err == nil {
		jobsProcessedCounter = c
	}
}

// DefaultConcurrency is used for a queue registered without an explicit
// cap.
const DefaultConcurrency = 4

// Runner polls one or more named queues, claiming jobs with
// SELECT ... FOR UPDATE SKIP LOCKED (internal/jobs.Store.claimNext) and
// dispatching them to the Handler registered for their queue — the
// generic form of the teacher's single-purpose session Worker
// (codeready-toolchain-tarsy pkg/queue). Each queue gets its own poller
// goroutine and its own golang.org/x/sync/semaphore.Weighted bounding
// how many of its jobs run concurrently, so one busy queue cannot starve
// another's budget (spec.md §5's per-queue concurrency defaults).
type Runner struct {
	store        *Store
	id           string
	pollInterval time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
	caps     map[string]int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRunner creates a Runner with workerID identifying this process's
// locked_by column (useful for diagnosing stuck jobs across replicas).
func NewRunner(store *Store, workerID string, pollInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Runner{
		store:        store,
		id:           workerID,
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
		caps:         make(map[string]int),
		stopCh:       make(chan struct{}),
	}
}

// Register binds a Handler to a named queue with its own concurrency
// cap (spec.md §5: extract=5, organize=5, reprocess=2). Call before Run.
func (r *Runner) Register(queue string, concurrency int, h Handler) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = h
	r.caps[queue] = concurrency
}

// Run starts one poller per registered queue, each bounded by its own
// concurrency cap, until ctx is cancelled or Stop is called. Run blocks
// until every queue's poller has exited.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.RLock()
	queues := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		queues = append(queues, q)
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range queues {
		queue := queue
		g.Go(func() error {
			r.runQueue(ctx, queue, r.caps[queue])
			return nil
		})
	}
	return g.Wait()
}

// Stop signals every poller to exit after its in-flight jobs finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// runQueue polls a single queue, never holding more than concurrency
// jobs in flight at once: claiming a job acquires one semaphore unit,
// released when that job's process() call returns.
func (r *Runner) runQueue(ctx context.Context, queue string, concurrency int) {
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	log := slog.With("worker", r.id, "queue", queue)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-r.stopCh:
			wg.Wait()
			return
		default:
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return
		}

		job, ok, err := r.store.claimNext(ctx, queue, r.id)
		if err != nil {
			log.Error("claim failed", "error", err)
			sem.Release(1)
			r.sleep(ctx, r.jitteredPollInterval())
			continue
		}
		if !ok {
			sem.Release(1)
			r.sleep(ctx, r.jitteredPollInterval())
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			r.process(ctx, queue, job, log)
		}()
	}
}

func (r *Runner) process(ctx context.Context, queue string, job Job, log *slog.Logger) {
	tracer := telemetry.Tracer("jobs")
	ctx, span := tracer.Start(ctx, "jobs.process")
	defer span.End()

	r.mu.RLock()
	handler := r.handlers[queue]
	r.mu.RUnlock()

	start := time.Now()
	outcome, err := r.runHandler(ctx, handler, job)
	if jobsProcessedCounter != nil {
		jobsProcessedCounter.Add(ctx, 1)
	}
	duration := time.Since(start)

	switch outcome {
	case OutcomeSuccess:
		if cerr := r.store.complete(ctx, job.ID); cerr != nil {
			log.Error("mark complete failed", "job", job.ID, "error", cerr)
		}
	case OutcomeFatal:
		if ferr := r.store.fail(ctx, job.ID, err); ferr != nil {
			log.Error("mark failed failed", "job", job.ID, "error", ferr)
		}
	case OutcomeRetry:
		fallthrough
	default:
		if err != nil && !apierrors.IsRetryable(err) {
			if ferr := r.store.fail(ctx, job.ID, err); ferr != nil {
				log.Error("mark failed failed", "job", job.ID, "error", ferr)
			}
			return
		}
		wait := backoffFor(job.Attempts)
		if rerr := r.store.retry(ctx, job, wait, err); rerr != nil {
			log.Error("reschedule failed", "job", job.ID, "error", rerr)
		}
	}

	log.Info("job processed", "queue", queue, "job", job.ID, "outcome", outcomeName(outcome), "duration", duration)
}

// runHandler invokes handler, recovering a panic as OutcomeRetry so one
// misbehaving handler cannot crash the whole worker pool. The panic's
// error is INTERNAL_ERROR, which is not retryable, so process marks
// that job failed rather than rescheduling it.
func (r *Runner) runHandler(ctx context.Context, handler Handler, job Job) (outcome Outcome, err error) {
	if handler == nil {
		return OutcomeFatal, apierrors.New(apierrors.CodeInternal, "no handler registered for queue "+job.Queue)
	}
	defer func() {
		if p := recover(); p != nil {
			outcome = OutcomeRetry
			err = apierrors.New(apierrors.CodeInternal, "handler panicked")
		}
	}()
	return handler(ctx, job)
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-r.stopCh:
	case <-time.After(d):
	}
}

func (r *Runner) jitteredPollInterval() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(r.pollInterval)))
	return r.pollInterval/2 + jitter/2
}

// backoffFor returns the exponential-backoff-with-jitter delay before
// retrying a job at the given attempt count (spec.md §4.3).
func backoffFor(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.3

	d := b.InitialInterval
	for i := 0; i < attempts; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d > b.MaxInterval {
			d = b.MaxInterval
			break
		}
	}
	return jitter(d, b.RandomizationFactor)
}

func jitter(d time.Duration, factor float64) time.Duration {
	delta := float64(d) * factor
	min := float64(d) - delta
	max := float64(d) + delta
	return time.Duration(min + rand.Float64()*(max-min))
}

func outcomeName(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFatal:
		return "fatal"
	default:
		return "retry"
	}
}
