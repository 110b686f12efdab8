package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lysyi3m/feed-fetcher/internal/database"
	"github.com/lysyi3m/feed-fetcher/internal/metrics"
)

var _ SchedulerInterface = (*Scheduler)(nil)

type Options struct {
	WorkerCount  int
	QueueSize    int
	PollInterval time.Duration
}

// Stats is a point-in-time view of the scheduler counters.
type Stats struct {
	Workers             int   `json:"workers"`
	QueueDepth          int   `json:"queue_depth"`
	QueueCapacity       int   `json:"queue_capacity"`
	Dispatched          int64 `json:"dispatched"`
	RescheduleConflicts int64 `json:"reschedule_conflicts"`
	Delivered           int64 `json:"delivered"`
	Terminated          int64 `json:"terminated"`
	Failed              int64 `json:"failed"`
	Abandoned           int64 `json:"abandoned"`
	Panics              int64 `json:"panics"`
}

type counters struct {
	dispatched atomic.Int64
	conflicts  atomic.Int64
	delivered  atomic.Int64
	terminated atomic.Int64
	failed     atomic.Int64
	abandoned  atomic.Int64
	panics     atomic.Int64
}

// Scheduler runs the producer loop and the worker pool. The producer claims
// due feeds by rescheduling them before pushing work onto a bounded queue.
type Scheduler struct {
	store        database.Store
	processor    Processor
	pollInterval time.Duration
	workerCount  int
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	taskQueue    chan WorkItem
	counters     counters
	now          func() time.Time
}

func NewScheduler(store database.Store, processor Processor, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:        store,
		processor:    processor,
		pollInterval: opts.PollInterval,
		workerCount:  opts.WorkerCount,
		ctx:          ctx,
		cancel:       cancel,
		taskQueue:    make(chan WorkItem, opts.QueueSize),
		now:          time.Now,
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			if _, err := s.dispatchDue(s.ctx); err != nil && s.ctx.Err() == nil {
				slog.Warn("Scheduler pass aborted", "error", err)
			}

			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	slog.Debug("Scheduler started", "workers", s.workerCount, "queue_size", cap(s.taskQueue), "poll_interval", s.pollInterval)
}

// Stop cancels the producer and workers and waits for them to return.
// Work items still queued are dropped; their feeds were already rescheduled.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	slog.Debug("Scheduler stopped", "dropped", len(s.taskQueue))
}

// EnqueueTask blocks until the queue has room, ctx is done or the scheduler
// is stopped.
func (s *Scheduler) EnqueueTask(ctx context.Context, item WorkItem) error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("scheduler stopped: %w", err)
	}

	select {
	case s.taskQueue <- item:
		metrics.QueueDepth.Set(float64(len(s.taskQueue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("scheduler stopped: %w", s.ctx.Err())
	}
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Workers:             s.workerCount,
		QueueDepth:          len(s.taskQueue),
		QueueCapacity:       cap(s.taskQueue),
		Dispatched:          s.counters.dispatched.Load(),
		RescheduleConflicts: s.counters.conflicts.Load(),
		Delivered:           s.counters.delivered.Load(),
		Terminated:          s.counters.terminated.Load(),
		Failed:              s.counters.failed.Load(),
		Abandoned:           s.counters.abandoned.Load(),
		Panics:              s.counters.panics.Load(),
	}
}

// dispatchDue runs one producer pass and returns how many feeds it enqueued.
// A store error aborts the rest of the pass.
func (s *Scheduler) dispatchDue(ctx context.Context) (int, error) {
	now := s.now()

	feeds, err := s.store.ListDueFeeds(ctx, now)
	if err != nil {
		metrics.RecordError("list_due_feeds")
		return 0, err
	}
	if len(feeds) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, feed := range feeds {
		won, err := s.store.Reschedule(ctx, feed, now.Add(feed.RefreshInterval))
		if err != nil {
			metrics.RecordError("reschedule")
			return dispatched, err
		}
		if !won {
			s.counters.conflicts.Add(1)
			metrics.RescheduleConflictsTotal.Inc()
			slog.Debug("Feed claimed elsewhere, skipping", "feed_id", feed.ID)
			continue
		}

		if err := s.EnqueueTask(ctx, NewWorkItem(feed, now)); err != nil {
			return dispatched, err
		}
		dispatched++
		s.counters.dispatched.Add(1)
		metrics.RecordDispatch("scheduler")
	}

	slog.Debug("Scheduler pass complete", "due", len(feeds), "dispatched", dispatched)
	return dispatched, nil
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case item := <-s.taskQueue:
			metrics.QueueDepth.Set(float64(len(s.taskQueue)))
			s.executeTask(id, item)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			s.counters.panics.Add(1)
			metrics.RecordError("panic")
			slog.Error("Worker recovered from panic",
				"worker_id", workerID,
				"feed_id", item.FeedID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	result, err := s.processor.Process(s.ctx, item)
	if result.Outcome == "" {
		result.Outcome = OutcomeFailed
	}

	switch result.Outcome {
	case OutcomeDelivered:
		s.counters.delivered.Add(1)
	case OutcomeTerminated:
		s.counters.terminated.Add(1)
	case OutcomeAbandoned:
		s.counters.abandoned.Add(1)
	default:
		s.counters.failed.Add(1)
	}
	metrics.RecordOutcome(string(result.Outcome))

	if err != nil && result.Outcome != OutcomeAbandoned {
		metrics.RecordError("process")
		slog.Error("Worker task execution failed",
			"worker_id", workerID,
			"feed_id", item.FeedID,
			"outcome", result.Outcome,
			"attempts", result.Attempts,
			"error", err)
		return
	}

	slog.Info("Task completed",
		"worker_id", workerID,
		"feed_id", item.FeedID,
		"outcome", result.Outcome,
		"duration", time.Since(start),
		"attempts", result.Attempts,
		"unsupported", result.Unsupported,
		"new", result.Inserted,
		"duplicates", result.Duplicates,
		"skipped", result.Skipped)
}
