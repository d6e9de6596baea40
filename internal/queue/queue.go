package queue

import (
	"sync"

	"github.com/rs/zerolog"

	"censord/internal/domain"
)

// Queue is the FIFO of accepted-but-undispatched censoring jobs. It also acts
// as the admission gatekeeper: an id already queued or claimed by a worker is
// rejected until its completion event has been produced.
//
// Enqueue, Dequeue, Cancel and Size are mutually exclusive, so a job can never
// be both claimed by a worker and removed by Cancel.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*domain.Job
	inflight map[string]struct{} // ids queued or claimed, cleared by Release
	max      int                 // 0 = unbounded
	closed   bool
	logger   zerolog.Logger
}

// New creates a queue. maxPending bounds the number of undispatched jobs;
// zero disables the bound.
func New(maxPending int, logger zerolog.Logger) *Queue {
	q := &Queue{
		pending:  make([]*domain.Job, 0, 16),
		inflight: make(map[string]struct{}),
		max:      maxPending,
		logger:   logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue validates and appends a job. It returns domain.ErrDuplicateJob when
// the id is already queued or in flight, domain.ErrQueueFull when the pending
// bound is hit, and domain.ErrQueueClosed after Close. The job is discarded on
// every error path.
func (q *Queue) Enqueue(job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.ErrQueueClosed
	}
	if _, exists := q.inflight[job.ID]; exists {
		q.logger.Debug().Str("job_id", job.ID).Msg("queue: duplicate job rejected")
		return domain.ErrDuplicateJob
	}
	if q.max > 0 && len(q.pending) >= q.max {
		q.logger.Warn().Str("job_id", job.ID).Int("pending", len(q.pending)).Msg("queue: admission bound hit")
		return domain.ErrQueueFull
	}

	q.inflight[job.ID] = struct{}{}
	q.pending = append(q.pending, job)
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a job is available or the queue is closed. The second
// return value is false only on shutdown. Claimed jobs stay in the inflight
// set until Release.
func (q *Queue) Dequeue() (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		return nil, false
	}

	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, true
}

// Cancel atomically removes every given id that is still pending and returns
// the ids actually removed. Ids already claimed by a worker, or unknown, are
// left untouched. Removed ids leave the inflight set immediately since no
// completion event will ever be produced for them.
func (q *Queue) Cancel(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []string
	kept := q.pending[:0]
	for _, job := range q.pending {
		if _, ok := want[job.ID]; ok {
			removed = append(removed, job.ID)
			delete(q.inflight, job.ID)
			continue
		}
		kept = append(kept, job)
	}
	q.pending = kept
	if len(removed) > 0 {
		q.logger.Info().Int("removed", len(removed)).Msg("queue: cancelled pending jobs")
	}
	return removed
}

// Release clears an id from the inflight set once its completion event has
// been produced, allowing the id to be resubmitted.
func (q *Queue) Release(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

// Size reports the number of queued, not-yet-claimed jobs.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close wakes all blocked Dequeue callers; they drain the remaining pending
// jobs and then return false. Enqueue fails afterwards.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
