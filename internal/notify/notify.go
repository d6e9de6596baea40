package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"censord/internal/domain"
)

// Sink receives the outcome of jobs it was bound to. Realtime sessions and
// synchronous waiters both implement it.
type Sink interface {
	// Deliver hands over the terminal event for a bound job. Called at most
	// once per job id.
	Deliver(ev domain.CompletionEvent)
	// Progress is a best-effort, delivery-not-guaranteed notice ahead of the
	// final result.
	Progress(id, message string)
}

// Recorder persists terminal events. Optional; a nil Recorder disables it.
type Recorder interface {
	Record(ctx context.Context, ev domain.CompletionEvent) error
}

// Router owns the job-id-to-sink association populated at submission time,
// plus the cancelled-ids record used to suppress late results of jobs that
// were cancelled after a worker had already claimed them.
type Router struct {
	mu        sync.Mutex
	sinks     map[string]Sink
	cancelled map[string]struct{}
	logger    zerolog.Logger
}

// NewRouter builds an empty router.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		sinks:     make(map[string]Sink),
		cancelled: make(map[string]struct{}),
		logger:    logger,
	}
}

// BindIfAbsent associates a job id with the sink that must receive its
// outcome, unless a binding already exists. It is called before the job is
// enqueued so no completion can race past it, and it reports whether the
// binding was installed: a false return means another submission of the id is
// still live, and the caller must reject without touching the existing route.
func (r *Router) BindIfAbsent(jobID string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[jobID]; exists {
		return false
	}
	r.sinks[jobID] = sink
	return true
}

// Unbind drops the association for ids whose jobs were removed from the queue
// before a worker claimed them; no event will ever arrive for those.
func (r *Router) Unbind(ids ...string) {
	r.mu.Lock()
	for _, id := range ids {
		delete(r.sinks, id)
		delete(r.cancelled, id)
	}
	r.mu.Unlock()
}

// MarkCancelled records ids whose jobs are already claimed by a worker. The
// worker runs to completion; the eventual event is discarded instead of
// delivered. Unknown ids are ignored so the record cannot grow unbounded.
func (r *Router) MarkCancelled(ids ...string) {
	r.mu.Lock()
	for _, id := range ids {
		if _, bound := r.sinks[id]; bound {
			r.cancelled[id] = struct{}{}
		}
	}
	r.mu.Unlock()
}

// Progress forwards a progress notice to the owning sink, if any. Best
// effort: a missing or cancelled binding drops the notice silently.
func (r *Router) Progress(id, message string) {
	r.mu.Lock()
	sink, ok := r.sinks[id]
	_, isCancelled := r.cancelled[id]
	r.mu.Unlock()
	if !ok || isCancelled {
		return
	}
	sink.Progress(id, message)
}

// take resolves and removes the binding for one completed job.
func (r *Router) take(id string) (Sink, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink, bound := r.sinks[id]
	_, wasCancelled := r.cancelled[id]
	delete(r.sinks, id)
	delete(r.cancelled, id)
	return sink, bound, wasCancelled
}

// Stage is the single consumer draining worker completions and routing each
// event to the session that submitted the job.
type Stage struct {
	router   *Router
	recorder Recorder
	release  func(id string)
	logger   zerolog.Logger
	done     chan struct{}
}

// NewStage wires the consumer. recorder may be nil. release, when set, is
// invoked once per event after its route has been resolved; admission control
// hooks it to keep an id reserved until its event can no longer be misrouted
// to a resubmission.
func NewStage(router *Router, recorder Recorder, release func(id string), logger zerolog.Logger) *Stage {
	return &Stage{
		router:   router,
		recorder: recorder,
		release:  release,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Run consumes events until the channel is closed. Delivery failures are
// never fatal: a vanished session means the event is dropped and logged.
func (s *Stage) Run(ctx context.Context, completions <-chan domain.CompletionEvent) {
	defer close(s.done)
	for ev := range completions {
		s.dispatch(ctx, ev)
	}
	s.logger.Info().Msg("notify: completion stream drained")
}

// Wait blocks until Run has returned.
func (s *Stage) Wait() {
	<-s.done
}

func (s *Stage) dispatch(ctx context.Context, ev domain.CompletionEvent) {
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("job_id", ev.ID).Msg("notify: record completion failed")
		}
	}

	sink, bound, wasCancelled := s.router.take(ev.ID)
	switch {
	case wasCancelled:
		s.logger.Info().Str("job_id", ev.ID).Msg("notify: suppressed result of cancelled job")
	case !bound:
		s.logger.Warn().Str("job_id", ev.ID).Msg("notify: no session for completed job, dropping")
	default:
		sink.Deliver(ev)
	}

	// Only now may the id be readmitted: the binding is gone, so a
	// resubmission can never receive this event.
	if s.release != nil {
		s.release(ev.ID)
	}
}
