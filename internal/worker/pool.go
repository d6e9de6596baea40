package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"censord/internal/domain"
	"censord/internal/engine"
	"censord/internal/queue"
)

// DefaultCount is the worker pool size when none is configured.
const DefaultCount = 2

// Pool runs a fixed set of worker loops, each claiming one job at a time from
// the queue and invoking the censoring engine. Bounding the pool bounds
// concurrent inference cost independent of inbound request rate.
type Pool struct {
	queue       *queue.Queue
	engine      engine.Engine
	count       int
	completions chan domain.CompletionEvent
	onProgress  func(id, message string)
	logger      zerolog.Logger
	wg          sync.WaitGroup
}

// Options configures a Pool.
type Options struct {
	Queue  *queue.Queue
	Engine engine.Engine
	Count  int
	// OnProgress, when set, receives best-effort progress notices ahead of
	// the final completion event. Delivery is not guaranteed.
	OnProgress func(id, message string)
	Logger     zerolog.Logger
}

// NewPool builds a pool; Start launches it.
func NewPool(opts Options) *Pool {
	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}
	return &Pool{
		queue:       opts.Queue,
		engine:      opts.Engine,
		count:       count,
		completions: make(chan domain.CompletionEvent, count*4),
		onProgress:  opts.OnProgress,
		logger:      opts.Logger,
	}
}

// Completions is the stream of terminal events, one per accepted job. It is
// closed after Stop once every in-flight job has produced its event.
func (p *Pool) Completions() <-chan domain.CompletionEvent {
	return p.completions
}

// Start launches the worker loops. ctx bounds individual engine invocations;
// shutdown is driven by closing the queue, not by ctx.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop closes the queue, waits for workers to finish their claimed jobs, and
// then closes the completion stream.
func (p *Pool) Stop() {
	p.queue.Close()
	p.wg.Wait()
	close(p.completions)
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker", id).Logger()
	log.Info().Msg("worker: started")

	for {
		job, ok := p.queue.Dequeue()
		if !ok {
			log.Info().Msg("worker: stopped")
			return
		}

		log.Info().Str("job_id", job.ID).Msg("worker: picked job")
		if p.onProgress != nil {
			p.onProgress(job.ID, "processing")
		}

		ev := p.process(ctx, job)
		if ev.Failed() {
			log.Warn().Str("job_id", job.ID).Str("error", ev.Err).Msg("worker: job failed")
		} else {
			log.Info().Str("job_id", job.ID).Msg("worker: job completed")
		}

		// The id stays reserved until the notification stage has routed the
		// event; releasing here would let a resubmission race in and receive
		// this event instead of its own.
		p.completions <- ev
	}
}

// process isolates one engine invocation. Engine errors and panics are mapped
// to error-bearing completion events; a single job's failure never terminates
// a worker loop.
func (p *Pool) process(ctx context.Context, job *domain.Job) (ev domain.CompletionEvent) {
	ev = domain.CompletionEvent{ID: job.ID}
	defer func() {
		if r := recover(); r != nil {
			ev.ResultImage = nil
			ev.Err = fmt.Sprintf("engine panic: %v", r)
		}
		ev.CompletedAt = time.Now()
	}()

	result, err := p.engine.Process(ctx, job)
	if err != nil {
		ev.Err = err.Error()
		return ev
	}
	ev.ResultImage = result
	return ev
}
