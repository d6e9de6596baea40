package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"censord/internal/domain"
)

type censorRequest struct {
	ID           string                         `json:"id,omitempty"`
	ImageDataURL string                         `json:"imageDataUrl,omitempty"`
	ImageURL     string                         `json:"imageUrl,omitempty"`
	Options      map[string]domain.CensorOption `json:"options"`
}

type censorResponse struct {
	ID          string            `json:"id"`
	ResultImage *domain.ImageData `json:"resultImage,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// syncSink parks the synchronous caller until its job's completion event
// arrives. Progress notices have no receiver on this surface and are dropped.
type syncSink struct {
	done chan domain.CompletionEvent
}

func (s *syncSink) Deliver(ev domain.CompletionEvent) { s.done <- ev }
func (s *syncSink) Progress(id, message string)       {}

// Censor is the blocking submission endpoint for non-realtime clients: the
// job goes through the same validator, queue and worker pool, and the
// response carries the terminal outcome.
func (a *App) Censor(w http.ResponseWriter, r *http.Request) {
	var req censorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	job := &domain.Job{
		ID:           req.ID,
		ImageDataURL: req.ImageDataURL,
		ImageURL:     req.ImageURL,
		Options:      req.Options,
		SubmittedAt:  time.Now(),
	}

	sink := &syncSink{done: make(chan domain.CompletionEvent, 1)}
	// Conditional bind: rejecting a duplicate must leave the live
	// submission's delivery route untouched.
	if !a.Router.BindIfAbsent(job.ID, sink) {
		a.json(w, http.StatusConflict, map[string]string{"error": "duplicate job id"})
		return
	}

	if err := a.Queue.Enqueue(job); err != nil {
		a.Router.Unbind(job.ID)
		switch {
		case errors.Is(err, domain.ErrDuplicateJob):
			a.json(w, http.StatusConflict, map[string]string{"error": "duplicate job id"})
		case errors.Is(err, domain.ErrQueueFull):
			a.json(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		case errors.Is(err, domain.ErrQueueClosed):
			a.json(w, http.StatusServiceUnavailable, map[string]string{"error": "shutting down"})
		default:
			a.json(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}

	select {
	case ev := <-sink.done:
		resp := censorResponse{ID: ev.ID, ResultImage: ev.ResultImage, Error: ev.Err}
		a.json(w, http.StatusOK, resp)
	case <-r.Context().Done():
		// The caller went away; treat it as a cancellation so a queued job
		// is removed and a claimed one has its late result suppressed.
		if removed := a.Queue.Cancel([]string{job.ID}); len(removed) > 0 {
			a.Router.Unbind(job.ID)
		} else {
			a.Router.MarkCancelled(job.ID)
		}
		a.Logger.Info().Str("job_id", job.ID).Msg("http: caller abandoned synchronous job")
	}
}

// CancelJobs mirrors the realtime cancel RPC for synchronous clients. It
// never fails: unknown ids are a no-op.
func (a *App) CancelJobs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		a.json(w, http.StatusOK, map[string]int{"removed": 0})
		return
	}
	removed := a.Queue.Cancel(req.IDs)
	a.Router.Unbind(removed...)
	removedSet := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		removedSet[id] = struct{}{}
	}
	for _, id := range req.IDs {
		if _, ok := removedSet[id]; !ok {
			a.Router.MarkCancelled(id)
		}
	}
	a.json(w, http.StatusOK, map[string]int{"removed": len(removed)})
}
