package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"censord/internal/domain"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered []domain.CompletionEvent
	progress  []string
}

func (s *recordingSink) Deliver(ev domain.CompletionEvent) {
	s.mu.Lock()
	s.delivered = append(s.delivered, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Progress(id, message string) {
	s.mu.Lock()
	s.progress = append(s.progress, id+":"+message)
	s.mu.Unlock()
}

func (s *recordingSink) events(t *testing.T) []domain.CompletionEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CompletionEvent, len(s.delivered))
	copy(out, s.delivered)
	return out
}

type memRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *memRecorder) Record(_ context.Context, ev domain.CompletionEvent) error {
	r.mu.Lock()
	r.ids = append(r.ids, ev.ID)
	r.mu.Unlock()
	return nil
}

func runStage(router *Router, recorder Recorder) (chan domain.CompletionEvent, *Stage) {
	completions := make(chan domain.CompletionEvent, 8)
	stage := NewStage(router, recorder, nil, zerolog.Nop())
	go stage.Run(context.Background(), completions)
	return completions, stage
}

func TestDeliverToBoundSink(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("j1", sink)

	completions, stage := runStage(router, nil)
	completions <- domain.CompletionEvent{ID: "j1", ResultImage: &domain.ImageData{InlineData: "x"}, CompletedAt: time.Now()}
	close(completions)
	stage.Wait()

	events := sink.events(t)
	if len(events) != 1 || events[0].ID != "j1" {
		t.Fatalf("delivered = %+v, want one event for j1", events)
	}
}

func TestUnboundEventDroppedNotFatal(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("known", sink)

	completions, stage := runStage(router, nil)
	completions <- domain.CompletionEvent{ID: "ghost"}
	completions <- domain.CompletionEvent{ID: "known"}
	close(completions)
	stage.Wait()

	events := sink.events(t)
	if len(events) != 1 || events[0].ID != "known" {
		t.Fatalf("delivered = %+v, want only the known event", events)
	}
}

func TestCancelledResultSuppressed(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("claimed", sink)
	router.MarkCancelled("claimed")
	router.MarkCancelled("unknown") // ignored, not bound

	completions, stage := runStage(router, nil)
	completions <- domain.CompletionEvent{ID: "claimed", ResultImage: &domain.ImageData{InlineData: "late"}}
	close(completions)
	stage.Wait()

	if events := sink.events(t); len(events) != 0 {
		t.Fatalf("delivered = %+v, want suppression", events)
	}

	// Binding is gone afterwards: a second event for the id is a plain drop.
	if _, bound, _ := router.take("claimed"); bound {
		t.Fatal("binding survived suppression")
	}
}

func TestDeliveredAtMostOnce(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("j1", sink)

	completions, stage := runStage(router, nil)
	completions <- domain.CompletionEvent{ID: "j1"}
	completions <- domain.CompletionEvent{ID: "j1"} // must not reach the sink twice
	close(completions)
	stage.Wait()

	if events := sink.events(t); len(events) != 1 {
		t.Fatalf("delivered %d events, want 1", len(events))
	}
}

func TestProgressBestEffort(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("j1", sink)

	router.Progress("j1", "processing")
	router.Progress("nobody", "processing")
	router.MarkCancelled("j1")
	router.Progress("j1", "still going") // suppressed after cancel

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.progress) != 1 || sink.progress[0] != "j1:processing" {
		t.Fatalf("progress = %v, want [j1:processing]", sink.progress)
	}
}

func TestRecorderSeesEveryTerminalEvent(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("kept", sink)
	router.BindIfAbsent("gone", sink)
	router.MarkCancelled("gone")

	rec := &memRecorder{}
	completions, stage := runStage(router, rec)
	completions <- domain.CompletionEvent{ID: "kept"}
	completions <- domain.CompletionEvent{ID: "gone"}
	close(completions)
	stage.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ids) != 2 {
		t.Fatalf("recorded %v, want both events including the suppressed one", rec.ids)
	}
}

func TestBindIfAbsentRejectsLiveID(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	first := &recordingSink{}
	second := &recordingSink{}

	if !router.BindIfAbsent("j1", first) {
		t.Fatal("first bind refused")
	}
	if router.BindIfAbsent("j1", second) {
		t.Fatal("second bind succeeded while the id was live")
	}

	// The original route survives and still receives the event.
	completions, stage := runStage(router, nil)
	completions <- domain.CompletionEvent{ID: "j1"}
	close(completions)
	stage.Wait()

	if events := first.events(t); len(events) != 1 {
		t.Fatalf("original sink got %d events, want 1", len(events))
	}
	if events := second.events(t); len(events) != 0 {
		t.Fatalf("rejected sink got %d events, want 0", len(events))
	}
}

func TestReleaseRunsAfterRouting(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("j1", sink)

	var released []string
	completions := make(chan domain.CompletionEvent, 2)
	stage := NewStage(router, nil, func(id string) {
		if _, bound, _ := router.take(id); bound {
			t.Errorf("id %s still routed at release time", id)
		}
		released = append(released, id)
	}, zerolog.Nop())
	go stage.Run(context.Background(), completions)

	completions <- domain.CompletionEvent{ID: "j1"}
	completions <- domain.CompletionEvent{ID: "ghost"} // unbound events release too
	close(completions)
	stage.Wait()

	if len(released) != 2 || released[0] != "j1" || released[1] != "ghost" {
		t.Fatalf("released = %v, want [j1 ghost]", released)
	}
}

func TestUnbindClearsCancelledRecord(t *testing.T) {
	router := NewRouter(zerolog.Nop())
	sink := &recordingSink{}
	router.BindIfAbsent("j1", sink)
	router.MarkCancelled("j1")
	router.Unbind("j1")

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.sinks) != 0 || len(router.cancelled) != 0 {
		t.Fatalf("router not empty after Unbind: sinks=%d cancelled=%d", len(router.sinks), len(router.cancelled))
	}
}
