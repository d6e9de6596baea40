package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"censord/internal/domain"
)

func testJob(id string) *domain.Job {
	return &domain.Job{
		ID:       id,
		ImageURL: "https://img.example/" + id + ".png",
		Options:  map[string]domain.CensorOption{"exposed": {Method: "pixelate", Level: 8}},
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := New(0, zerolog.Nop())

	tests := []struct {
		name    string
		job     *domain.Job
		wantErr error
	}{
		{name: "missing id", job: &domain.Job{ImageURL: "https://x/y.png"}, wantErr: domain.ErrInvalidJob},
		{name: "no image reference", job: &domain.Job{ID: "a"}, wantErr: domain.ErrInvalidJob},
		{name: "inline only is enough", job: &domain.Job{ID: "b", ImageDataURL: "data:image/png;base64,xx"}, wantErr: nil},
		{name: "url only is enough", job: testJob("c"), wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := q.Enqueue(tc.job); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Enqueue() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestDuplicateRejectedUntilReleased(t *testing.T) {
	q := New(0, zerolog.Nop())

	if err := q.Enqueue(testJob("dup")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(testJob("dup")); !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("second enqueue = %v, want ErrDuplicateJob", err)
	}

	// Claimed but not released: still a duplicate.
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("dequeue failed")
	}
	if err := q.Enqueue(testJob("dup")); !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("enqueue while in flight = %v, want ErrDuplicateJob", err)
	}

	q.Release("dup")
	if err := q.Enqueue(testJob("dup")); err != nil {
		t.Fatalf("enqueue after release: %v", err)
	}
}

func TestDequeueFIFO(t *testing.T) {
	q := New(0, zerolog.Nop())
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(testJob(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		job, ok := q.Dequeue()
		if !ok || job.ID != want {
			t.Fatalf("Dequeue() = %v/%v, want %s", job, ok, want)
		}
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(0, zerolog.Nop())

	got := make(chan string, 1)
	go func() {
		job, ok := q.Dequeue()
		if ok {
			got <- job.ID
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue(testJob("late")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case id := <-got:
		if id != "late" {
			t.Fatalf("dequeued %q, want %q", id, "late")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestCancelRemovesOnlyPending(t *testing.T) {
	q := New(0, zerolog.Nop())
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(testJob(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	// Claim "a" so only b and c are still pending.
	job, ok := q.Dequeue()
	if !ok || job.ID != "a" {
		t.Fatalf("dequeue = %v/%v, want a", job, ok)
	}

	removed := q.Cancel([]string{"a", "b", "missing"})
	if len(removed) != 1 || removed[0] != "b" {
		t.Fatalf("Cancel() removed %v, want [b]", removed)
	}
	if got := q.Size(); got != 1 {
		t.Fatalf("Size() = %d, want 1", got)
	}

	// Cancelled pending id can be resubmitted straight away.
	if err := q.Enqueue(testJob("b")); err != nil {
		t.Fatalf("resubmit cancelled id: %v", err)
	}
}

func TestCancelNoMatchesIsNoop(t *testing.T) {
	q := New(0, zerolog.Nop())
	if removed := q.Cancel([]string{"ghost"}); removed != nil {
		t.Fatalf("Cancel() = %v, want nil", removed)
	}
	if removed := q.Cancel(nil); removed != nil {
		t.Fatalf("Cancel(nil) = %v, want nil", removed)
	}
}

func TestBoundedQueueRejectsWhenFull(t *testing.T) {
	q := New(2, zerolog.Nop())
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(testJob(fmt.Sprintf("j%d", i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := q.Enqueue(testJob("overflow")); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("Enqueue() = %v, want ErrQueueFull", err)
	}

	// Draining one slot readmits.
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("dequeue failed")
	}
	if err := q.Enqueue(testJob("overflow")); err != nil {
		t.Fatalf("enqueue after drain: %v", err)
	}
}

func TestCloseWakesBlockedDequeuers(t *testing.T) {
	q := New(0, zerolog.Nop())

	done := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, ok := q.Dequeue()
			done <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	for i := 0; i < 3; i++ {
		select {
		case ok := <-done:
			if ok {
				t.Fatal("Dequeue() = true after Close with empty queue")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("dequeuer not woken by Close")
		}
	}

	if err := q.Enqueue(testJob("late")); !errors.Is(err, domain.ErrQueueClosed) {
		t.Fatalf("Enqueue() after close = %v, want ErrQueueClosed", err)
	}
}

func TestConcurrentEnqueueDequeueCancel(t *testing.T) {
	q := New(0, zerolog.Nop())

	const n = 200
	var wg sync.WaitGroup
	claimed := make(chan string, n)

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := q.Dequeue()
				if !ok {
					return
				}
				claimed <- job.ID
				q.Release(job.ID)
			}
		}()
	}

	var cancelled int
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		if err := q.Enqueue(testJob(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		if i%10 == 0 {
			cancelled += len(q.Cancel([]string{id}))
		}
	}

	// Let workers drain, then shut down.
	for q.Size() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	q.Close()
	wg.Wait()
	close(claimed)

	seen := make(map[string]int)
	for id := range claimed {
		seen[id]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
	if len(seen)+cancelled != n {
		t.Fatalf("claimed %d + cancelled %d, want %d total", len(seen), cancelled, n)
	}
}
