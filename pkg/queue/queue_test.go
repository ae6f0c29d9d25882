package queue_test

import (
	"context"
	"sync"
	"testing"

	"github.com/poltergeist/packer-driver/pkg/queue"
	"github.com/poltergeist/packer-driver/pkg/types"
)

func change(uuid string) types.AssetChange {
	return types.AssetChange{Type: types.AssetChangeAdd, UUID: uuid}
}

func TestChangeQueue_DrainSwapsBuffer(t *testing.T) {
	q := queue.NewChangeQueue()
	q.Push(change("a"), change("b"))

	drained := q.Drain()
	if len(drained) != 2 || drained[0].UUID != "a" || drained[1].UUID != "b" {
		t.Fatalf("unexpected drained changes %v", drained)
	}

	q.Push(change("c"))
	if q.Len() != 1 {
		t.Errorf("expected fresh buffer with 1 change, got %d", q.Len())
	}
	if len(drained) != 2 {
		t.Error("pushing after drain must not alter the drained batch")
	}
	if got := q.Drain(); len(got) != 1 || got[0].UUID != "c" {
		t.Errorf("unexpected second drain %v", got)
	}
	if got := q.Drain(); got != nil {
		t.Errorf("expected nil drain from empty queue, got %v", got)
	}
}

func TestChangeQueue_PushEmpty(t *testing.T) {
	q := queue.NewChangeQueue()
	q.Push()
	if q.Len() != 0 {
		t.Error("expected empty queue")
	}
}

func TestChangeQueue_Snapshot(t *testing.T) {
	q := queue.NewChangeQueue()
	q.Push(change("a"))

	snap := q.Snapshot()
	snap[0].UUID = "mutated"

	if q.Snapshot()[0].UUID != "a" {
		t.Error("snapshot must be a copy")
	}
	if q.Len() != 1 {
		t.Error("snapshot must not drain")
	}
}

func TestChangeQueue_ConcurrentPush(t *testing.T) {
	q := queue.NewChangeQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Push(change("x"))
		}()
	}
	wg.Wait()

	if got := len(q.Drain()); got != 50 {
		t.Errorf("expected 50 changes, got %d", got)
	}
}

func TestTaskQueue(t *testing.T) {
	q := queue.NewTaskQueue()
	var ran []string
	for _, name := range []string{"first", "second"} {
		name := name
		q.Push(queue.Task{Name: name, Run: func(ctx context.Context) error {
			ran = append(ran, name)
			return nil
		}})
	}

	if q.Len() != 2 {
		t.Fatalf("expected 2 tasks, got %d", q.Len())
	}
	for _, task := range q.Drain() {
		if err := task.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Errorf("tasks ran out of order: %v", ran)
	}
	if q.Len() != 0 {
		t.Error("expected empty queue after drain")
	}
}
