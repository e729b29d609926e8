package metrics

import (
	"testing"
	"time"
)

func TestAsyncObserverForwards(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 8)
	async.RecordEvent(MetricsEvent{Name: EventOpen, Time: time.Now()})
	async.RecordEvent(MetricsEvent{Name: EventFinal, Time: time.Now()})

	deadline := time.Now().Add(time.Second)
	for len(mem.Events()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 events, got %d", len(mem.Events()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	async.Close()
	async.RecordEvent(MetricsEvent{Name: EventClose})
	if mem.Count(EventClose) != 0 {
		t.Fatalf("expected no events after close")
	}
}

func TestMultiObserverSkipsNil(t *testing.T) {
	a := NewMemoryObserver()
	b := NewMemoryObserver()
	multi := NewMultiObserver(a, nil, b)
	multi.RecordEvent(MetricsEvent{Name: EventError})
	if a.Count(EventError) != 1 || b.Count(EventError) != 1 {
		t.Fatalf("expected both observers to record the event")
	}
}
