package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestAsyncObserverDrainsOnClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		async.RecordEvent(MetricsEvent{Name: EventToolCall, Time: time.Now()})
	}
	if err := async.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if len(mem.Events) != 10 {
		t.Fatalf("expected 10 events after close, got %d", len(mem.Events))
	}
}

func TestAsyncObserverRejectsAfterClose(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 4)
	if err := async.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	async.RecordEvent(MetricsEvent{Name: EventTurnStarted})
	if len(mem.Events) != 0 {
		t.Fatalf("expected no events recorded after close, got %d", len(mem.Events))
	}
}

func TestAsyncObserverRecordRacingCloseDoesNotPanic(t *testing.T) {
	mem := NewMemoryObserver()
	async := NewAsyncObserver(mem, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				async.RecordEvent(MetricsEvent{Name: EventToolCall})
			}
		}()
	}
	if err := async.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	wg.Wait()
	async.RecordEvent(MetricsEvent{Name: EventToolCall})
}
