package events

import (
	"testing"
	"time"
)

func TestLogAdd(t *testing.T) {
	l := NewLog(10)
	l.Add(Event{Cycle: 1, Outcome: Reject, Reason: ReasonOccluded})

	got := l.Recent(0)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Cycle != 1 || got[0].Reason != ReasonOccluded || got[0].Committed() {
		t.Errorf("unexpected event: %+v", got[0])
	}
}

func TestLogMaxSize(t *testing.T) {
	l := NewLog(5)
	for i := 0; i < 12; i++ {
		l.Add(Event{Cycle: uint64(i)})
	}

	if l.Len() != 5 {
		t.Fatalf("expected 5 events, got %d", l.Len())
	}
	got := l.Recent(0)
	if got[0].Cycle != 7 || got[4].Cycle != 11 {
		t.Errorf("kept cycles %d..%d, want 7..11", got[0].Cycle, got[4].Cycle)
	}
}

func TestLogRecent(t *testing.T) {
	l := NewLog(10)
	for i := 0; i < 4; i++ {
		l.Add(Event{Cycle: uint64(i)})
	}

	got := l.Recent(2)
	if len(got) != 2 || got[0].Cycle != 2 || got[1].Cycle != 3 {
		t.Errorf("Recent(2) = %+v", got)
	}
	if len(l.Recent(100)) != 4 {
		t.Error("Recent beyond size should return everything")
	}

	// returned slice is a copy
	got[0].Cycle = 99
	if l.Recent(2)[0].Cycle != 2 {
		t.Error("Recent must not alias internal storage")
	}
}

func TestSubscribe(t *testing.T) {
	l := NewLog(10)
	a, cancelA := l.Subscribe(4)
	b, cancelB := l.Subscribe(4)
	defer cancelA()
	defer cancelB()

	go l.Add(Event{Cycle: 7, Outcome: Commit})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			if e.Cycle != 7 || !e.Committed() {
				t.Errorf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestAddNonBlocking(t *testing.T) {
	l := NewLog(10)
	_, cancel := l.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			l.Add(Event{Cycle: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Add blocked on a full subscriber")
	}
	if l.Len() != 5 {
		t.Errorf("expected 5 events stored, got %d", l.Len())
	}
}

func TestUnsubscribe(t *testing.T) {
	l := NewLog(10)
	ch, cancel := l.Subscribe(1)
	if l.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", l.Subscribers())
	}

	cancel()
	cancel()
	if l.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", l.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}

	// no panic sending after cancel
	l.Add(Event{Cycle: 1})
}
