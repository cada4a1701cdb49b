package events

import (
	"sync"
	"testing"
	"time"
)

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(10)
	n.Publish(Event{Type: SessionOpened, SessionID: "a-1", AppName: "a"})
}

func TestNotifier_SubscribeReceivesEvent(t *testing.T) {
	n := NewNotifier(10)
	sub := n.Subscribe()

	n.Publish(Event{Type: LogAppended, SessionID: "a-1", AppName: "a", Level: "CRITICAL"})

	select {
	case ev := <-sub.Ch:
		if ev.Type != LogAppended || ev.Level != "CRITICAL" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestNotifier_FilterByAppPrefix(t *testing.T) {
	n := NewNotifier(10)
	sub := n.Subscribe("sivep")

	n.Publish(Event{Type: SessionOpened, SessionID: "x-1", AppName: "infodengue"})
	n.Publish(Event{Type: SessionOpened, SessionID: "s-1", AppName: "sivep-extractor"})

	select {
	case ev := <-sub.Ch:
		if ev.SessionID != "s-1" {
			t.Fatalf("expected s-1, got %s", ev.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive matching event")
	}

	select {
	case ev := <-sub.Ch:
		t.Fatalf("received unexpected event: %+v", ev)
	default:
	}
}

func TestNotifier_FullChannelDropsEvent(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()

	n.Publish(Event{Type: SessionOpened, SessionID: "first"})

	done := make(chan struct{})
	go func() {
		n.Publish(Event{Type: SessionOpened, SessionID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if ev := <-sub.Ch; ev.SessionID != "first" {
		t.Fatalf("expected first, got %s", ev.SessionID)
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()
	if n.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n.Subscribers())
	}

	n.Unsubscribe(sub.ID)
	n.Unsubscribe(sub.ID)

	if _, ok := <-sub.Ch; ok {
		t.Fatal("channel should be closed")
	}
	if n.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n.Subscribers())
	}
	n.Publish(Event{Type: SessionOpened})
}

func TestNotifier_SendAfterUnsubscribe(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()

	// Publish loaded sub from the map, then Unsubscribe closed it.
	n.Unsubscribe(sub.ID)
	sub.send(Event{Type: LogAppended, SessionID: "late"})

	if _, ok := <-sub.Ch; ok {
		t.Fatal("closed subscriber received an event")
	}
}

func TestNotifier_ConcurrentPublishUnsubscribe(t *testing.T) {
	n := NewNotifier(4)
	stop := make(chan struct{})

	var publishers sync.WaitGroup
	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					n.Publish(Event{Type: LogAppended, SessionID: "a-1", AppName: "a"})
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		sub := n.Subscribe()
		n.Unsubscribe(sub.ID)
		for range sub.Ch {
		}
	}
	close(stop)
	publishers.Wait()

	if n.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n.Subscribers())
	}
}
