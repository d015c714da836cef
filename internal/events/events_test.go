package events

import (
	"testing"
	"time"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventUploadSucceeded)

	bus.Publish(&UploadEvent{
		BaseEvent: BaseEvent{
			EventType: EventUploadSucceeded,
			Time:      time.Now(),
		},
		RecordID:   "rec-1",
		AccountID:  "acct1",
		RemotePath: "/Docs/a.bin",
		RemoteID:   "fid-1",
	})

	select {
	case received := <-ch:
		upload, ok := received.(*UploadEvent)
		if !ok {
			t.Fatal("Expected UploadEvent")
		}
		if upload.RecordID != "rec-1" {
			t.Errorf("Expected record 'rec-1', got '%s'", upload.RecordID)
		}
		if upload.RemoteID != "fid-1" {
			t.Errorf("Expected remote id 'fid-1', got '%s'", upload.RemoteID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch1 := bus.Subscribe(EventUploadFailed)
	ch2 := bus.Subscribe(EventUploadFailed)

	bus.PublishUpload(EventUploadFailed, "rec-1", "acct1", "/tmp/a.bin", "/Docs/a.bin")

	received1 := false
	received2 := false

	select {
	case <-ch1:
		received1 = true
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case <-ch2:
		received2 = true
	case <-time.After(100 * time.Millisecond):
	}

	if !received1 || !received2 {
		t.Error("Not all subscribers received the event")
	}
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	queuedCh := bus.Subscribe(EventUploadQueued)
	doneCh := bus.Subscribe(EventInvocationDone)

	bus.PublishUpload(EventUploadQueued, "rec-1", "acct1", "/tmp/a.bin", "/Docs/a.bin")

	select {
	case <-queuedCh:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Error("Queued subscriber didn't receive event")
	}

	select {
	case <-doneCh:
		t.Error("Invocation subscriber received wrong event type")
	case <-time.After(50 * time.Millisecond):
		// Expected - timeout means no event
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	allCh := bus.SubscribeAll()

	bus.PublishUpload(EventUploadQueued, "rec-1", "acct1", "/tmp/a.bin", "/Docs/a.bin")
	bus.Publish(&InvocationEvent{
		BaseEvent: BaseEvent{EventType: EventInvocationDone, Time: time.Now()},
		Processed: 1,
		Succeeded: 1,
	})

	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("SubscribeAll missed event %d", i+1)
		}
	}
}

func TestEventBus_NonBlockingPublish(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	bus.Subscribe(EventUploadProgress)

	// Nobody drains the subscriber; the second publish must not block and
	// must count as dropped.
	bus.PublishUpload(EventUploadProgress, "rec-1", "acct1", "/tmp/a.bin", "/Docs/a.bin")
	bus.PublishUpload(EventUploadProgress, "rec-1", "acct1", "/tmp/a.bin", "/Docs/a.bin")

	if got := bus.GetDroppedEventCount(); got != 1 {
		t.Errorf("dropped count = %d, want 1", got)
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventUploadQueued)
	bus.Close()

	// Must not panic.
	bus.PublishUpload(EventUploadQueued, "rec-1", "acct1", "/tmp/a.bin", "/Docs/a.bin")

	if _, open := <-ch; open {
		t.Error("subscriber channel still open after Close")
	}
}
