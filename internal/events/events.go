// Package events provides the in-process event bus used as the completion
// broadcast sink. Queue state changes are published here; subscribers (CLI
// status output, desktop notifier, tests) consume them. Delivery is
// fire-and-forget: a slow subscriber drops events rather than blocking the
// worker.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudlift/cloudlift-agent/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventUploadQueued    EventType = "upload_queued"    // Record created or coalesced
	EventUploadStarted   EventType = "upload_started"   // Record claimed by an invocation
	EventUploadProgress  EventType = "upload_progress"  // Transfer progress update
	EventUploadSucceeded EventType = "upload_succeeded" // Terminal: succeeded
	EventUploadFailed    EventType = "upload_failed"    // Terminal: failed
	EventUploadCancelled EventType = "upload_cancelled" // Terminal: cancelled
	EventUploadRetried   EventType = "upload_retried"   // failed/cancelled reset to pending

	EventInvocationDone EventType = "invocation_done" // Worker invocation finished
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// UploadEvent represents upload queue state changes.
type UploadEvent struct {
	BaseEvent
	RecordID   string // Upload record id
	AccountID  string
	LocalPath  string
	RemotePath string // Reflects renames; the path the record currently targets
	Size       int64
	Progress   float64 // 0.0 to 1.0, only meaningful for EventUploadProgress
	RemoteID   string  // Server-assigned file id, set on success
	ErrorCode  string  // Error taxonomy code, set on failure
	Err        error   // Underlying cause, set on failure
}

// InvocationEvent summarizes one worker invocation.
type InvocationEvent struct {
	BaseEvent
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers (non-blocking)
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// PublishUpload is a convenience method for publishing upload events.
func (eb *EventBus) PublishUpload(eventType EventType, recordID, accountID, localPath, remotePath string) {
	eb.Publish(&UploadEvent{
		BaseEvent: BaseEvent{
			EventType: eventType,
			Time:      time.Now(),
		},
		RecordID:   recordID,
		AccountID:  accountID,
		LocalPath:  localPath,
		RemotePath: remotePath,
	})
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
