// Package event implements the EventBus: an in-memory, per-task_id fan-out
// of buffered channels with visibility-level filtering. Pure in-process
// pub/sub — no external transport or persistence.
package event

import (
	"sync"
	"time"
)

// Visibility is the subscriber-declared level; the bus delivers a given
// event to a subscriber iff the event's own visibility is at or below
// the subscriber's declared level, per the ordering SUMMARY < DETAIL < FULL.
type Visibility int

const (
	Summary Visibility = iota
	Detail
	Full
)

// Kind discriminates the four event shapes the core emits.
type Kind string

const (
	KindStatus  Kind = "status"
	KindMessage Kind = "message"
	KindError   Kind = "error"
	KindDone    Kind = "done"
)

// State is a task's lifecycle stage, carried on StatusEvent.
type State string

const (
	StateWorking   State = "WORKING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
)

// MessagePart is one chunk of a MessageEvent's content.
type MessagePart struct {
	Kind    string // "text" | "json"
	Content string
}

// Event is the single envelope type carried on the bus; only the fields
// relevant to Kind are populated, mirroring chain.ReasoningStep's
// struct-of-variants shape.
type Event struct {
	TaskID     string
	Kind       Kind
	Visibility Visibility
	Timestamp  time.Time

	// status
	State   State
	Message string

	// message
	Parts []MessagePart

	// error
	ErrorKind   string
	Recoverable bool
	Hint        string

	// done
	FinalState State
}

// Bus is a per-process, in-memory event fan-out. Each task_id gets its
// own set of subscriber channels; events for different task_ids never
// interleave or block each other.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]*subscription
}

type subscription struct {
	ch         chan Event
	visibility Visibility
	lossless   bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]*subscription)}
}

// bufferSize is the bounded channel capacity backing every subscription.
// SUMMARY subscribers drop the newest event on overflow (the buffer holds
// what's already queued); DETAIL/FULL subscribers are assumed to consume
// at rate, so Publish blocks briefly rather than drop for them.
const bufferSize = 64

// Subscribe registers a new subscriber for taskID at the given visibility
// and returns a receive-only channel of events. Callers must drain the
// channel until Publish sends a KindDone event, then call Unsubscribe.
func (b *Bus) Subscribe(taskID string, visibility Visibility) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		ch:         make(chan Event, bufferSize),
		visibility: visibility,
		lossless:   visibility != Summary,
	}
	b.subscribers[taskID] = append(b.subscribers[taskID], sub)
	return sub.ch
}

// Unsubscribe removes and closes a previously subscribed channel. It is
// a no-op if ch is not currently registered for taskID.
func (b *Bus) Unsubscribe(taskID string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[taskID]
	for i, s := range subs {
		if (<-chan Event)(s.ch) == ch {
			close(s.ch)
			b.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every subscriber of evt.TaskID whose declared
// visibility is at or above evt.Visibility. Lossless subscribers
// (DETAIL/FULL) block on a full buffer; lossy SUMMARY subscribers drop
// the newest event rather than block the driver.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	subs := append([]*subscription(nil), b.subscribers[evt.TaskID]...)
	b.mu.Unlock()

	for _, s := range subs {
		if evt.Visibility > s.visibility {
			continue
		}
		if s.lossless {
			s.ch <- evt
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// buffer full: drop-newest policy for SUMMARY subscribers.
		}
	}
}

// CloseTask closes and removes every subscription for taskID, called
// once the driver has emitted the task's DoneEvent.
func (b *Bus) CloseTask(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers[taskID] {
		close(s.ch)
	}
	delete(b.subscribers, taskID)
}
