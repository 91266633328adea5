// Package events carries upload session notifications from the core to observers
// (progress bars, the interactive CLI, JSON snapshot writers).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/chunkup/internal/constants"
)

// EventType names a kind of event.
type EventType string

const (
	EventLog           EventType = "log"
	EventSessionStatus EventType = "session_status" // Session moved between idle/hashing/uploading/...
	EventHashProgress  EventType = "hash_progress"  // Bytes digested so far
	EventChunkProgress EventType = "chunk_progress" // One chunk's progress or status changed
	EventProgress      EventType = "progress"       // Overall session progress changed
	EventError         EventType = "error"
	EventComplete      EventType = "complete"
)

// LogLevel is the severity of a LogEvent.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Event is implemented by every event published on an EventBus.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent carries the fields shared by all events.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// StatusEvent reports a session status transition.
type StatusEvent struct {
	BaseEvent
	SessionID string
	OldStatus string
	NewStatus string
	Error     string // set when NewStatus is "error"
}

// HashProgressEvent reports hashing progress in bytes.
type HashProgressEvent struct {
	BaseEvent
	SessionID string
	Done      int64
	Total     int64
}

// ChunkEvent reports the state of a single chunk.
type ChunkEvent struct {
	BaseEvent
	SessionID string
	Index     int
	Size      int64
	Progress  float64 // 0 to 100
	Status    string
}

// ProgressEvent reports overall session progress.
type ProgressEvent struct {
	BaseEvent
	SessionID string
	Percent   int // 0 to 100, floor of the weighted chunk progress
}

// LogEvent carries a message for observers that show a log pane.
type LogEvent struct {
	BaseEvent
	Level     LogLevel
	Message   string
	SessionID string
	Error     error
}

// ErrorEvent represents a failure that ended a scheduling round.
type ErrorEvent struct {
	BaseEvent
	SessionID string
	Chunk     int // -1 when not tied to a chunk
	Error     error
}

// CompleteEvent is published once every chunk of a session has succeeded.
type CompleteEvent struct {
	BaseEvent
	SessionID string
	Digest    string
	Size      int64
	Duration  time.Duration
}

// EventBus fans events out to subscriber channels. Publishing never blocks:
// an event that does not fit in a subscriber's buffer is dropped for that
// subscriber and counted. A nil *EventBus accepts and discards events.
type EventBus struct {
	mu         sync.RWMutex
	subs       []subscription
	bufferSize int
	closed     bool
	dropped    atomic.Int64
}

type subscription struct {
	ch     chan Event
	filter EventType // "" receives every event
}

// NewEventBus returns a bus whose subscriber channels hold bufferSize events,
// clamped to [1, constants.EventBusMaxBuffer].
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	return &EventBus{bufferSize: min(bufferSize, constants.EventBusMaxBuffer)}
}

// Subscribe returns a channel receiving events of type t.
func (eb *EventBus) Subscribe(t EventType) <-chan Event {
	return eb.subscribe(t)
}

// SubscribeAll returns a channel receiving every event.
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.subscribe("")
}

// subscribe on a closed bus returns an already closed channel.
func (eb *EventBus) subscribe(filter EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, eb.bufferSize)
	eb.subs = append(eb.subs, subscription{ch: ch, filter: filter})
	return ch
}

// Unsubscribe stops delivery to ch. The channel is left open so a reader
// draining it is not surprised; Close closes every channel still subscribed.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, s := range eb.subs {
		if s.ch == ch {
			eb.subs = append(eb.subs[:i], eb.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every matching subscriber.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}
	for _, s := range eb.subs {
		if s.filter != "" && s.filter != event.Type() {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored and
// later subscriptions receive closed channels. Close is idempotent.
func (eb *EventBus) Close() {
	if eb == nil {
		return
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true
	for _, s := range eb.subs {
		close(s.ch)
	}
	eb.subs = nil
}

// Dropped returns the number of events discarded because a subscriber's
// buffer was full.
func (eb *EventBus) Dropped() int64 {
	if eb == nil {
		return 0
	}
	return eb.dropped.Load()
}

func stamp(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// PublishLog publishes a LogEvent.
func (eb *EventBus) PublishLog(level LogLevel, message, sessionID string, err error) {
	eb.Publish(&LogEvent{BaseEvent: stamp(EventLog), Level: level, Message: message, SessionID: sessionID, Error: err})
}

// PublishStatus publishes a session status transition.
func (eb *EventBus) PublishStatus(sessionID, oldStatus, newStatus, errMsg string) {
	eb.Publish(&StatusEvent{BaseEvent: stamp(EventSessionStatus), SessionID: sessionID, OldStatus: oldStatus, NewStatus: newStatus, Error: errMsg})
}

// PublishChunk publishes a chunk update.
func (eb *EventBus) PublishChunk(sessionID string, index int, size int64, progress float64, status string) {
	eb.Publish(&ChunkEvent{BaseEvent: stamp(EventChunkProgress), SessionID: sessionID, Index: index, Size: size, Progress: progress, Status: status})
}

// PublishProgress publishes overall session progress.
func (eb *EventBus) PublishProgress(sessionID string, percent int) {
	eb.Publish(&ProgressEvent{BaseEvent: stamp(EventProgress), SessionID: sessionID, Percent: percent})
}

// PublishHashProgress publishes the number of bytes hashed so far.
func (eb *EventBus) PublishHashProgress(sessionID string, done, total int64) {
	eb.Publish(&HashProgressEvent{BaseEvent: stamp(EventHashProgress), SessionID: sessionID, Done: done, Total: total})
}

// PublishError publishes the failure that ended a round.
func (eb *EventBus) PublishError(sessionID string, chunk int, err error) {
	eb.Publish(&ErrorEvent{BaseEvent: stamp(EventError), SessionID: sessionID, Chunk: chunk, Error: err})
}

// PublishComplete publishes a finished session.
func (eb *EventBus) PublishComplete(sessionID, digest string, size int64, took time.Duration) {
	eb.Publish(&CompleteEvent{BaseEvent: stamp(EventComplete), SessionID: sessionID, Digest: digest, Size: size, Duration: took})
}
