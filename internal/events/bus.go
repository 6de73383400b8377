// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from publishers (the PubSub core, and the
// serve command's connwatch callbacks) to subscribers (the status
// page's /events feed). No component in this module publishes events
// with SourceTransport or SourceConnection. The bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourcePubSub identifies events from the PubSub fan-out core.
	SourcePubSub = "pubsub"
	// SourceTransport identifies events from a Transport implementation
	// (memory, mqtt).
	SourceTransport = "transport"
	// SourceConnection identifies events from a client Connection.
	SourceConnection = "connection"
	// SourceConnWatch identifies events from a connwatch reachability
	// watcher.
	SourceConnWatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindSubscribed signals a channel gained its first subscriber and
	// a transport subscription was opened.
	// Data: channel.
	KindSubscribed = "subscribed"
	// KindUnsubscribed signals a channel lost its last subscriber and
	// the transport subscription was closed.
	// Data: channel.
	KindUnsubscribed = "unsubscribed"
	// KindPublished signals a message was published to a channel.
	// Data: channel, size.
	KindPublished = "published"
	// KindStreamOpened signals a new Stream was created for a channel.
	// Data: channel, stream_id.
	KindStreamOpened = "stream_opened"
	// KindStreamClosed signals a Stream was closed.
	// Data: channel, stream_id.
	KindStreamClosed = "stream_closed"

	// KindStateChanged signals a Connection transitioned lifecycle
	// state.
	// Data: from, to, reason.
	KindStateChanged = "state_changed"
	// KindFrameSent signals an outbound wire frame was transmitted.
	// Data: action, collection, doc.
	KindFrameSent = "frame_sent"
	// KindFrameReceived signals an inbound wire frame was dispatched.
	// Data: action, collection, doc.
	KindFrameReceived = "frame_received"

	// KindReachable signals a watched service became reachable.
	// Data: name.
	KindReachable = "reachable"
	// KindUnreachable signals a watched service stopped responding.
	// Data: name, error.
	KindUnreachable = "unreachable"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
