package pubsub

import (
	"encoding/json"
	"sync"
)

// Op is a single published payload delivered to a Stream, scoped to
// the collection/document it concerns.
type Op struct {
	Collection string
	DocID      string
	Data       json.RawMessage
}

// Stream is a per-subscriber output queue on a PubSub channel,
// identified by a per-PubSub-instance integer id (spec.md §3).
type Stream interface {
	ID() int
	// PushOp enqueues a published payload for delivery to this
	// subscriber.
	PushOp(collection, docID string, data json.RawMessage)
	// Close ends the stream. Idempotent — a second call is a no-op.
	// Triggers the one-shot close handler PubSub registered at
	// creation, which removes this stream from its channel's map.
	Close()
	// Destroy is an alias for Close used by callers tearing down many
	// streams at once (PubSub.Close), kept distinct from Close so a
	// Stream implementation can tell "this subscriber hung up" apart
	// from "the whole PubSub instance is shutting down" if it cares to.
	Destroy()
}

// defaultStream is the Stream implementation PubSub constructs
// internally. Ops arrive on Ops() for the owning code to consume (e.g.
// forward to a document's OpStream collaborator).
type defaultStream struct {
	id      int
	ops     chan Op
	onClose func()

	mu     sync.Mutex
	closed bool
}

func newDefaultStream(id int, bufSize int, onClose func()) *defaultStream {
	return &defaultStream{
		id:      id,
		ops:     make(chan Op, bufSize),
		onClose: onClose,
	}
}

func (s *defaultStream) ID() int { return s.id }

// Ops returns the channel of payloads pushed to this stream. Closed
// when the stream is closed.
func (s *defaultStream) Ops() <-chan Op {
	return s.ops
}

func (s *defaultStream) PushOp(collection, docID string, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ops <- Op{Collection: collection, DocID: docID, Data: data}:
	default:
		// A stalled subscriber must not block publish fan-out for
		// everyone else; drop rather than block.
	}
}

func (s *defaultStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	close(s.ops)
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *defaultStream) Destroy() {
	s.Close()
}
