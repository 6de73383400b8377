// Package pubsub implements the server-side channel fan-out core:
// reference-counted transport subscriptions feeding per-subscriber
// Streams. The transport itself (Redis, MQTT, an in-memory bus) is an
// external collaborator injected as Transport.
//
// All mutation of the channel→stream and subscribed maps happens on a
// single loop goroutine, the same actor pattern internal/connection
// uses to get the ordering spec.md §5 requires without scattering
// locks through the fan-out logic: a subscribe racing a pending
// unsubscribe must synchronously observe the cleared subscribed flag
// and issue a fresh transport subscribe (spec.md §4.8, scenario S6).
package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nugget/collabsync/internal/events"
)

const defaultStreamBuffer = 64

// PubSub is one channel fan-out instance. Typically one per process,
// shared by every document/query that needs transport-level delivery.
type PubSub struct {
	loopCh chan func()
	ctx    context.Context
	cancel context.CancelFunc

	transport Transport
	prefix    string
	logger    *slog.Logger
	events    *events.Bus

	nextStreamID int
	streamsCount int
	streams      map[string]map[int]*defaultStream
	subscribed   map[string]bool
}

// Options configures a new PubSub instance.
type Options struct {
	Transport Transport
	// Prefix, if set, is prepended to every channel name before it
	// reaches the transport (spec.md §4.8).
	Prefix string
	Logger *slog.Logger
	// Events, if set, receives subscribe/unsubscribe/publish/stream
	// lifecycle notifications for the status page's live feed. Nil is
	// a valid no-op bus (events.Bus.Publish is nil-safe).
	Events *events.Bus
}

// New constructs a PubSub instance bound to transport and starts its
// loop goroutine. Call Close to release transport subscriptions and
// stop the loop.
func New(ctx context.Context, opts Options) *PubSub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &PubSub{
		loopCh:     make(chan func()),
		ctx:        ctx,
		cancel:     cancel,
		transport:  opts.Transport,
		prefix:     opts.Prefix,
		logger:     opts.Logger,
		events:     opts.Events,
		streams:    make(map[string]map[int]*defaultStream),
		subscribed: make(map[string]bool),
	}
	opts.Transport.OnMessage(func(channel string, data []byte) {
		p.enqueue(func() { p.emit(channel, data) })
	})
	go p.run()
	return p
}

func (p *PubSub) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn := <-p.loopCh:
			fn()
		}
	}
}

func (p *PubSub) enqueue(fn func()) {
	select {
	case p.loopCh <- fn:
	case <-p.ctx.Done():
	}
}

func (p *PubSub) channelName(channel string) string {
	if p.prefix == "" {
		return channel
	}
	return p.prefix + channel
}

// Publish delegates to the transport after applying the configured
// prefix. cb is invoked once with the outcome.
func (p *PubSub) Publish(channels []string, data json.RawMessage, cb func(err error)) {
	p.enqueue(func() {
		remaining := len(channels)
		if remaining == 0 {
			if cb != nil {
				cb(nil)
			}
			return
		}
		var firstErr error
		for _, c := range channels {
			name := p.channelName(c)
			p.events.Publish(events.Event{Timestamp: time.Now(), Source: events.SourcePubSub, Kind: events.KindPublished, Data: map[string]any{"channel": name, "size": len(data)}})
			p.transport.Publish(p.ctx, name, data, func(err error) {
				p.enqueue(func() {
					if err != nil && firstErr == nil {
						firstErr = err
					}
					remaining--
					if remaining == 0 && cb != nil {
						cb(firstErr)
					}
				})
			})
		}
	})
}

// Subscribe opens (or reuses) a subscription to channel and hands back
// a fresh Stream. If the channel is already subscribed, the new stream
// is created and delivered to cb on the next tick without touching the
// transport — this is the common case of a second local subscriber
// joining an already-live channel (spec.md §4.8).
func (p *PubSub) Subscribe(channel string, cb func(err error, stream Stream)) {
	p.enqueue(func() {
		name := p.channelName(channel)

		if p.subscribed[name] {
			p.enqueue(func() {
				s := p.createStream(name)
				cb(nil, s)
			})
			return
		}

		p.transport.Subscribe(p.ctx, name, func(err error) {
			p.enqueue(func() {
				if err != nil {
					cb(err, nil)
					return
				}
				// The last-stream-close handler clears subscribed[name]
				// synchronously (removeStream below) — by the time this
				// callback runs, a concurrent unsubscribe-then-resubscribe
				// sequence has already been resolved on the loop, so it's
				// safe to set this unconditionally here.
				p.subscribed[name] = true
				p.events.Publish(events.Event{Timestamp: time.Now(), Source: events.SourcePubSub, Kind: events.KindSubscribed, Data: map[string]any{"channel": name}})
				s := p.createStream(name)
				cb(nil, s)
			})
		})
	})
}

// createStream must run on the loop goroutine.
func (p *PubSub) createStream(channel string) *defaultStream {
	id := p.nextStreamID + 1
	p.nextStreamID = id

	s := newDefaultStream(id, defaultStreamBuffer, nil)
	s.onClose = func() {
		p.enqueue(func() { p.removeStream(channel, s) })
	}

	if p.streams[channel] == nil {
		p.streams[channel] = make(map[int]*defaultStream)
	}
	p.streams[channel][id] = s
	p.streamsCount++

	p.events.Publish(events.Event{Timestamp: time.Now(), Source: events.SourcePubSub, Kind: events.KindStreamOpened, Data: map[string]any{"channel": channel, "stream_id": id}})

	return s
}

// removeStream must run on the loop goroutine. When the last stream on
// a channel closes, subscribed[channel] is cleared synchronously — in
// the same tick as the map deletion — before the async transport
// unsubscribe is even issued, so a subscribe arriving before that
// unsubscribe completes sees subscribed==false and starts a fresh
// transport subscription rather than attaching to a dying one
// (spec.md §4.8, scenario S6).
func (p *PubSub) removeStream(channel string, s *defaultStream) {
	inner := p.streams[channel]
	if inner == nil {
		return
	}
	if _, ok := inner[s.ID()]; !ok {
		return
	}
	delete(inner, s.ID())
	p.streamsCount--
	p.events.Publish(events.Event{Timestamp: time.Now(), Source: events.SourcePubSub, Kind: events.KindStreamClosed, Data: map[string]any{"channel": channel, "stream_id": s.ID()}})

	if len(inner) == 0 {
		delete(p.streams, channel)
		delete(p.subscribed, channel)
		p.transport.Unsubscribe(channel)
		p.events.Publish(events.Event{Timestamp: time.Now(), Source: events.SourcePubSub, Kind: events.KindUnsubscribed, Data: map[string]any{"channel": channel}})
	}
}

// emit fans a received payload out to every stream on channel, pushing
// a distinct copy to each so one subscriber's mutation of the payload
// can't be observed by another (spec.md §4.8). Must run on the loop
// goroutine.
func (p *PubSub) emit(channel string, data []byte) {
	inner := p.streams[channel]
	if len(inner) == 0 {
		return
	}

	var envelope struct {
		Collection string          `json:"c"`
		DocID      string          `json:"d"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		p.logger.Warn("pubsub: dropping malformed message", "channel", channel, "error", err)
		return
	}

	for _, s := range inner {
		cp := make(json.RawMessage, len(envelope.Data))
		copy(cp, envelope.Data)
		s.PushOp(envelope.Collection, envelope.DocID, cp)
	}
}

// Close destroys every live stream and stops the loop goroutine.
// Idempotent via each Stream's own idempotent Close.
func (p *PubSub) Close(cb func()) {
	p.enqueue(func() {
		for _, inner := range p.streams {
			for _, s := range inner {
				s.Destroy()
			}
		}
		if cb != nil {
			cb()
		}
		p.cancel()
	})
}

// Envelope builds the {c, d, data} payload shape Publish expects and
// emit unpacks, pairing a collection/document identity with its
// published bytes.
func Envelope(collection, docID string, payload json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(struct {
		Collection string          `json:"c"`
		DocID      string          `json:"d"`
		Data       json.RawMessage `json:"data"`
	}{collection, docID, payload})
}

// StreamCount reports the total number of live streams across all
// channels, for status/diagnostics.
func (p *PubSub) StreamCount() int {
	var n int
	done := make(chan struct{})
	p.enqueue(func() {
		n = p.streamsCount
		close(done)
	})
	select {
	case <-done:
	case <-p.ctx.Done():
	}
	return n
}
