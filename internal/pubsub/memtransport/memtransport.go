// Package memtransport is an in-process pubsub.Transport, useful for
// single-process deployments and tests. Subscriptions and publishes
// never leave the process.
package memtransport

import (
	"context"
	"sync"
)

// Transport fans messages out to local subscribers only.
type Transport struct {
	mu      sync.Mutex
	subs    map[string]struct{}
	handler func(channel string, data []byte)
}

// New constructs an empty in-memory transport.
func New() *Transport {
	return &Transport{subs: make(map[string]struct{})}
}

// OnMessage registers the delivery callback. Must be called before any
// Subscribe/Publish.
func (t *Transport) OnMessage(handler func(channel string, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Subscribe marks channel as locally subscribed. Always succeeds.
func (t *Transport) Subscribe(_ context.Context, channel string, cb func(err error)) {
	t.mu.Lock()
	t.subs[channel] = struct{}{}
	t.mu.Unlock()
	go cb(nil)
}

// Unsubscribe removes the local subscription marker.
func (t *Transport) Unsubscribe(channel string) {
	t.mu.Lock()
	delete(t.subs, channel)
	t.mu.Unlock()
}

// Publish delivers data to the registered handler iff this process is
// subscribed to channel — there is no other process to deliver to.
func (t *Transport) Publish(_ context.Context, channel string, data []byte, cb func(err error)) {
	t.mu.Lock()
	_, subscribed := t.subs[channel]
	handler := t.handler
	t.mu.Unlock()

	if subscribed && handler != nil {
		handler(channel, data)
	}
	go cb(nil)
}
