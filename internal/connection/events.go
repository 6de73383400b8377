package connection

import (
	"context"

	"github.com/nugget/collabsync/internal/config"
	"github.com/nugget/collabsync/internal/hashutil"
	"github.com/nugget/collabsync/internal/wire"
)

// ReceiveEnvelope is the mutable {data} wrapper handed to "receive"
// listeners. A listener may set Frame to nil to suppress dispatch of
// the decoded message — middleware's escape hatch, per spec.md §4.2
// and Design Note 9.
type ReceiveEnvelope struct {
	Frame *wire.Frame
}

// namedHandlers holds the per-event-kind subscriber lists. Emission
// always runs on the connection's single loop goroutine, so no
// additional synchronization is needed beyond the actor's own
// serialization — this mirrors the teacher's small fixed set of
// event names, just invoked synchronously instead of over a channel.
type namedHandlers struct {
	onConnecting []func(reason string)
	onConnected  []func(reason string)
	onDisconnect []func(reason string)
	onClosed     []func(reason string)
	onStopped    []func(reason string)
	onState      []func(state State, reason string)
	onError      []func(err *Error)
	onConnError  []func(err error)
	onReceive    []func(env *ReceiveEnvelope)
	onSend       []func(f wire.Frame)
	onDoc        []func(d Doc)
}

// OnState subscribes to the generic state event, fired after every
// accepted transition once all docs/queries have been notified.
func (c *Connection) OnState(fn func(state State, reason string)) {
	c.enqueueWait(func() { c.handlers.onState = append(c.handlers.onState, fn) })
}

// OnError subscribes to protocol/state-machine errors.
func (c *Connection) OnError(fn func(err *Error)) {
	c.enqueueWait(func() { c.handlers.onError = append(c.handlers.onError, fn) })
}

// OnConnectionError subscribes to transport-reported errors.
func (c *Connection) OnConnectionError(fn func(err error)) {
	c.enqueueWait(func() { c.handlers.onConnError = append(c.handlers.onConnError, fn) })
}

// OnReceive subscribes to the raw-receive hook, invoked for every
// decoded inbound message before dispatch.
func (c *Connection) OnReceive(fn func(env *ReceiveEnvelope)) {
	c.enqueueWait(func() { c.handlers.onReceive = append(c.handlers.onReceive, fn) })
}

// OnSend subscribes to every outbound frame, immediate or flushed from
// a bulk window.
func (c *Connection) OnSend(fn func(f wire.Frame)) {
	c.enqueueWait(func() { c.handlers.onSend = append(c.handlers.onSend, fn) })
}

// OnDoc subscribes to doc construction via Get.
func (c *Connection) OnDoc(fn func(d Doc)) {
	c.enqueueWait(func() { c.handlers.onDoc = append(c.handlers.onDoc, fn) })
}

// OnNamedState subscribes to one of the five state-named events
// (connecting/connected/disconnected/closed/stopped).
func (c *Connection) OnNamedState(state State, fn func(reason string)) {
	c.enqueueWait(func() {
		switch state {
		case StateConnecting:
			c.handlers.onConnecting = append(c.handlers.onConnecting, fn)
		case StateConnected:
			c.handlers.onConnected = append(c.handlers.onConnected, fn)
		case StateDisconnected:
			c.handlers.onDisconnect = append(c.handlers.onDisconnect, fn)
		case StateClosed:
			c.handlers.onClosed = append(c.handlers.onClosed, fn)
		case StateStopped:
			c.handlers.onStopped = append(c.handlers.onStopped, fn)
		}
	})
}

func (c *Connection) emitError(err *Error) {
	c.logger.Warn("connection error", "code", err.Code, "message", err.Message)
	for _, fn := range c.handlers.onError {
		fn(err)
	}
}

func (c *Connection) emitConnectionError(err error) {
	c.logger.Warn("transport error", "error", err)
	for _, fn := range c.handlers.onConnError {
		fn(err)
	}
}

func (c *Connection) emitReceive(env *ReceiveEnvelope) {
	for _, fn := range c.handlers.onReceive {
		fn(env)
	}
}

func (c *Connection) emitSend(f wire.Frame) {
	if len(f.Bulk) > 0 {
		c.logger.Log(context.Background(), config.LevelTrace, "send frame", "action", f.Action, "c", f.Collection, "d", f.Doc, "bulk_fp", hashutil.Fingerprint(f.Bulk))
	} else {
		c.logger.Log(context.Background(), config.LevelTrace, "send frame", "action", f.Action, "c", f.Collection, "d", f.Doc)
	}
	for _, fn := range c.handlers.onSend {
		fn(f)
	}
}

func (c *Connection) emitDoc(d Doc) {
	for _, fn := range c.handlers.onDoc {
		fn(d)
	}
}

func (c *Connection) emitNamedState(state State, reason string) {
	var list []func(string)
	switch state {
	case StateConnecting:
		list = c.handlers.onConnecting
	case StateConnected:
		list = c.handlers.onConnected
	case StateDisconnected:
		list = c.handlers.onDisconnect
	case StateClosed:
		list = c.handlers.onClosed
	case StateStopped:
		list = c.handlers.onStopped
	}
	for _, fn := range list {
		fn(reason)
	}
}

func (c *Connection) emitState(state State, reason string) {
	for _, fn := range c.handlers.onState {
		fn(state, reason)
	}
}
