package pubsub

import "context"

// Transport is the external collaborator that actually moves published
// bytes between processes — Redis, MQTT, an in-memory fan-out, or
// anything else a concrete implementation wires up. PubSub never talks
// to this directly from client goroutines; it's only ever invoked from
// the PubSub loop goroutine, so implementations don't need their own
// internal serialization to stay consistent with PubSub's view of
// subscribed state.
type Transport interface {
	// Subscribe opens a subscription on channel. cb is invoked exactly
	// once, asynchronously, with the outcome. Implementations must
	// eventually call cb even on failure.
	Subscribe(ctx context.Context, channel string, cb func(err error))
	// Unsubscribe closes a subscription opened by Subscribe. Best
	// effort — PubSub does not wait on or retry it.
	Unsubscribe(channel string)
	// Publish delivers data to all subscribers of channel across the
	// whole transport (not just local streams). cb is invoked exactly
	// once with the outcome.
	Publish(ctx context.Context, channel string, data []byte, cb func(err error))
	// OnMessage registers the handler the transport invokes whenever it
	// receives a message for a channel this process has subscribed to.
	// Called once at construction time, before any Subscribe call.
	OnMessage(handler func(channel string, data []byte))
}
