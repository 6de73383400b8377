package connection

import (
	"encoding/json"

	"github.com/nugget/collabsync/internal/wire"
)

// handleRaw decodes one inbound transport message, emits the mutable
// "receive" envelope, and dispatches the decoded frame unless a
// receive listener suppressed it. Always runs on the loop goroutine.
func (c *Connection) handleRaw(raw []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		// Decode failure is logged and dropped, not surfaced — spec.md §7.
		c.logger.Debug("dropping undecodable message", "error", err)
		return
	}

	env := &ReceiveEnvelope{Frame: &f}
	c.emitReceive(env)
	if env.Frame == nil {
		return
	}

	c.dispatchSafe(*env.Frame)
}

// dispatchSafe recovers a panicking handler and re-raises it as a
// deferred "error" event on the next tick, so the dispatcher's own
// fault is never confused with a transport decode failure (spec.md
// §4.3, §7).
func (c *Connection) dispatchSafe(f wire.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.enqueue(func() {
				c.emitError(newError(0, "dispatch panic: %v", r))
			})
		}
	}()
	c.dispatch(f)
}

func (c *Connection) dispatch(f wire.Frame) {
	switch f.Action {
	case wire.ActionInit:
		c.handleInit(f)

	case wire.ActionQueryFetch:
		c.routeQuery(f.QueryID, func(q Query) { q.HandleFetch(frameError(f), f.Data, f.Extra) })
	case wire.ActionQuerySub:
		c.routeQuery(f.QueryID, func(q Query) { q.HandleSubscribe(frameError(f), f.Data, f.Extra) })
	case wire.ActionQueryUnsub:
		// Ignored per spec.md §4.3.
	case wire.ActionQueryUpdate:
		c.routeQuery(f.QueryID, func(q Query) {
			if f.Error != nil {
				q.HandleUpdate(frameError(f), nil, nil)
				return
			}
			q.HandleUpdate(nil, f.Diff, f.Extra)
		})

	case wire.ActionFetch:
		c.routeDoc(f.Collection, f.Doc, func(d Doc) { d.HandleFetch(frameError(f), f.Data) })
	case wire.ActionSubscribe:
		c.routeDoc(f.Collection, f.Doc, func(d Doc) { d.HandleSubscribe(frameError(f), f.Data) })
	case wire.ActionUnsubscribe:
		c.routeDoc(f.Collection, f.Doc, func(d Doc) { d.HandleUnsubscribe(frameError(f)) })
	case wire.ActionOp:
		// Both an error envelope and op fields are forwarded — the doc
		// layer decides how to reconcile them (spec.md §9 Open Question).
		c.routeDoc(f.Collection, f.Doc, func(d Doc) { d.HandleOp(frameError(f), f.Create != nil, f.Del, f.Op) })

	case wire.ActionBulkFetch:
		c.handleBulkReply(f, func(d Doc, err *Error, data json.RawMessage) { d.HandleFetch(err, data) })
	case wire.ActionBulkSub:
		c.handleBulkReply(f, func(d Doc, err *Error, data json.RawMessage) { d.HandleSubscribe(err, data) })
	case wire.ActionBulkUnsub:
		c.handleBulkReply(f, func(d Doc, err *Error, data json.RawMessage) { d.HandleUnsubscribe(err) })

	default:
		c.logger.Warn("unknown wire action, dropping", "action", f.Action)
	}
}

func frameError(f wire.Frame) *Error {
	if f.Error == nil {
		return nil
	}
	return &Error{Code: f.Error.Code, Message: f.Error.Message, Data: f}
}

func (c *Connection) routeDoc(collection, id string, fn func(d Doc)) {
	d, ok := c.docs.get(collection, id)
	if !ok {
		return // dropped silently, per spec.md §4.3
	}
	fn(d)
}

func (c *Connection) routeQuery(id int, fn func(q Query)) {
	q, ok := c.queries.get(id)
	if !ok {
		return
	}
	fn(q)
}

// handleInit validates the server hello and, on success, promotes the
// connection to connected. On any validation failure it emits a
// structured error and leaves the state untouched (spec.md §4.3, §7).
func (c *Connection) handleInit(f wire.Frame) {
	if f.Protocol != 1 {
		c.emitError(newError(CodeInvalidProtocol, "invalid protocol version %d", f.Protocol))
		return
	}
	if f.Type != c.defaultType {
		c.emitError(newError(CodeInvalidDefaultType, "invalid default type %q (expected %q)", f.Type, c.defaultType))
		return
	}
	if f.ID == "" {
		c.emitError(newError(CodeInvalidClientID, "invalid client id %q", f.ID))
		return
	}
	if c.typeRegistry != nil && !c.typeRegistry.Has(f.Type) {
		c.emitError(newError(CodeInvalidDefaultType, "unregistered default type %q", f.Type))
		return
	}

	c.clientID = f.ID
	c.setState(StateConnected, "")
}

// handleBulkReply implements spec.md §4.5's bulk reply rules: a data
// map forwards the per-doc payload and message-level error to every
// existing doc; a "b" array forwards only the error to each listed
// docId; a "b" map forwards the error to each key; anything else is
// logged as invalid.
func (c *Connection) handleBulkReply(f wire.Frame, forward func(d Doc, err *Error, data json.RawMessage)) {
	msgErr := frameError(f)

	if len(f.Data) > 0 {
		var byDoc map[string]json.RawMessage
		if err := json.Unmarshal(f.Data, &byDoc); err != nil {
			c.logger.Warn("invalid bulk reply data", "collection", f.Collection, "error", err)
			return
		}
		for id, payload := range byDoc {
			c.routeDoc(f.Collection, id, func(d Doc) { forward(d, msgErr, payload) })
		}
		return
	}

	if len(f.Bulk) == 0 {
		c.logger.Warn("invalid bulk reply: no data or b field", "collection", f.Collection, "action", f.Action)
		return
	}

	var ids []string
	if err := json.Unmarshal(f.Bulk, &ids); err == nil {
		for _, id := range ids {
			c.routeDoc(f.Collection, id, func(d Doc) { forward(d, msgErr, nil) })
		}
		return
	}

	var versions map[string]int
	if err := json.Unmarshal(f.Bulk, &versions); err == nil {
		for id := range versions {
			c.routeDoc(f.Collection, id, func(d Doc) { forward(d, msgErr, nil) })
		}
		return
	}

	c.logger.Warn("invalid bulk reply: b field is neither array nor map", "collection", f.Collection, "action", f.Action)
}
