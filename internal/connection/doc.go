package connection

import (
	"encoding/json"

	"github.com/nugget/collabsync/internal/wire"
)

// Doc is the external collaborator the connection invokes by id. Its
// internals (OT application, local op queue) are out of scope for this
// module — only this handler surface matters.
type Doc interface {
	Collection() string
	ID() string
	// Version is the doc's last-known server version, used as the v
	// field on outbound op frames.
	Version() int

	// OnConnectionStateChanged is invoked once per accepted state
	// transition, inside the transition's bulk-notify window.
	OnConnectionStateChanged()

	// HasPending reports whether the doc has an outstanding
	// fetch/subscribe/unsubscribe/op awaiting a server reply.
	HasPending() bool
	// HasWritePending reports whether the doc has a locally originated
	// op awaiting acknowledgement.
	HasWritePending() bool
	// OnceNothingPending registers a one-shot callback fired the next
	// time this doc transitions from pending to quiescent.
	OnceNothingPending(fn func())

	HandleFetch(err *Error, data json.RawMessage)
	HandleSubscribe(err *Error, data json.RawMessage)
	HandleUnsubscribe(err *Error)
	// HandleOp delivers an inbound op frame. err and the frame fields
	// are both forwarded when present (spec.md §9 Open Question): the
	// doc layer decides how to reconcile an error alongside op data.
	HandleOp(err *Error, create, del bool, op json.RawMessage)
}

// Query is the external collaborator backing a live or one-shot query
// subscription.
type Query interface {
	ID() int

	OnConnectionStateChanged()
	HasPending() bool
	// OnceReady registers a one-shot callback fired the next time this
	// query transitions from pending to ready.
	OnceReady(fn func())

	HandleFetch(err *Error, data, extra json.RawMessage)
	HandleSubscribe(err *Error, data, extra json.RawMessage)
	HandleUpdate(err *Error, diff, extra json.RawMessage)
}

// DocFactory constructs a Doc for (collection, id) the first time it
// is requested via Connection.Get. The connection never constructs
// documents itself — their internals are an external collaborator.
type DocFactory func(conn *Connection, collection, id string) Doc

// QueryFactory constructs a Query, sends its initial wire request
// (fetch or subscribe, per action), and returns it. Connection calls
// this from CreateQuery; it never inspects the query's internals
// beyond the Query interface.
type QueryFactory func(conn *Connection, id int, action wire.Action, collection string, q json.RawMessage, callback func(err *Error, data, extra json.RawMessage)) Query
