// Package connection implements the client-side half of the
// operational-transform collaboration protocol: a long-lived,
// reconnecting session that multiplexes document and query
// subscriptions over one Socket, tracks the five-state connection
// lifecycle, coalesces subscription traffic into bulk frames, and
// dispatches server replies back to the right Doc or Query.
//
// All public methods are safe to call from any goroutine: they run on
// a single internal loop goroutine, giving the same serialized
// ordering guarantees as the single-threaded event-loop model this
// protocol was designed against (spec.md §5).
package connection

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nugget/collabsync/internal/ottype"
	"github.com/nugget/collabsync/internal/wire"
)

// Connection is the process-wide session object described in
// spec.md §3.
type Connection struct {
	loopCh chan func()
	ctx    context.Context
	cancel context.CancelFunc

	logger       *slog.Logger
	defaultType  string
	typeRegistry *ottype.Registry
	docFactory   DocFactory
	queryFactory QueryFactory

	socket   Socket
	state    State
	canSend  bool
	seq      int
	clientID string
	// agent holds a reference cleared on every reset (spec.md §4.1
	// step 2) — e.g. a keepalive/heartbeat handle tied to the prior
	// socket session. Opaque to this package beyond that lifecycle.
	agent any

	docs     *docRegistry
	queries  *queryRegistry
	nextQID  int
	bulk     *bulkAccumulator
	handlers namedHandlers
}

// Options configures a new Connection.
type Options struct {
	// DefaultType is the OT type name this client expects the server
	// to declare at handshake.
	DefaultType string
	// TypeRegistry, if non-nil, is consulted to additionally require
	// that the server's declared type is actually registered.
	TypeRegistry *ottype.Registry
	DocFactory   DocFactory
	QueryFactory QueryFactory
	Logger       *slog.Logger
}

// New creates a Connection and starts its loop goroutine. Call Bind
// to attach a transport.
func New(ctx context.Context, opts Options) *Connection {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		loopCh:       make(chan func()),
		ctx:          ctx,
		cancel:       cancel,
		logger:       opts.Logger,
		defaultType:  opts.DefaultType,
		typeRegistry: opts.TypeRegistry,
		docFactory:   opts.DocFactory,
		queryFactory: opts.QueryFactory,
		state:        StateDisconnected,
		docs:         newDocRegistry(),
		queries:      newQueryRegistry(),
		nextQID:      1,
		seq:          1,
	}
	go c.run()
	return c
}

func (c *Connection) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.loopCh:
			fn()
		}
	}
}

// enqueue schedules fn to run on the loop goroutine on a later tick —
// the mechanism behind every "next tick" guarantee in spec.md (deferred
// dispatch-error re-emission, WhenNothingPending's re-scan and
// callback).
func (c *Connection) enqueue(fn func()) {
	select {
	case c.loopCh <- fn:
	case <-c.ctx.Done():
	}
}

// enqueueWait runs fn on the loop goroutine and blocks until it
// completes, for public accessors that need a return value.
func (c *Connection) enqueueWait(fn func()) {
	done := make(chan struct{})
	c.enqueue(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-c.ctx.Done():
	}
}

// Stop terminates the connection's loop goroutine. The Connection is
// unusable afterward.
func (c *Connection) Stop() {
	c.cancel()
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	var s State
	c.enqueueWait(func() { s = c.state })
	return s
}

// CanSend reports whether the connection is currently connected.
func (c *Connection) CanSend() bool {
	var ok bool
	c.enqueueWait(func() { ok = c.canSend })
	return ok
}

// ClientID returns the server-assigned client id, or "" if not yet
// connected.
func (c *Connection) ClientID() string {
	var id string
	c.enqueueWait(func() { id = c.clientID })
	return id
}

// NextSeq returns the connection's per-session operation sequence
// number and increments it. Docs use this to stamp locally originated
// ops uniquely within the session; reset() rewinds it to 1 on
// disconnect, so the sequence — and any duplicate-op detection built
// on it — is scoped to one session (spec.md §3).
func (c *Connection) NextSeq() int {
	var s int
	c.enqueueWait(func() {
		s = c.seq
		c.seq++
	})
	return s
}

// Bind attaches a transport. The connection's initial state is derived
// from the socket's ready-state (spec.md §4.1): opening/open yields
// connecting, anything else yields disconnected. Rebinding clears the
// previous socket's callbacks and closes it (spec.md §4.2).
func (c *Connection) Bind(socket Socket) {
	c.enqueueWait(func() {
		if c.socket != nil {
			c.socket.SetCallbacks(SocketCallbacks{})
			_ = c.socket.Close()
		}
		c.socket = socket
		socket.SetCallbacks(SocketCallbacks{
			OnOpen:    func() { c.enqueue(func() { c.setState(StateConnecting, "") }) },
			OnMessage: func(raw []byte) { c.enqueue(func() { c.handleRaw(raw) }) },
			OnClose:   func(reason string) { c.enqueue(func() { c.setState(classifyCloseReason(reason), reason) }) },
			OnError:   func(err error) { c.enqueue(func() { c.emitConnectionError(err) }) },
		})

		switch socket.ReadyState() {
		case ReadyStateConnecting, ReadyStateOpen:
			c.transitionInitial(StateConnecting)
		default:
			c.transitionInitial(StateDisconnected)
		}
	})
}

// transitionInitial sets the starting state directly at bind time,
// bypassing legality checks since there is no prior state to violate.
func (c *Connection) transitionInitial(s State) {
	c.state = s
	c.canSend = s == StateConnected
}

// Get returns the Doc for (collection, id), constructing and
// registering it via the configured DocFactory if this is the first
// request for that identity (spec.md §4.6). Idempotent: repeated calls
// return the same identity.
func (c *Connection) Get(collection, id string) Doc {
	var d Doc
	c.enqueueWait(func() {
		if existing, ok := c.docs.get(collection, id); ok {
			d = existing
			return
		}
		d = c.docFactory(c, collection, id)
		c.docs.add(d)
		c.emitDoc(d)
	})
	return d
}

// DestroyDoc removes doc from the registry, cleaning up an empty inner
// collection map (spec.md §4.6). A subsequent Get for the same
// identity constructs a fresh Doc.
func (c *Connection) DestroyDoc(d Doc) {
	c.enqueueWait(func() { c.docs.remove(d) })
}

// CreateQuery allocates a monotonically increasing query id,
// constructs the query via the configured QueryFactory (which also
// triggers its initial qf/qs send), registers it, and returns it
// (spec.md §4.6). action must be wire.ActionQueryFetch for a one-shot
// fetch or wire.ActionQuerySub for a subscribe query.
func (c *Connection) CreateQuery(action wire.Action, collection string, q json.RawMessage, callback func(err *Error, data, extra json.RawMessage)) Query {
	var query Query
	c.enqueueWait(func() {
		id := c.nextQID
		c.nextQID++
		query = c.queryFactory(c, id, action, collection, q, callback)
		c.queries.add(query)
	})
	return query
}

// DestroyQuery removes q from the registry by id.
func (c *Connection) DestroyQuery(q Query) {
	c.enqueueWait(func() { c.queries.remove(q) })
}

// transmit sends a single frame immediately: on the socket if bound,
// emitting the "send" event either way so listeners observe outbound
// traffic even before a socket is attached (useful in tests). The
// connection does not re-check canSend here — spec.md §3 makes send
// gating the document layer's responsibility.
func (c *Connection) transmit(f wire.Frame) {
	c.emitSend(f)
	if c.socket != nil {
		if err := c.socket.Send(f); err != nil {
			c.emitConnectionError(err)
		}
	}
}
