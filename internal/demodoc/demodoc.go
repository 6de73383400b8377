// Package demodoc is a minimal Doc/Query implementation for the
// collabsync CLI's connect subcommand. The OT algorithm and local op
// queue are out of scope for this module (spec.md §1) — this package
// exists only to give Connection a concrete collaborator to drive and
// to print what the server sends, not to apply operations.
package demodoc

import (
	"encoding/json"
	"log/slog"

	"github.com/nugget/collabsync/internal/connection"
	"github.com/nugget/collabsync/internal/wire"
)

// Doc logs every handler invocation instead of maintaining OT state.
type Doc struct {
	conn       *connection.Connection
	collection string
	id         string
	version    int
	logger     *slog.Logger

	pending      bool
	writePending bool
	onceNothing  []func()
}

// New constructs a Doc as a connection.DocFactory.
func New(logger *slog.Logger) connection.DocFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(conn *connection.Connection, collection, id string) connection.Doc {
		return &Doc{conn: conn, collection: collection, id: id, logger: logger}
	}
}

func (d *Doc) Collection() string { return d.collection }
func (d *Doc) ID() string         { return d.id }
func (d *Doc) Version() int       { return d.version }

func (d *Doc) OnConnectionStateChanged() {
	d.logger.Debug("doc: connection state changed", "collection", d.collection, "id", d.id, "state", d.conn.State())
}

func (d *Doc) HasPending() bool      { return d.pending }
func (d *Doc) HasWritePending() bool { return d.writePending }

func (d *Doc) OnceNothingPending(fn func()) {
	d.onceNothing = append(d.onceNothing, fn)
}

func (d *Doc) fireNothingPending() {
	fns := d.onceNothing
	d.onceNothing = nil
	for _, fn := range fns {
		fn()
	}
}

func (d *Doc) HandleFetch(err *connection.Error, data json.RawMessage) {
	d.pending = false
	if err != nil {
		d.logger.Warn("doc: fetch failed", "collection", d.collection, "id", d.id, "code", err.Code, "message", err.Message)
	} else {
		d.logger.Info("doc: fetched", "collection", d.collection, "id", d.id, "data", string(data))
	}
	d.fireNothingPending()
}

func (d *Doc) HandleSubscribe(err *connection.Error, data json.RawMessage) {
	d.pending = false
	if err != nil {
		d.logger.Warn("doc: subscribe failed", "collection", d.collection, "id", d.id, "code", err.Code, "message", err.Message)
	} else {
		d.logger.Info("doc: subscribed", "collection", d.collection, "id", d.id, "data", string(data))
	}
	d.fireNothingPending()
}

func (d *Doc) HandleUnsubscribe(err *connection.Error) {
	d.pending = false
	if err != nil {
		d.logger.Warn("doc: unsubscribe failed", "collection", d.collection, "id", d.id, "code", err.Code)
	}
	d.fireNothingPending()
}

func (d *Doc) HandleOp(err *connection.Error, create, del bool, op json.RawMessage) {
	d.version++
	if err != nil {
		d.logger.Warn("doc: op error", "collection", d.collection, "id", d.id, "code", err.Code, "message", err.Message)
	}
	d.logger.Info("doc: op received", "collection", d.collection, "id", d.id, "create", create, "delete", del, "op", string(op))
	d.fireNothingPending()
}

// Query logs every handler invocation for a one-shot fetch or live
// subscribe query, forwarding results to the caller's callback.
type Query struct {
	id       int
	logger   *slog.Logger
	callback func(err *connection.Error, data, extra json.RawMessage)
	pending  bool
	onceOnly []func()
}

func (q *Query) ID() int { return q.id }

func (q *Query) OnConnectionStateChanged() {
	q.logger.Debug("query: connection state changed", "id", q.id)
}

func (q *Query) HasPending() bool { return q.pending }

func (q *Query) OnceReady(fn func()) {
	q.onceOnly = append(q.onceOnly, fn)
}

func (q *Query) fireReady() {
	fns := q.onceOnly
	q.onceOnly = nil
	for _, fn := range fns {
		fn()
	}
}

func (q *Query) HandleFetch(err *connection.Error, data, extra json.RawMessage) {
	q.pending = false
	q.callback(err, data, extra)
	q.fireReady()
}

func (q *Query) HandleSubscribe(err *connection.Error, data, extra json.RawMessage) {
	q.pending = false
	q.callback(err, data, extra)
	q.fireReady()
}

func (q *Query) HandleUpdate(err *connection.Error, diff, extra json.RawMessage) {
	q.callback(err, diff, extra)
}

// NewQueryFactory constructs a connection.QueryFactory over demodoc
// Query instances. The returned Query issues its initial qf/qs frame
// immediately via Connection.SendQuery, as CreateQuery's contract
// requires.
func NewQueryFactory(logger *slog.Logger) connection.QueryFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(conn *connection.Connection, id int, action wire.Action, collection string, q json.RawMessage, callback func(err *connection.Error, data, extra json.RawMessage)) connection.Query {
		query := &Query{id: id, logger: logger, callback: callback, pending: true}
		conn.SendQuery(action, id, collection, q)
		return query
	}
}
