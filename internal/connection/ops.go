package connection

import "github.com/nugget/collabsync/internal/wire"

// Op carries the fields of an outbound "op" frame beyond doc identity
// and version. Op itself is opaque to this package beyond these
// fields — the OT semantics live in the external Doc collaborator.
type Op struct {
	Src    string
	Seq    int
	Op     []byte
	Create []byte
	Del    bool
}

// SendFetch requests the current snapshot of doc. Ensures the doc is
// registered first. In a bulk window the request is coalesced and the
// return value reports whether this (collection, action, docId) was
// already recorded this window; outside a bulk window a single frame
// is sent immediately (spec.md §4.4).
func (c *Connection) SendFetch(d Doc) (duplicate bool) {
	c.enqueueWait(func() { duplicate = c.sendDocAction(wire.ActionFetch, d, nil) })
	return duplicate
}

// SendSubscribe requests ongoing updates for doc starting at its
// current version.
func (c *Connection) SendSubscribe(d Doc) (duplicate bool) {
	v := d.Version()
	c.enqueueWait(func() { duplicate = c.sendDocAction(wire.ActionSubscribe, d, &v) })
	return duplicate
}

// SendUnsubscribe stops updates for doc. Always sent without a
// version (⊥), per spec.md §3.
func (c *Connection) SendUnsubscribe(d Doc) (duplicate bool) {
	c.enqueueWait(func() { duplicate = c.sendDocAction(wire.ActionUnsubscribe, d, nil) })
	return duplicate
}

func (c *Connection) sendDocAction(action wire.Action, d Doc, version *int) bool {
	if _, ok := c.docs.get(d.Collection(), d.ID()); !ok {
		c.docs.add(d)
	}

	if c.bulk != nil {
		return c.bulk.record(action, d.Collection(), d.ID(), version)
	}

	f := wire.Frame{Action: action, Collection: d.Collection(), Doc: d.ID()}
	if version != nil {
		f.Version = version
	}
	c.transmit(f)
	return false
}

// SendQuery transmits the initial qf/qs frame for a query. Never
// coalesced by the bulk layer (spec.md §4.4 only names doc fetch/
// subscribe/unsubscribe as batchable). QueryFactory implementations
// call this once, after constructing their Query, to issue the wire
// request CreateQuery promised.
func (c *Connection) SendQuery(action wire.Action, id int, collection string, q []byte) {
	c.enqueueWait(func() {
		f := wire.Frame{Action: action, Collection: collection, QueryID: id, Query: q}
		c.transmit(f)
	})
}

// SendOp transmits a local operation. Never batched by the bulk layer,
// even inside a bulk window (spec.md §4.4).
func (c *Connection) SendOp(d Doc, op Op) {
	c.enqueueWait(func() {
		f := wire.Frame{
			Action:     wire.ActionOp,
			Collection: d.Collection(),
			Doc:        d.ID(),
			Version:    wire.IntVersion(d.Version()),
			Src:        op.Src,
			Seq:        op.Seq,
			Op:         op.Op,
			Create:     op.Create,
			Del:        op.Del,
		}
		c.transmit(f)
	})
}
