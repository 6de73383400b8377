package connection

// HasPending reports whether any registered document or query has
// outstanding work, per spec.md §4.7.
func (c *Connection) HasPending() bool {
	var pending bool
	c.enqueueWait(func() { pending = c.hasPendingLocked() })
	return pending
}

func (c *Connection) hasPendingLocked() bool {
	if c.docs.first(func(d Doc) bool { return d.HasPending() }) != nil {
		return true
	}
	return c.queries.first(func(q Query) bool { return q.HasPending() }) != nil
}

// HasWritePending reports whether any registered document has a
// locally originated op awaiting acknowledgement.
func (c *Connection) HasWritePending() bool {
	var pending bool
	c.enqueueWait(func() { pending = c.docs.first(func(d Doc) bool { return d.HasWritePending() }) != nil })
	return pending
}

// WhenNothingPending invokes cb once no registered doc or query
// reports pending work. It re-scans from the top after each settle,
// because handling a pending event may itself register new mutations
// (spec.md §4.7's mandatory re-scan discipline).
func (c *Connection) WhenNothingPending(cb func()) {
	c.enqueue(func() { c.scanQuiescence(cb) })
}

func (c *Connection) scanQuiescence(cb func()) {
	if d := c.docs.first(func(d Doc) bool { return d.HasPending() }); d != nil {
		d.OnceNothingPending(func() {
			c.enqueue(func() { c.scanQuiescence(cb) })
		})
		return
	}
	if q := c.queries.first(func(q Query) bool { return q.HasPending() }); q != nil {
		q.OnceReady(func() {
			c.enqueue(func() { c.scanQuiescence(cb) })
		})
		return
	}
	c.enqueue(cb)
}
