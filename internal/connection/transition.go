package connection

// setState attempts to transition to next, applying spec.md §4.1's
// full accepted-transition protocol. An illegal transition does not
// mutate state; it surfaces error code 5007 instead. Always runs on
// the loop goroutine.
func (c *Connection) setState(next State, reason string) {
	old := c.state
	if !legalTransition(old, next) {
		c.emitError(newError(CodeIllegalStateTransition,
			"Cannot transition directly from %s to %s", old, next))
		return
	}

	c.state = next
	c.canSend = next == StateConnected
	c.logger.Info("connection state changed", "from", old, "to", next, "reason", reason)

	if next == StateDisconnected || next == StateClosed || next == StateStopped {
		c.reset()
	}

	c.startBulk()
	c.queries.forEach(func(q Query) { q.OnConnectionStateChanged() })
	c.docs.forEach(func(d Doc) { d.OnConnectionStateChanged() })
	c.endBulk()

	c.emitNamedState(next, reason)
	c.emitState(next, reason)
}

// reset clears per-session state on entering a non-connected terminal
// state. The document and query registries are deliberately left
// alone — they persist across reconnects so documents can
// re-subscribe (spec.md §4.1 step 2).
func (c *Connection) reset() {
	c.seq = 1
	c.clientID = ""
	c.agent = nil
}

// startBulk opens a bulk window: subsequent sendFetch/sendSubscribe/
// sendUnsubscribe calls are coalesced instead of sent immediately.
func (c *Connection) startBulk() {
	c.bulk = newBulkAccumulator()
}

// endBulk flushes the accumulator, emitting at most the frames allowed
// by spec.md §4.5's partitioning rule, then closes the bulk window.
func (c *Connection) endBulk() {
	b := c.bulk
	c.bulk = nil
	if b == nil {
		return
	}
	b.flush(c.transmit)
}

// StartBulk opens a bulk window for a caller-driven batch of document
// operations (e.g. subscribing many docs at once). Pair with EndBulk.
func (c *Connection) StartBulk() {
	c.enqueueWait(c.startBulk)
}

// EndBulk closes the current bulk window and flushes coalesced frames.
func (c *Connection) EndBulk() {
	c.enqueueWait(c.endBulk)
}
