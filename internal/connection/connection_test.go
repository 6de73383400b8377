package connection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nugget/collabsync/internal/ottype"
	"github.com/nugget/collabsync/internal/wire"
)

// waitFor polls cond every tick until it returns true or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// fakeSocket is an in-process Socket a test drives directly: Deliver
// simulates an inbound message, sent captures every outbound frame.
type fakeSocket struct {
	mu    sync.Mutex
	state ReadyState
	cb    SocketCallbacks
	sent  []wire.Frame
	err   error
}

func newFakeSocket(state ReadyState) *fakeSocket {
	return &fakeSocket{state: state}
}

func (s *fakeSocket) ReadyState() ReadyState { return s.state }

func (s *fakeSocket) Send(f wire.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *fakeSocket) Close() error { return nil }

func (s *fakeSocket) SetCallbacks(cb SocketCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

func (s *fakeSocket) sentFrames() []wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Frame, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSocket) open() {
	s.mu.Lock()
	s.state = ReadyStateOpen
	cb := s.cb.OnOpen
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *fakeSocket) deliver(f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	cb := s.cb.OnMessage
	s.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (s *fakeSocket) closeFromServer(reason string) {
	s.mu.Lock()
	s.state = ReadyStateClosed
	cb := s.cb.OnClose
	s.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// fakeDoc is a minimal Doc implementation recording every invocation.
type fakeDoc struct {
	mu           sync.Mutex
	collection   string
	id           string
	version      int
	pending      bool
	writePending bool
	stateChanges int
	onceNothing  []func()
	fetched      []json.RawMessage
}

func newFakeDoc(conn *Connection, collection, id string) Doc {
	return &fakeDoc{collection: collection, id: id}
}

func (d *fakeDoc) Collection() string { return d.collection }
func (d *fakeDoc) ID() string         { return d.id }
func (d *fakeDoc) Version() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

func (d *fakeDoc) OnConnectionStateChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateChanges++
}

func (d *fakeDoc) HasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
func (d *fakeDoc) HasWritePending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writePending
}

func (d *fakeDoc) OnceNothingPending(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onceNothing = append(d.onceNothing, fn)
}

func (d *fakeDoc) settle() {
	d.mu.Lock()
	fns := d.onceNothing
	d.onceNothing = nil
	d.pending = false
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (d *fakeDoc) HandleFetch(err *Error, data json.RawMessage) {
	d.mu.Lock()
	d.fetched = append(d.fetched, data)
	d.mu.Unlock()
	d.settle()
}
func (d *fakeDoc) HandleSubscribe(err *Error, data json.RawMessage) { d.settle() }
func (d *fakeDoc) HandleUnsubscribe(err *Error)                     { d.settle() }
func (d *fakeDoc) HandleOp(err *Error, create, del bool, op json.RawMessage) {
	d.mu.Lock()
	d.version++
	d.mu.Unlock()
}

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	conn := New(context.Background(), Options{
		DefaultType:  ottype.JSON0,
		TypeRegistry: ottype.DefaultRegistry(),
		DocFactory:   newFakeDoc,
	})
	t.Cleanup(conn.Stop)
	return conn
}

func TestBindDisconnectedSocketYieldsDisconnected(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateClosed)
	conn.Bind(sock)
	if got := conn.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
}

func TestBindOpenSocketYieldsConnecting(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateOpen)
	conn.Bind(sock)
	if got := conn.State(); got != StateConnecting {
		t.Errorf("State() = %v, want connecting", got)
	}
}

// TestHandshakePromotesToConnected covers scenario S1: a valid init
// frame moves connecting -> connected and records the client id.
func TestHandshakePromotesToConnected(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateConnecting)
	conn.Bind(sock)
	sock.open()

	sock.deliver(wire.Frame{Action: wire.ActionInit, Protocol: 1, Type: ottype.JSON0, ID: "client-1"})

	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected }, "state == connected")
	if conn.ClientID() != "client-1" {
		t.Errorf("ClientID() = %q, want client-1", conn.ClientID())
	}
	if !conn.CanSend() {
		t.Error("expected CanSend() true once connected")
	}
}

func TestHandshakeRejectsWrongDefaultType(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateConnecting)
	conn.Bind(sock)
	sock.open()

	var gotErr *Error
	var mu sync.Mutex
	conn.OnError(func(err *Error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})

	sock.deliver(wire.Frame{Action: wire.ActionInit, Protocol: 1, Type: "rich-text", ID: "client-1"})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, "error emitted")
	mu.Lock()
	defer mu.Unlock()
	if gotErr.Code != CodeInvalidDefaultType {
		t.Errorf("Code = %d, want %d", gotErr.Code, CodeInvalidDefaultType)
	}
	if conn.State() != StateConnecting {
		t.Errorf("state should remain connecting after rejected handshake, got %v", conn.State())
	}
}

// TestIllegalTransitionEmitsErrorWithoutMutatingState covers scenario
// S4: connected -> connected is not in legalTransition's accepted set.
func TestIllegalTransitionEmitsErrorWithoutMutatingState(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateConnecting)
	conn.Bind(sock)
	sock.open()
	sock.deliver(wire.Frame{Action: wire.ActionInit, Protocol: 1, Type: ottype.JSON0, ID: "client-1"})
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected }, "connected")

	var errs []*Error
	var mu sync.Mutex
	conn.OnError(func(err *Error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	conn.enqueueWait(func() { conn.setState(StateConnected, "") })

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) > 0
	}, "illegal transition error")
	mu.Lock()
	defer mu.Unlock()
	if errs[0].Code != CodeIllegalStateTransition {
		t.Errorf("Code = %d, want %d", errs[0].Code, CodeIllegalStateTransition)
	}
	if conn.State() != StateConnected {
		t.Errorf("state should be unchanged by a rejected transition, got %v", conn.State())
	}
}

// TestDisconnectResetsSessionState covers spec.md §4.1 step 2: seq and
// clientID reset when the server closes the socket (entering closed),
// but the doc registry survives.
func TestDisconnectResetsSessionState(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateConnecting)
	conn.Bind(sock)
	sock.open()
	sock.deliver(wire.Frame{Action: wire.ActionInit, Protocol: 1, Type: ottype.JSON0, ID: "client-1"})
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected }, "connected")

	d := conn.Get("docs", "doc-1")
	conn.NextSeq()
	conn.NextSeq()

	sock.closeFromServer("closed")
	waitFor(t, time.Second, func() bool { return conn.State() == StateClosed }, "closed")

	if conn.ClientID() != "" {
		t.Errorf("expected ClientID cleared after disconnect, got %q", conn.ClientID())
	}
	if conn.NextSeq() != 1 {
		t.Error("expected seq reset to 1 after disconnect")
	}
	if got := conn.Get("docs", "doc-1"); got != d {
		t.Error("expected doc registry to survive disconnect")
	}
}

// TestReconnectRenotifiesDocs covers scenario S5: every registered doc
// receives OnConnectionStateChanged on each accepted transition,
// including a later reconnect.
func TestReconnectRenotifiesDocs(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateConnecting)
	conn.Bind(sock)

	d := conn.Get("docs", "doc-1").(*fakeDoc)

	sock.open()
	sock.deliver(wire.Frame{Action: wire.ActionInit, Protocol: 1, Type: ottype.JSON0, ID: "client-1"})
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected }, "connected")

	sock.closeFromServer("stopped")
	waitFor(t, time.Second, func() bool { return conn.State() == StateStopped }, "stopped")

	sock2 := newFakeSocket(ReadyStateConnecting)
	conn.Bind(sock2)
	sock2.open()
	sock2.deliver(wire.Frame{Action: wire.ActionInit, Protocol: 1, Type: ottype.JSON0, ID: "client-2"})
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected }, "reconnected")

	d.mu.Lock()
	changes := d.stateChanges
	d.mu.Unlock()
	// Bind/rebind set the initial state directly (transitionInitial),
	// bypassing notification; only accepted setState transitions notify:
	// connected, stopped, connected again.
	if changes < 3 {
		t.Errorf("stateChanges = %d, want at least 3", changes)
	}
}

// TestBulkWindowCoalescesMultipleDocs covers scenario S3: subscribing
// more than one doc inside a bulk window emits a single "bs" frame.
func TestBulkWindowCoalescesMultipleDocs(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateOpen)
	conn.Bind(sock)

	conn.StartBulk()
	d1 := conn.Get("docs", "doc-1")
	d2 := conn.Get("docs", "doc-2")
	conn.SendSubscribe(d1)
	conn.SendSubscribe(d2)
	conn.EndBulk()

	frames := sock.sentFrames()
	var bulkFrames []wire.Frame
	for _, f := range frames {
		if f.Action == wire.ActionBulkSub {
			bulkFrames = append(bulkFrames, f)
		}
	}
	if len(bulkFrames) != 1 {
		t.Fatalf("expected exactly one bs frame, got %d (%v)", len(bulkFrames), frames)
	}
	// Subscribe always carries a version, so the partitioned group is
	// the versioned (map[string]int) form, not the bare id array.
	var versions map[string]int
	if err := json.Unmarshal(bulkFrames[0].Bulk, &versions); err != nil {
		t.Fatalf("unmarshal bulk versions: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("expected 2 doc ids in bulk frame, got %v", versions)
	}
}

// TestSendSubscribeSingleDocIsNotBulked covers spec.md §4.5's
// partitioning: a single doc in a bulk window still gets the
// non-bulk action tag, not bs/bf/bu.
func TestSendSubscribeSingleDocIsNotBulked(t *testing.T) {
	conn := newTestConnection(t)
	sock := newFakeSocket(ReadyStateOpen)
	conn.Bind(sock)

	conn.StartBulk()
	d := conn.Get("docs", "doc-1")
	conn.SendSubscribe(d)
	conn.EndBulk()

	frames := sock.sentFrames()
	found := false
	for _, f := range frames {
		if f.Action == wire.ActionSubscribe && f.Doc == "doc-1" {
			found = true
		}
		if f.Action == wire.ActionBulkSub {
			t.Errorf("expected no bs frame for a single doc, got %+v", f)
		}
	}
	if !found {
		t.Error("expected a plain 's' frame for doc-1")
	}
}

func TestGetIsIdempotent(t *testing.T) {
	conn := newTestConnection(t)
	d1 := conn.Get("docs", "doc-1")
	d2 := conn.Get("docs", "doc-1")
	if d1 != d2 {
		t.Error("expected Get to return the same Doc identity for repeated calls")
	}
}

func TestDestroyDocRemovesFromRegistry(t *testing.T) {
	conn := newTestConnection(t)
	d1 := conn.Get("docs", "doc-1")
	conn.DestroyDoc(d1)
	d2 := conn.Get("docs", "doc-1")
	if d1 == d2 {
		t.Error("expected DestroyDoc to make a later Get construct a fresh doc")
	}
}

// TestWhenNothingPendingFiresWhenIdle covers spec.md §4.7: the
// quiescence callback is held back while a doc is pending and fires
// once that doc settles.
func TestWhenNothingPendingFiresWhenIdle(t *testing.T) {
	conn := newTestConnection(t)
	d := conn.Get("docs", "doc-1").(*fakeDoc)
	d.mu.Lock()
	d.pending = true
	d.mu.Unlock()

	fired := make(chan struct{})
	conn.WhenNothingPending(func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("callback fired while doc still pending")
	case <-time.After(20 * time.Millisecond):
	}

	d.settle()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback never fired after doc settled")
	}
}

func TestHasPendingReflectsDocs(t *testing.T) {
	conn := newTestConnection(t)
	if conn.HasPending() {
		t.Error("expected HasPending() false with no docs")
	}
	d := conn.Get("docs", "doc-1").(*fakeDoc)
	d.mu.Lock()
	d.pending = true
	d.mu.Unlock()
	if !conn.HasPending() {
		t.Error("expected HasPending() true once a doc is pending")
	}
}

func TestCloseReasonClassification(t *testing.T) {
	cases := map[string]State{
		"closed":           StateClosed,
		"Closed":           StateClosed,
		"stopped":          StateStopped,
		"Stopped by server": StateStopped,
		"anything else":    StateDisconnected,
	}
	for reason, want := range cases {
		if got := classifyCloseReason(reason); got != want {
			t.Errorf("classifyCloseReason(%q) = %v, want %v", reason, got, want)
		}
	}
}
