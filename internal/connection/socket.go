package connection

import "github.com/nugget/collabsync/internal/wire"

// ReadyState mirrors the transport's connection readiness, consulted
// only at Bind time to pick the Connection's initial state.
type ReadyState int

const (
	ReadyStateConnecting ReadyState = iota
	ReadyStateOpen
	ReadyStateClosing
	ReadyStateClosed
)

// SocketCallbacks are the four event hooks a Socket invokes on the
// connection. Bind installs these; rebinding a new socket clears the
// previous one's callbacks (spec.md §4.2).
type SocketCallbacks struct {
	OnOpen    func()
	OnMessage func(raw []byte)
	OnClose   func(reason string)
	OnError   func(err error)
}

// Socket is the contract the transport must satisfy. The concrete
// implementation (internal/wsocket) owns dialing, read pumping, and
// close-reason classification; Connection only ever calls these
// methods and receives callbacks through SocketCallbacks.
type Socket interface {
	ReadyState() ReadyState
	Send(f wire.Frame) error
	Close() error
	SetCallbacks(cb SocketCallbacks)
}
