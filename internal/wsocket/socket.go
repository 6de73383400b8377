// Package wsocket implements connection.Socket over a gorilla/websocket
// connection, optionally dialed through a SOCKS5 proxy. It owns dialing,
// the read pump, and close-reason classification; the connection
// package only ever sees the Socket interface and its callbacks.
package wsocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/nugget/collabsync/internal/connection"
	"github.com/nugget/collabsync/internal/wire"
)

// Options configures a Socket's dial behavior.
type Options struct {
	// URL is the collaboration server's websocket endpoint, e.g.
	// "ws://localhost:8080/ws".
	URL string
	// ProxyURL, if set, is a SOCKS5 proxy URL (socks5://host:port) the
	// dial is tunneled through.
	ProxyURL string
	// HandshakeTimeout bounds the initial dial (default: 10s).
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Socket is a connection.Socket backed by a real websocket connection.
// Dial establishes the connection; pass the Socket to
// connection.Connection.Bind to wire it to a Connection.
type Socket struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	conn     *gorilla.Conn
	state    connection.ReadyState
	cb       connection.SocketCallbacks
	closedBy string // reason passed to the next OnClose, set by Close()
}

// New constructs a Socket in the closed state. Call Dial to connect.
func New(opts Options) *Socket {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Socket{
		opts:   opts,
		logger: opts.Logger,
		state:  connection.ReadyStateClosed,
	}
}

// Dial connects to the configured URL, optionally through a SOCKS5
// proxy, and starts the read pump. On success the socket's ready
// state becomes Open and OnOpen fires (if callbacks are already set).
func (s *Socket) Dial(ctx context.Context) error {
	dialer := gorilla.DefaultDialer
	dialer.HandshakeTimeout = s.opts.HandshakeTimeout

	if s.opts.ProxyURL != "" {
		d, err := socksDialer(s.opts.ProxyURL)
		if err != nil {
			return fmt.Errorf("configure proxy: %w", err)
		}
		dialer = &gorilla.Dialer{
			NetDialContext:   d,
			HandshakeTimeout: s.opts.HandshakeTimeout,
		}
	}

	s.logger.Info("dialing collaboration server", "url", s.opts.URL)

	conn, _, err := dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = connection.ReadyStateOpen
	cb := s.cb
	s.mu.Unlock()

	go s.readLoop(conn)

	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	return nil
}

// ReadyState reports the socket's current readiness.
func (s *Socket) ReadyState() connection.ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send encodes and writes a single frame.
func (s *Socket) Send(f wire.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("wsocket: send on unconnected socket")
	}
	return conn.WriteMessage(gorilla.TextMessage, data)
}

// Close closes the underlying connection. The subsequent read-loop
// exit reports "closed" as the close reason.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.closedBy = "closed"
	s.state = connection.ReadyStateClosing
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SetCallbacks installs the connection's event hooks.
func (s *Socket) SetCallbacks(cb connection.SocketCallbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// readLoop continuously reads frames until the connection fails or is
// closed, dispatching each to OnMessage and the eventual close to
// OnClose with a reason connection.classifyCloseReason can interpret.
func (s *Socket) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			reason := s.closedBy
			if reason == "" {
				reason = closeReason(err)
			}
			s.state = connection.ReadyStateClosed
			s.conn = nil
			cb := s.cb
			s.mu.Unlock()

			if cb.OnClose != nil {
				cb.OnClose(reason)
			}
			return
		}

		s.mu.Lock()
		cb := s.cb
		s.mu.Unlock()

		if cb.OnMessage != nil {
			cb.OnMessage(data)
		}
	}
}

// closeReason classifies an unexpected read error into one of the
// reason strings classifyCloseReason recognizes. Anything not
// explicitly a normal/going-away closure is treated as "disconnected"
// so the Connection attempts to reconnect rather than giving up.
func closeReason(err error) string {
	if gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
		return "closed"
	}
	if gorilla.IsCloseError(err, gorilla.CloseGoingAway, gorilla.CloseServiceRestart) {
		return "Stopped by server"
	}
	return "disconnected"
}

// socksDialer builds a DialContext function that tunnels through the
// SOCKS5 proxy at rawURL.
func socksDialer(rawURL string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	var auth *proxy.Auth
	if u.User != nil {
		auth = &proxy.Auth{User: u.User.Username()}
		if pw, ok := u.User.Password(); ok {
			auth.Password = pw
		}
	}

	dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("build socks5 dialer: %w", err)
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
			return ctxDialer.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}, nil
}
