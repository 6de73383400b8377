package wsocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/nugget/collabsync/internal/connection"
	"github.com/nugget/collabsync/internal/wire"
)

func echoServer(t *testing.T) *httptest.Server {
	upgrader := gorilla.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestDialAndSend(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sock := New(Options{URL: wsURL})

	opened := make(chan struct{}, 1)
	received := make(chan []byte, 1)
	sock.SetCallbacks(connection.SocketCallbacks{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(raw []byte) { received <- raw },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sock.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}

	if sock.ReadyState() != connection.ReadyStateOpen {
		t.Errorf("ReadyState() = %v, want Open", sock.ReadyState())
	}

	f := wire.Frame{Action: wire.ActionFetch, Collection: "docs", Doc: "1"}
	if err := sock.Send(f); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case raw := <-received:
		got, err := wire.Decode(raw)
		if err != nil {
			t.Fatalf("decode echoed frame: %v", err)
		}
		if got.Action != wire.ActionFetch || got.Doc != "1" {
			t.Errorf("got frame %+v, want echo of %+v", got, f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed message")
	}

	_ = sock.Close()
}

func TestCloseReportsClosed(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sock := New(Options{URL: wsURL})

	closed := make(chan string, 1)
	sock.SetCallbacks(connection.SocketCallbacks{
		OnClose: func(reason string) { closed <- reason },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sock.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := sock.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case reason := <-closed:
		if reason != "closed" {
			t.Errorf("close reason = %q, want %q", reason, "closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestSendBeforeDialErrors(t *testing.T) {
	sock := New(Options{URL: "ws://example.invalid/ws"})
	err := sock.Send(wire.Frame{Action: wire.ActionFetch})
	if err == nil {
		t.Fatal("expected error sending before Dial")
	}
}
