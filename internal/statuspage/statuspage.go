// Package statuspage serves a small HTML status page summarizing
// server health: build info, reachability of watched services
// (connwatch), and live PubSub stream counts. The page body is
// authored as markdown and rendered to HTML via goldmark, the same
// renderer the teacher stack uses for outgoing email bodies.
package statuspage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/nugget/collabsync/internal/buildinfo"
	"github.com/nugget/collabsync/internal/connwatch"
	"github.com/nugget/collabsync/internal/events"
)

// StreamCounter reports live PubSub stream counts for the status page.
// Implemented by *pubsub.PubSub.
type StreamCounter interface {
	StreamCount() int
}

// Server serves the status page, a plain-text health check, and the
// live event feed.
type Server struct {
	address string
	port    int
	watch   *connwatch.Manager
	streams StreamCounter
	events  *events.Bus
	server  *http.Server
}

// NewServer creates a status page server. watch and streams may be nil
// if those subsystems aren't in use. bus, if non-nil, backs the
// GET /events live feed.
func NewServer(address string, port int, watch *connwatch.Manager, streams StreamCounter, bus *events.Bus) *Server {
	return &Server{address: address, port: port, watch: watch, streams: streams, events: bus}
}

// Start begins serving the status page. Blocks until the server stops
// or errors.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

// handleEvents streams the operational event bus as server-sent events,
// so a terminal (curl -N) or browser EventSource can tail live
// subscribe/publish/reachability activity without polling /status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event bus not configured", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.events.Subscribe(64)
	defer s.events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	md := s.render()

	var buf strings.Builder
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		http.Error(w, "render status page: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>collabsync status</title></head><body>%s</body></html>", buf.String())
}

// render builds the markdown source for the status page.
func (s *Server) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# collabsync\n\n")
	fmt.Fprintf(&b, "%s\n\n", buildinfo.String())
	fmt.Fprintf(&b, "Uptime: %s\n\n", buildinfo.Uptime())

	if s.streams != nil {
		fmt.Fprintf(&b, "## PubSub\n\nLive streams: %d\n\n", s.streams.StreamCount())
	}

	if s.watch != nil {
		fmt.Fprintf(&b, "## Watched services\n\n")
		for name, st := range s.watch.Status() {
			status := "reachable"
			if !st.Ready {
				status = "unreachable"
			}
			fmt.Fprintf(&b, "- **%s**: %s", name, status)
			if st.LastError != "" {
				fmt.Fprintf(&b, " (%s)", st.LastError)
			}
			fmt.Fprintf(&b, "\n")
		}
	}

	return b.String()
}
