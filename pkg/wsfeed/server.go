// Package wsfeed serves a live feed of fixes and region events over a
// websocket connection, for a UI or a second process that wants to
// watch the engine without polling pkg/health or pkg/telem. It
// implements session.Delegate so a daemon can register it alongside its
// primary delegate and get fix, failure and region enter/exit/state
// callbacks broadcast to connected clients with no polling loop of its
// own. Authorization changes and region-monitoring failures are not
// broadcast.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/logx"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/session"
)

// clientSendBuffer bounds how far a slow client can lag before it is
// dropped rather than blocking the broadcaster.
const clientSendBuffer = 32

// Frame is the JSON message shape sent to every connected client.
type Frame struct {
	Type      string         `json:"type"`
	Fix       *geo.Fix       `json:"fix,omitempty"`
	Region    *region.Region `json:"region,omitempty"`
	State     string         `json:"state,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server accepts websocket connections on /feed and broadcasts a Frame
// for each OnUpdate, OnFail, OnEnterRegion, OnExitRegion and
// OnDetermineState callback it receives; the other Delegate methods are
// the embedded no-ops. Embedding
// session.DefaultDelegate means it can be handed to session.New
// directly as the sole delegate, or composed alongside another one via
// a small fan-out delegate in the caller.
type Server struct {
	session.DefaultDelegate

	logger   *logx.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewServer creates a Server. CheckOrigin always allows, matching the
// teacher's dashboard feed — this is a same-host operational feed, not
// a public API.
func NewServer(logger *logx.Logger) *Server {
	return &Server{
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start begins serving the feed on port.
func (s *Server) Start(port int) error {
	s.logger.Info("starting wsfeed server", "port", port)

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleWS)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("wsfeed server error", "error", err.Error())
		}
	}()
	return nil
}

// Stop shuts the feed server down gracefully and disconnects clients.
func (s *Server) Stop() error {
	s.logger.Info("stopping wsfeed server")

	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("wsfeed upgrade failed", "error", err.Error())
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("wsfeed client connected", "clients", count)

	go func() {
		defer conn.Close()
		for msg := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer s.dropClient(c)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("wsfeed client disconnected", "clients", count)
}

func (s *Server) broadcast(frame Frame) {
	frame.Timestamp = time.Now()
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn("wsfeed marshal failed", "error", err.Error())
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Debug("wsfeed client too slow, dropping frame")
		}
	}
}

// OnUpdate broadcasts a new fix to every connected client.
func (s *Server) OnUpdate(f geo.Fix) {
	s.broadcast(Frame{Type: "fix", Fix: &f})
}

// OnFail broadcasts a provider failure.
func (s *Server) OnFail(err error) {
	s.broadcast(Frame{Type: "fail", Error: err.Error()})
}

// OnEnterRegion broadcasts a region entry transition.
func (s *Server) OnEnterRegion(r region.Region) {
	s.broadcast(Frame{Type: "region_enter", Region: &r})
}

// OnExitRegion broadcasts a region exit transition.
func (s *Server) OnExitRegion(r region.Region) {
	s.broadcast(Frame{Type: "region_exit", Region: &r})
}

// OnDetermineState broadcasts the result of an on-demand region state
// query.
func (s *Server) OnDetermineState(state region.State, r region.Region) {
	s.broadcast(Frame{Type: "region_state", State: state.String(), Region: &r})
}
