package bench

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/sketch"
)

const (
	writeWait  = 2 * time.Second
	clientSend = 64
)

// client is one connected diagnostics viewer.
type client struct {
	conn *websocket.Conn
	send chan PerformanceStats
	once sync.Once
}

// StatsServer streams PerformanceStats to WebSocket clients as JSON
// messages. New clients first receive the latest stats of every scenario
// published so far. Slow clients drop messages rather than stall the
// publisher.
type StatsServer struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	latest  map[string]PerformanceStats
	order   []string
	dropped uint64
	closed  bool
}

// NewStatsServer creates a server. Mount it on an http.ServeMux or pass it
// to http.Server as the handler.
func NewStatsServer() *StatsServer {
	return &StatsServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Diagnostics viewers are served from anywhere on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		latest:  make(map[string]PerformanceStats),
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams stats until
// the client disconnects or the server is closed.
func (s *StatsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sketch.Logger().Warn("bench: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan PerformanceStats, clientSend)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	for _, name := range s.order {
		select {
		case c.send <- s.latest[name]:
		default:
			s.dropped++
		}
	}
	s.mu.Unlock()
	sketch.Logger().Info("bench: stats client connected", "remote", conn.RemoteAddr().String())

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards client messages and detects disconnects.
func (s *StatsServer) readLoop(c *client) {
	defer s.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *StatsServer) writeLoop(c *client) {
	defer func() { _ = c.conn.Close() }()
	for st := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(st); err != nil {
			s.remove(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *StatsServer) remove(c *client) {
	c.once.Do(func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.send)
		sketch.Logger().Info("bench: stats client disconnected", "remote", c.conn.RemoteAddr().String())
	})
}

// Publish sends st to every client and remembers it as the latest stats
// of its scenario.
func (s *StatsServer) Publish(st PerformanceStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.latest[st.Scenario]; !ok {
		s.order = append(s.order, st.Scenario)
	}
	s.latest[st.Scenario] = st
	for c := range s.clients {
		select {
		case c.send <- st:
		default:
			s.dropped++
		}
	}
}

// Latest returns the most recent stats of every published scenario, in
// first-publish order.
func (s *StatsServer) Latest() []PerformanceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PerformanceStats, len(s.order))
	for i, name := range s.order {
		out[i] = s.latest[name]
	}
	return out
}

// Clients returns the number of connected clients.
func (s *StatsServer) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped returns the number of messages dropped for slow clients.
func (s *StatsServer) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Close disconnects every client. Later connections are refused.
func (s *StatsServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.remove(c)
	}
	return nil
}
