package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/blueiewu/iot-honeypot-esp32/pkg/attacklog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientQueueSize bounds the per-client send buffer. A client that falls
// this far behind is disconnected instead of stalling the pipeline.
const clientQueueSize = 32

// hub fans records out to connected websocket clients.
type hub struct {
	logger *logrus.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

func newHub(logger *logrus.Logger) *hub {
	return &hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

func (h *hub) add(conn *websocket.Conn) (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	queue := make(chan []byte, clientQueueSize)
	h.clients[conn] = queue
	return queue, true
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if queue, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(queue)
	}
	h.mu.Unlock()
}

// broadcast queues payload for every client without blocking. Clients
// with a full queue are dropped.
func (h *hub) broadcast(payload []byte) {
	var stale []*websocket.Conn

	h.mu.Lock()
	for conn, queue := range h.clients {
		select {
		case queue <- payload:
		default:
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		if queue, ok := h.clients[conn]; ok {
			delete(h.clients, conn)
			close(queue)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		h.logger.WithField("remote", conn.RemoteAddr().String()).Warn("Dropping slow feed client")
		conn.Close()
	}
}

func (h *hub) close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn, queue := range h.clients {
		conns = append(conns, conn)
		close(queue)
	}
	h.clients = make(map[*websocket.Conn]chan []byte)
	h.closed = true
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// feedRecord is the pipeline sink: render once, fan out to every client.
func (s *Server) feedRecord(rec attacklog.Record) {
	payload, err := json.Marshal(s.viewOf(rec))
	if err != nil {
		return
	}
	s.hub.broadcast(payload)
}

// handleWS upgrades the connection and streams records until the client
// goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	queue, ok := s.hub.add(conn)
	if !ok {
		conn.Close()
		return
	}
	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("Feed client connected")

	go func() {
		for payload := range queue {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.hub.remove(conn)
				conn.Close()
				return
			}
		}
	}()

	// Reads only detect disconnect; inbound frames are discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.remove(conn)
	conn.Close()
	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("Feed client disconnected")
}
