package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/beacon-gps/trackview/internal/logging"
	"github.com/beacon-gps/trackview/pkg/wire"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// stream pushes view changes to one WebSocket client with a single write
// goroutine.
type stream struct {
	id     string
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
	logger logging.Logger
}

func newStream(conn *ws.Conn, logger logging.Logger) *stream {
	return &stream{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// send queues data. Non-blocking; drops if the client is too slow.
func (s *stream) send(data []byte) {
	select {
	case s.sendCh <- data:
	case <-s.done:
	default:
		s.logger.Warn("stream send channel full, dropping message", "stream", s.id)
	}
}

func (s *stream) sendEnvelope(typ string, payload any) {
	env, err := wire.NewEnvelope(typ, payload)
	if err != nil {
		s.logger.Error("encoding stream message failed", "type", typ, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("encoding stream envelope failed", "type", typ, "error", err)
		return
	}
	s.send(data)
}

// writeLoop drains sendCh and writes messages to the WebSocket.
func (s *stream) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.sendCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
			if err := s.conn.WriteMessage(ws.TextMessage, data); err != nil {
				s.logger.Debug("stream write error", "stream", s.id, "error", err)
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		}
	}
}

// readLoop discards client messages and notices when the client goes away.
func (s *stream) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.close()
			return
		}
	}
}

// close sends a close frame and shuts the stream down.
func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = s.conn.Close()
	})
}

// Stream handles GET /ws.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := newStream(conn, h.logger)
	h.mu.Lock()
	h.streams[s] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.streams, s)
		h.mu.Unlock()
	}()

	updates, unsubscribe := h.view.Subscribe()
	defer unsubscribe()

	h.logger.Debug("stream opened", "stream", s.id)
	go s.writeLoop()
	go s.readLoop()

	s.sendEnvelope(wire.TypeHello, wire.Hello{Session: s.id})
	s.sendEnvelope(wire.TypeView, h.snapshot())

	for {
		select {
		case <-s.done:
			h.logger.Debug("stream closed", "stream", s.id)
			return
		case _, ok := <-updates:
			if !ok {
				s.close()
				return
			}
			s.sendEnvelope(wire.TypeView, h.snapshot())
		}
	}
}

func (h *Handlers) closeStreams() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.streams {
		s.close()
	}
}
