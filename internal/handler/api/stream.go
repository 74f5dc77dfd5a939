package api

import (
	"net/http"
	"sync"
	"time"

	"TaPull/internal/domain/models"
	xlogger "TaPull/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	subscriberBuf = 64
)

// StreamHandler broadcasts every resolved snapshot (live and fallback) to
// WebSocket subscribers. Slow subscribers drop messages instead of stalling
// the feed.
type StreamHandler struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan *models.IndicatorSnapshot
}

func NewStreamHandler(logger *xlogger.Logger) *StreamHandler {
	return &StreamHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/stream", h.Stream)
}

// Stream upgrades the connection and streams snapshots until the client
// disconnects.
func (h *StreamHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil // upgrader already wrote the HTTP error
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan *models.IndicatorSnapshot, subscriberBuf),
	}
	h.register(sub)
	h.logger.Info("stream subscriber connected", xlogger.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(sub)
	h.readLoop(sub)
	return nil
}

// Broadcast fans a snapshot out to all subscribers, non-blocking.
func (h *StreamHandler) Broadcast(s *models.IndicatorSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- s:
		default:
			// subscriber too slow; drop this message for it
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *StreamHandler) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *StreamHandler) register(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *StreamHandler) unregister(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

// readLoop discards inbound frames; its job is pong handling and detecting
// the close.
func (h *StreamHandler) readLoop(sub *subscriber) {
	defer func() {
		h.unregister(sub)
		_ = sub.conn.Close()
	}()
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()
	for {
		select {
		case snap, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := sub.conn.WriteJSON(snap); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
