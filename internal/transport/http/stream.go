package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"devscope-relay/internal/domain"
	hubpkg "devscope-relay/internal/hub"
	"devscope-relay/internal/observability/metrics"
	obsmw "devscope-relay/internal/observability/middleware"
	"devscope-relay/internal/pending"
	"devscope-relay/internal/service"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var errConnClosed = errors.New("connection closed")

type streamServer struct {
	devices *service.DeviceService
	relay   *service.RelayService
	hub     *hubpkg.Hub
	queue   pending.Queue
	buffer  int

	upgrader websocket.Upgrader
}

func newStreamServer(d Deps) *streamServer {
	buffer := d.StreamBuffer
	if buffer <= 0 {
		buffer = 2 * pending.DefaultMaxPerDevice
	}
	return &streamServer{
		devices: d.Devices,
		relay:   d.Relay,
		hub:     d.Hub,
		queue:   d.Queue,
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native apps; the relay key is the gate, not Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// handle upgrades the request to a websocket and runs it until the peer goes
// away. Queued envelopes flush to the socket before live traffic starts; the
// hub holds its lock across the flush so ordering per device is preserved.
func (s *streamServer) handle(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("ownerId")
	deviceID := r.URL.Query().Get("deviceId")
	if ownerID == "" || deviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "ownerId and deviceId are required")
		return
	}

	if _, err := s.devices.EnsureRegistered(r.Context(), ownerID, deviceID); err != nil {
		writeServiceError(w, r, "stream connect", err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		slog.Warn("stream upgrade failed", "error", err,
			"request_id", obsmw.RequestIDFromContext(r.Context()))
		return
	}

	conn := newWSConn(ws, s.buffer)
	go conn.writeLoop()

	s.hub.Register(ownerID, deviceID, conn, func() [][]byte {
		payloads, err := s.queue.Drain(r.Context(), ownerID, deviceID)
		if err != nil {
			slog.Warn("pending drain failed", "error", err,
				"owner_id", ownerID, "device_id", deviceID)
			return nil
		}
		return payloads
	})
	metrics.ActiveConnections.WithLabelValues().Inc()
	slog.Info("stream connected", "owner_id", ownerID, "device_id", deviceID)

	defer func() {
		s.hub.Unregister(ownerID, deviceID, conn)
		conn.Close()
		metrics.ActiveConnections.WithLabelValues().Dec()
		slog.Info("stream disconnected", "owner_id", ownerID, "device_id", deviceID)
	}()

	s.readLoop(r, ownerID, deviceID, ws)
}

// readLoop handles inbound frames: each is an envelope publish from the
// connected device. Routing identity comes from the connection, not the
// frame, so a device cannot publish as somebody else.
func (s *streamServer) readLoop(r *http.Request, ownerID, deviceID string, ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("stream frame rejected", "error", "malformed envelope",
				"owner_id", ownerID, "device_id", deviceID, "frame_bytes", len(data))
			continue
		}
		env.OwnerID = ownerID
		env.FromDeviceID = deviceID

		res, err := s.relay.Publish(r.Context(), env)
		if err != nil {
			slog.Warn("stream publish rejected", "error", err,
				"owner_id", ownerID, "device_id", deviceID)
			if errors.Is(err, domain.ErrDeviceRevoked) {
				return
			}
			continue
		}
		recordPublish(r, env, res)
	}
}

// wsConn adapts a websocket to hub.Conn. Sends go through a buffered channel
// drained by a single writer goroutine, which keeps gorilla's one-writer rule
// and preserves send order.
type wsConn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{
		ws:     ws,
		sendCh: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Send buffers payload for the writer goroutine. A full buffer means the
// client is not keeping up; the caller treats that as not-delivered and the
// envelope goes to the pending queue instead.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.sendCh <- payload:
		return nil
	default:
		return errConnClosed
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
