package media

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMediaFrameBytes = 1 << 20
	startFrameTimeout  = 5 * time.Second
)

// Handler upgrades carrier media-stream connections and pumps frames into
// the bridge registered for the call named in the start frame.
type Handler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the media-stream endpoint.
func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The carrier's media origin is not a browser.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("media upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMediaFrameBytes)

	// The first frame must be a start naming the call.
	_ = conn.SetReadDeadline(time.Now().Add(startFrameTimeout))
	first, err := readFrame(conn)
	if err != nil {
		h.logger.Warn("media stream closed before start", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	if first.Event != EventStart || first.Start == nil || first.Start.CallID == "" {
		h.logger.Warn("media stream sent no start frame", "event", first.Event)
		return
	}
	callID := first.Start.CallID

	bridge, ok := h.hub.Get(callID)
	if !ok {
		h.logger.Warn("media stream for unknown call", "call_id", callID)
		return
	}

	bridge.Bind(&wsLeg{conn: conn})
	bridge.HandleFrame(first)
	defer func() {
		bridge.Finalize()
		h.hub.Remove(callID)
	}()

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("media stream read failed", "call_id", callID, "error", err)
			}
			return
		}
		bridge.HandleFrame(frame)
		if frame.Event == EventStop {
			return
		}
	}
}

func readFrame(conn *websocket.Conn) (Frame, error) {
	var frame Frame
	_, data, err := conn.ReadMessage()
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, err
	}
	return frame, nil
}

// wsLeg serializes frame writes onto the carrier websocket.
type wsLeg struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *wsLeg) WriteFrame(f Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return l.conn.WriteJSON(f)
}
