package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/elfradio/elfradio/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub serves the status event stream over WebSocket.
type Hub struct {
	bus      *Bus
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// NewHub creates a hub that relays events from bus.
func NewHub(bus *Bus, logger *logrus.Logger) *Hub {
	return &Hub{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	log := h.logger.WithField("client_id", clientID)
	events, unsubscribe := h.bus.Subscribe()
	log.WithField("clients", h.bus.SubscriberCount()).Info("WebSocket client connected")

	done := make(chan struct{})
	go h.readPump(conn, done, log)
	h.writePump(conn, events, done, log)

	unsubscribe()
	conn.Close()
	log.WithField("clients", h.bus.SubscriberCount()).Info("WebSocket client disconnected")
}

// readPump drains client frames so control messages are processed. It
// closes done when the peer disconnects.
func (h *Hub) readPump(conn *websocket.Conn, done chan struct{}, log *logrus.Entry) {
	defer close(done)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("WebSocket read error")
			}
			return
		}
		if msgType == websocket.TextMessage {
			log.WithField("bytes", len(data)).Debug("Ignoring client text frame")
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, events <-chan models.StatusEvent, done <-chan struct{}, log *logrus.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).Error("Failed to encode status event")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.WithError(err).Debug("WebSocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
