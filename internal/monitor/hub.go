// Package monitor streams server events to websocket subscribers. The
// feed is one way and best effort: a subscriber that cannot keep up
// loses events rather than slowing the server down.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"chatter/internal/core"
)

const writeTimeout = 5 * time.Second

// Hub fans server events out to websocket subscribers. It is a
// core.Sink, so it plugs straight into the store's sink chain.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the feed route on an Echo router.
func (h *Hub) Register(e *echo.Echo) {
	e.GET("/ws", h.handleSocket)
}

// Emit implements core.Sink. The event is marshalled once and offered to
// every subscriber; a full send buffer drops the event for that
// subscriber only.
func (h *Hub) Emit(ev core.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal monitor event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			h.log.Debug().Msg("monitor subscriber lagging, event dropped")
		}
	}
}

// Subscribers reports how many feed connections are open.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) handleSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("monitor subscribed")

	go h.writePump(sub)
	h.readLoop(sub)
	return nil
}

// remove detaches a subscriber. The send channel is closed only after
// the subscriber leaves the map, so Emit can never hit a closed channel.
func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, sub)
	h.mu.Unlock()
	close(sub.send)
	_ = sub.conn.Close()
	h.log.Debug().Msg("monitor unsubscribed")
}

func (h *Hub) writePump(sub *subscriber) {
	for data := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(sub)
			return
		}
	}
}

// readLoop discards inbound frames; the feed is one way. It exists to
// notice the peer closing the connection.
func (h *Hub) readLoop(sub *subscriber) {
	sub.conn.SetReadLimit(1 << 20)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.remove(sub)
			return
		}
	}
}
