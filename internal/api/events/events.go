// Package events streams notifications to websocket clients.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/notification"
	"github.com/osa030/tunebox/internal/domain/tenant"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var errSlowClient = errors.New("client is not keeping up")

// Handler upgrades requests to websockets and subscribes them to
// notifications. ?tenant= limits the stream to one tenant.
type Handler struct {
	notifier *notification.Manager
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler. An empty origins list accepts
// any origin.
func NewHandler(notifier *notification.Manager, origins []string) *Handler {
	return &Handler{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      checkOrigin(origins),
		},
	}
}

func checkOrigin(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(origins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, allowed := range origins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		zlog.Warn().Msgf("websocket connection rejected: origin=%s", origin)
		return false
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan *notification.Notification, sendBuffer),
		done: make(chan struct{}),
	}
	id := h.notifier.Subscribe(tenant.ID(r.URL.Query().Get("tenant")), c)
	zlog.Debug().Msgf("websocket client subscribed: id=%s remote=%s", id, r.RemoteAddr)

	go c.writePump()
	c.readPump()

	h.notifier.Unsubscribe(id)
	c.close()
}

// client is a middleman between the websocket connection and the notifier.
type client struct {
	conn *websocket.Conn
	send chan *notification.Notification

	once sync.Once
	done chan struct{}
}

// Send queues n for the write pump without blocking.
func (c *client) Send(n *notification.Notification) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- n:
		return nil
	default:
		c.close()
		return errSlowClient
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump discards client messages and keeps the read deadline fresh.
func (c *client) readPump() {
	defer func() {
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zlog.Debug().Msgf("unexpected websocket close: %v", err)
			}
			return
		}
	}
}

// writePump writes queued notifications and pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case n := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
