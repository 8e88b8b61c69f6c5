package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tourney-sync/internal/cache"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin API is served to operators' tooling from any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ClientMessage is a request from a client. Subscribe and unsubscribe carry
// the cache filter to follow, for example {"tournament_id":"T1","team_id":"7"}
// to see only invalidations touching one team of a tournament.
type ClientMessage struct {
	Type   string       `json:"type"`
	Filter cache.Filter `json:"filter"`
}

// Client is one connection to the hub.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
	}
}

// readPump reads client requests until the connection fails, then leaves
// the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		var req ClientMessage
		if err := json.Unmarshal(raw, &req); err != nil {
			c.reply(MessageTypeError, errorData("malformed request"))
			continue
		}
		c.handle(req)
	}
}

func (c *Client) handle(req ClientMessage) {
	switch req.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if req.Filter.IsZero() {
			c.reply(MessageTypeError, errorData("filter needs a service, tournament_id, team_id or game_code"))
			return
		}
		if req.Type == MessageTypeSubscribe {
			c.hub.Subscribe(c, req.Filter)
			c.reply(MessageTypeSubscribed, req.Filter)
		} else {
			c.hub.Unsubscribe(c, req.Filter)
			c.reply(MessageTypeUnsubscribed, req.Filter)
		}
	case MessageTypePing:
		c.reply(MessageTypePong, nil)
	default:
		c.reply(MessageTypeError, errorData("unknown request type "+req.Type))
	}
}

func errorData(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// reply queues a response frame, dropping it when the send buffer is full.
func (c *Client) reply(msgType string, data any) {
	frame, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: time.Now()})
	if err != nil {
		c.logger.Error("failed to encode reply", "type", msgType, "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("send buffer full, dropping reply", "type", msgType)
	}
}

// writePump writes queued frames, one per websocket message, and keeps the
// connection alive with pings. It exits when the hub closes send.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and attaches the connection to the hub.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := NewClient(hub, conn, logger)
	hub.Register(c)
	go c.writePump()
	go c.readPump()
	c.logger.Debug("websocket connected", "remote", r.RemoteAddr)
}
