package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8 << 10

	// Inbound command budget per connection: short bursts are fine, a
	// client hammering build commands is not.
	inboundRate  = 10 // per second
	inboundBurst = 20
)

// CommandHandler processes one inbound client message. Returned errors are
// delivered to the client as an error envelope; they never close the
// connection.
type CommandHandler func(ctx context.Context, c *Client, msg Message) error

// Client binds a websocket connection to a hub subscriber.
type Client struct {
	Sub  *Subscriber
	hub  *Hub
	conn *websocket.Conn

	// Session state set by the authenticate/join handlers.
	AccountID string
	ProfileID string
	WorldID   string
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{Sub: hub.NewSubscriber(id), hub: hub, conn: conn}
}

// Run drives the read and write pumps until the connection drops or ctx is
// cancelled. Blocks; callers run it in the connection's goroutine.
func (c *Client) Run(ctx context.Context, handle CommandHandler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.hub.Remove(c.Sub)

	go c.writePump(ctx, cancel)

	c.hub.Send(c.Sub, EvConnected, map[string]any{"subscriberId": c.Sub.ID})
	c.readPump(ctx, handle)
}

func (c *Client) readPump(ctx context.Context, handle CommandHandler) {
	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	limiter := rate.NewLimiter(inboundRate, inboundBurst)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "subscriber", c.Sub.ID, "error", err)
			}
			return
		}
		if !limiter.Allow() {
			c.hub.Send(c.Sub, EvError, map[string]any{
				"code": "RATE_LIMITED", "message": "too many commands",
			})
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.Send(c.Sub, EvError, map[string]any{
				"code": "MISSING_FIELDS", "message": "malformed message",
			})
			continue
		}

		if err := handle(ctx, c, msg); err != nil {
			slog.Debug("command failed", "subscriber", c.Sub.ID, "type", msg.Type, "error", err)
		}
	}
}

func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer cancel()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.Sub.Out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// JoinWorld moves the client into a world room, leaving any previous one.
func (c *Client) JoinWorld(worldID string) {
	if c.WorldID != "" {
		c.hub.Leave(c.Sub, WorldRoom(c.WorldID))
	}
	c.WorldID = worldID
	c.hub.Join(c.Sub, WorldRoom(worldID))
}

// LeaveWorld drops the client out of its world room.
func (c *Client) LeaveWorld() {
	if c.WorldID != "" {
		c.hub.Leave(c.Sub, WorldRoom(c.WorldID))
		c.WorldID = ""
	}
}

// JoinSettlement subscribes the client to a settlement's targeted room.
func (c *Client) JoinSettlement(settlementID string) {
	c.hub.Join(c.Sub, SettlementRoom(settlementID))
}
