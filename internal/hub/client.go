package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/driftlabs/chatrelay/internal/config"
	"github.com/driftlabs/chatrelay/pkg/log"
)

// Client wraps one websocket connection with buffered outbound
// delivery. It carries no room state; the handler owns the mapping
// from connection to room.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	cfg    config.WebSocketConfig
	logger zerolog.Logger
	once   sync.Once
}

func NewClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig, logger zerolog.Logger) *Client {
	size := cfg.SendBufferSize
	if size <= 0 {
		size = 256
	}
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, size),
		cfg:    cfg,
		logger: logger.With().Str(log.FieldClientID, id).Logger(),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues a payload for the write pump. Returns false when the
// buffer is full.
func (c *Client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close shuts the outbound channel, letting the write pump finish with
// a close frame. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// ReadPump reads frames from the connection and hands them to onFrame.
// onClose runs exactly once when the connection dies.
func (c *Client) ReadPump(onFrame func(*Client, []byte), onClose func(*Client)) {
	defer func() {
		onClose(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}

		onFrame(c, message)
	}
}

// WritePump drains the send buffer onto the connection and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ Peer = (*Client)(nil)
