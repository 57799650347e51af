package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adamstosho/grochain/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16

	sendBufferSize = 64
)

// ErrConnClosed is returned when writing to a connection that has shut down.
var ErrConnClosed = errors.New("realtime: connection closed")

type controlMessage struct {
	Action string `json:"action"`
}

// wsConn adapts a gorilla websocket to the registry's Conn interface with a
// buffered outbound queue so registry sends never perform network I/O.
type wsConn struct {
	socket *websocket.Conn
	userID string
	send   chan Event
	done   chan struct{}
	once   sync.Once
	onExit func(*wsConn)
}

func newWSConn(socket *websocket.Conn, userID string, onExit func(*wsConn)) *wsConn {
	return &wsConn{
		socket: socket,
		userID: userID,
		send:   make(chan Event, sendBufferSize),
		done:   make(chan struct{}),
		onExit: onExit,
	}
}

// WriteEvent enqueues the event for delivery. A full buffer means the client
// stopped draining; the connection is dropped rather than blocking callers.
func (c *wsConn) WriteEvent(event Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- event:
		return nil
	default:
		logger.WithModule("realtime").Warn("dropping backpressure client",
			zap.String("user_id", c.userID))
		c.Close()
		return ErrConnClosed
	}
}

// Close shuts the connection down exactly once.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.socket.Close()
		if c.onExit != nil {
			c.onExit(c)
		}
	})
	return nil
}

func (c *wsConn) readLoop() {
	defer c.Close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithModule("realtime").Warn("unexpected close",
					zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			continue
		}

		if strings.EqualFold(strings.TrimSpace(ctrl.Action), "ping") {
			_ = c.WriteEvent(NewEvent(EventPong, nil))
		}
	}
}

func (c *wsConn) writeLoop() {
	defer c.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case event := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
