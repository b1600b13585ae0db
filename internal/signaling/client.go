package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client owns one upgraded WebSocket. All writes go through the send buffer
// and the write pump so the socket has a single writer; Deliver never
// blocks, which keeps a stalled peer from backing up group broadcasts.
type Client struct {
	ws   *websocket.Conn
	send chan []byte
	log  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(ws *websocket.Conn, sendBuffer int, log *slog.Logger) *Client {
	if sendBuffer < 1 {
		sendBuffer = 32
	}
	return &Client{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		log:  log,
		done: make(chan struct{}),
	}
}

// Deliver enqueues a payload for the write pump. False means the buffer is
// full or the client is closing; the caller treats that as a slow consumer.
func (c *Client) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close signals the pumps to stop and closes the socket. Idempotent; safe
// from any goroutine.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump is the socket's only writer: queued payloads, keepalive pings,
// and the final close frame all leave from here.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readLoop pulls inbound frames and hands them to onMessage until the peer
// goes away. It returns once the socket is dead; the caller runs cleanup.
func (c *Client) readLoop(maxMessageBytes int64, onMessage func([]byte)) {
	defer c.close()

	if maxMessageBytes > 0 {
		c.ws.SetReadLimit(maxMessageBytes)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", "err", err)
			}
			return
		}
		if onMessage != nil {
			onMessage(data)
		}
	}
}
