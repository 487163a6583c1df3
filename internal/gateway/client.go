package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trademind/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Client is one WebSocket session pinned to a single symbol.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	symbol string
	sub    model.Subscription

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, symbol string, sub model.Subscription) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		symbol: symbol,
		sub:    sub,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
		c.hub.removeClient(c)
	})
}

// bridge forwards broker messages for this session's symbol into the send
// queue. A full queue drops the frame rather than stalling the stream.
func (c *Client) bridge() {
	defer c.close()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.sub.C():
			if !ok {
				return
			}
			if msg.Symbol != c.symbol {
				continue
			}
			select {
			case c.send <- msg.JSON():
			default:
				c.hub.metrics.BroadcastDrops.Inc()
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump drains the connection so pings, pongs and the close handshake
// keep working. Inbound frames carry no commands and are ignored.
func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
