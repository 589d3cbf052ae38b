package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Notification is the wire envelope for server-to-client events.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client is one participant's websocket connection. It implements
// domain.Conn. Writes are serialized; gorilla connections allow a single
// concurrent writer.
type Client struct {
	identity string
	conn     *websocket.Conn
	mu       sync.Mutex
}

func newClient(identity string, conn *websocket.Conn) *Client {
	return &Client{
		identity: identity,
		conn:     conn,
	}
}

func (c *Client) Identity() string {
	return c.identity
}

func (c *Client) Send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(Notification{Event: event, Data: data})
}

func (c *Client) Close() error {
	return c.conn.Close()
}
