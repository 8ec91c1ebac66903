package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WSConn carries one message per binary websocket frame, without the length
// prefix used on stream connections.
type WSConn struct {
	id      SenderID
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{
		id:   NewSenderID(),
		conn: conn,
	}
}

func (c *WSConn) ID() SenderID { return c.id }

func (c *WSConn) ReadMessage() (*Message, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.BinaryMessage:
			return decodeBody(data)
		case websocket.TextMessage:
			return nil, fmt.Errorf("websocket: text frames are not supported")
		}
	}
}

func (c *WSConn) WriteMessage(m *Message) error {
	body, err := encodeBody(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, body)
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}

func (c *WSConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
