package transport

import (
	"bufio"
	"net"
	"sync"
)

const defaultBufferSize = 32 * 1024

type ConnOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
}

type BufferedConn struct {
	id      SenderID
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex
}

func NewBufferedConn(conn net.Conn) *BufferedConn {
	return NewBufferedConnWithOptions(conn, ConnOptions{})
}

func NewBufferedConnWithOptions(conn net.Conn, opts ConnOptions) *BufferedConn {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultBufferSize
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = defaultBufferSize
	}
	return &BufferedConn{
		id:     NewSenderID(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, opts.ReadBufferSize),
		writer: bufio.NewWriterSize(conn, opts.WriteBufferSize),
	}
}

func (c *BufferedConn) ID() SenderID { return c.id }

func (c *BufferedConn) ReadMessage() (*Message, error) {
	return ReadFrame(c.reader)
}

func (c *BufferedConn) WriteMessage(m *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrame(c.writer, m); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *BufferedConn) Close() error {
	return c.conn.Close()
}

func (c *BufferedConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
