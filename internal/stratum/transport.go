package stratum

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one duplex carrier of stratum messages. The raw TCP transport
// frames with newlines; the WebSocket transport frames with text messages.
// Both deliver exactly one JSON document per ReadMessage.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// maxLineLength bounds a single stratum line; anything longer is a
// malformed client.
const maxLineLength = 16 * 1024

// tcpConn carries newline-delimited JSON over a raw TCP stream.
type tcpConn struct {
	conn      net.Conn
	scanner   *bufio.Scanner
	buf       []byte
	closeOnce sync.Once
}

// NewTCPConn wraps a TCP connection as a stratum transport.
func NewTCPConn(conn net.Conn) Conn {
	buf := GetBuffer()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(buf, maxLineLength)
	return &tcpConn{conn: conn, scanner: scanner, buf: buf}
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	for {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("connection closed: %w", net.ErrClosed)
		}
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// WriteMessage appends the newline delimiter; the write is flushed by the
// unbuffered net.Conn immediately, one message per line.
func (c *tcpConn) WriteMessage(data []byte) error {
	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, data...)
	framed = append(framed, '\n')
	_, err := c.conn.Write(framed)
	return err
}

// Close releases the connection and hands the scanner buffer back to the
// pool. The buffer is pooled at most once even if Close is called again.
func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() { PutBuffer(c.buf) })
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// wsConn carries stratum messages as WebSocket text frames.
type wsConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps an upgraded WebSocket connection as a stratum transport.
func NewWSConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
