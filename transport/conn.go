package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rfm/limits"
	"github.com/opd-ai/rfm/protocol"
)

// Options tunes a Conn. Zero timeouts disable the deadline.
type Options struct {
	// ReadTimeout bounds every blocking read, including the wait for the
	// next command.
	ReadTimeout time.Duration
	// WriteTimeout bounds every write.
	WriteTimeout time.Duration
}

// Conn carries length-prefixed message frames and, between them, the raw
// chunk stream of a file transfer. Reads go through one buffered reader so
// both uses stay in sync.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	opts    Options
	addr    string
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn, opts Options) *Conn {
	addr := ""
	if ra := nc.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Conn{
		conn:   nc,
		reader: bufio.NewReaderSize(nc, 2*limits.ChunkSize+8),
		opts:   opts,
		addr:   addr,
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads raw bytes. It is used by the transfer engine.
func (c *Conn) Read(p []byte) (int, error) {
	if err := c.armRead(); err != nil {
		return 0, err
	}
	n, err := c.reader.Read(p)
	if err != nil {
		return n, newConnError("read", c.addr, err)
	}
	return n, nil
}

// Write writes raw bytes in one call to the underlying connection.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(p)
}

func (c *Conn) write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, newConnError("write", c.addr, ErrConnectionClosed)
	}
	if c.opts.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return 0, newConnError("write", c.addr, err)
		}
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return n, newConnError("write", c.addr, err)
	}
	return n, nil
}

func (c *Conn) armRead() error {
	if c.closed.Load() {
		return newConnError("read", c.addr, ErrConnectionClosed)
	}
	if c.opts.ReadTimeout <= 0 {
		return nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		return newConnError("read", c.addr, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A frame above
// limits.MaxFrameSize is fatal because its body is left unread.
func (c *Conn) ReadFrame() ([]byte, error) {
	if err := c.armRead(); err != nil {
		return nil, err
	}

	var header [4]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return nil, newConnError("read", c.addr, err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if err := limits.ValidateFrameSize(length); err != nil {
		return nil, newConnError("read", c.addr, err)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, newConnError("read", c.addr, err)
	}
	return body, nil
}

// WriteFrame writes body with its 4-byte big-endian length prefix.
func (c *Conn) WriteFrame(body []byte) error {
	if err := limits.ValidateSize(len(body), limits.MaxFrameSize); err != nil {
		return err
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.write(buf)
	return err
}

// ReadMessage reads and decodes the next message. A body that fails to
// decode yields ErrMalformedMessage, which is not fatal.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	body, err := c.ReadFrame()
	if err != nil {
		return protocol.Message{}, err
	}
	msg, err := protocol.Decode(body)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// WriteMessage encodes and sends msg as one frame.
func (c *Conn) WriteMessage(msg protocol.Message) error {
	body, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.WriteFrame(body)
}

// Close closes the underlying connection once; later calls return the first
// result. Reads and writes after Close fail with ErrConnectionClosed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
