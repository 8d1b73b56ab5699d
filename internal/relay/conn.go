package relay

import (
	"errors"
	"net"
	"sync"
)

// Conn makes Close idempotent: only the first call reaches the underlying
// connection, later calls return nil.
type Conn struct {
	net.Conn
	once sync.Once
}

// NewConn wraps c.
func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c}
}

func (c *Conn) Close() error {
	err := net.ErrClosed
	c.once.Do(func() {
		err = c.Conn.Close()
	})
	if err == net.ErrClosed {
		return nil
	}
	return err
}

// CloseWrite shuts down the sending side. It returns errors.ErrUnsupported
// if the wrapped connection cannot half-close.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}

// NetConn returns the wrapped connection.
func (c *Conn) NetConn() net.Conn {
	return c.Conn
}
