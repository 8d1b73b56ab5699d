package relay

import (
	"io"
	"net"
)

// Copier moves bytes from src to dst until src reaches end of stream,
// returning the number of bytes written. A clean end of stream is not an
// error. If beforeRead is non-nil it is called before every read.
type Copier interface {
	Copy(dst, src net.Conn, beforeRead func()) (int64, error)
}

const bufferSize = 32 << 10

var sharedPool = newBufferPool(bufferSize)

type bufferedCopier struct {
	pool *bufferPool
}

// NewBufferedCopier returns the portable Copier, which reads into pooled
// buffers.
func NewBufferedCopier() Copier {
	return &bufferedCopier{pool: sharedPool}
}

func (c *bufferedCopier) Copy(dst, src net.Conn, beforeRead func()) (written int64, err error) {
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	for {
		if beforeRead != nil {
			beforeRead()
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}

// tcpConn digs the *net.TCPConn out of c, looking through wrappers that
// expose NetConn.
func tcpConn(c net.Conn) (*net.TCPConn, bool) {
	for {
		switch v := c.(type) {
		case *net.TCPConn:
			return v, true
		case interface{ NetConn() net.Conn }:
			c = v.NetConn()
		default:
			return nil, false
		}
	}
}
