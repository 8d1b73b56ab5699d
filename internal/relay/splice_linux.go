//go:build linux

package relay

import (
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// NativeSupported reports whether NewNativeCopier avoids user-space copies
// on this platform.
const NativeSupported = true

// maxSpliceSize matches the default pipe capacity, so a splice into an empty
// pipe never blocks on the pipe side.
const maxSpliceSize = 64 << 10

type spliceCopier struct {
	fallback Copier
}

// NewNativeCopier returns a Copier that splices between TCP sockets through
// a pipe. Connections that are not TCP use the buffered copier.
func NewNativeCopier() Copier {
	return &spliceCopier{fallback: NewBufferedCopier()}
}

func (c *spliceCopier) Copy(dst, src net.Conn, beforeRead func()) (int64, error) {
	stc, ok := tcpConn(src)
	if !ok {
		return c.fallback.Copy(dst, src, beforeRead)
	}
	dtc, ok := tcpConn(dst)
	if !ok {
		return c.fallback.Copy(dst, src, beforeRead)
	}

	rsrc, err := stc.SyscallConn()
	if err != nil {
		return 0, err
	}
	rdst, err := dtc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return 0, os.NewSyscallError("pipe2", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	var written int64
	for {
		if beforeRead != nil {
			beforeRead()
		}

		var (
			n    int64
			serr error
		)
		err := rsrc.Read(func(fd uintptr) bool {
			n, serr = unix.Splice(int(fd), nil, p[1], nil, maxSpliceSize, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
			// The pipe is empty here, so EAGAIN means the socket is.
			return serr != unix.EAGAIN
		})
		if err == nil {
			err = serr
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, wrapSyscall("splice", err)
		}
		if n == 0 {
			return written, nil
		}

		for n > 0 {
			var (
				m    int64
				werr error
			)
			err := rdst.Write(func(fd uintptr) bool {
				m, werr = unix.Splice(p[0], nil, int(fd), nil, int(n), unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
				return werr != unix.EAGAIN
			})
			if err == nil {
				err = werr
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				return written, wrapSyscall("splice", err)
			}
			written += m
			n -= m
		}
	}
}

func wrapSyscall(name string, err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return os.NewSyscallError(name, errno)
	}
	return err
}
