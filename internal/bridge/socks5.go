package bridge

import "github.com/die-net/transproxy/internal/socks5"

func socks5Tunnel(s Session) error {
	if err := socks5.ClientDial(s.Upstream, s.Destination); err != nil {
		return &HandshakeError{Err: err}
	}
	return nil
}
