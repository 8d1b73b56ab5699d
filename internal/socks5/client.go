package socks5

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrRejected is returned when the server answers CONNECT with a failure.
var ErrRejected = errors.New("socks5 connect rejected")

// ClientDial negotiates no authentication on conn and asks the server to
// CONNECT to dst. On success conn carries the tunneled stream.
func ClientDial(conn net.Conn, dst netip.AddrPort) error {
	if err := ClientNegotiate(conn); err != nil {
		return err
	}
	return ClientConnect(conn, dst)
}

func ClientNegotiate(conn net.Conn) error {
	if _, err := txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodNone}).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}
	if neg.Method != txsocks5.MethodNone {
		return fmt.Errorf("unsupported negotiation method: %d", neg.Method)
	}
	return nil
}

func ClientConnect(conn net.Conn, dst netip.AddrPort) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(dst.String())
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("%w: reply code %d", ErrRejected, rep.Rep)
	}
	return nil
}
