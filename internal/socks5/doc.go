// Package socks5 implements the small slice of SOCKS5 (RFC 1928) needed to
// hand an intercepted connection to a SOCKS5 upstream: a no-auth negotiation
// followed by a CONNECT request for an IPv4 destination.
//
// It wraps the wire types in github.com/txthinking/socks5. The server side
// exists so the client can be exercised against a real peer.
package socks5
