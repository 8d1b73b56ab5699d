// Package dialer opens the TCP sessions that carry intercepted connections to
// the upstream forward proxy.
//
// The proxy endpoint is fixed and resolved once at startup; every intercepted
// connection gets its own session, which is never pooled or reused.
package dialer
