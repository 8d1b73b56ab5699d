// Package proxy runs the intercepting listeners.
//
// A Server accepts connections redirected to one local port and hands each
// one to its own goroutine, which recovers the original destination, dials
// the upstream proxy, runs the port's dialect handshake and relays bytes
// until either side finishes. A Dispatcher starts one Server per
// intercepted port, installing the firewall redirect for each before it
// listens and flushing all of them when it stops.
package proxy
