// Package relay copies bytes between an intercepted connection and its
// upstream session until the session ends, then closes both sockets.
//
// Copying is delegated to a Copier: a pooled user-space buffer by default,
// or splice(2) on Linux, which moves data between the two sockets through a
// kernel pipe without copying it into the process.
package relay
