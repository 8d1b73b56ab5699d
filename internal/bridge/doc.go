// Package bridge prepares an upstream proxy session for an intercepted
// connection before raw relaying starts.
//
// The dialect is fixed per intercepted port:
//
//   - connect: ask the proxy to tunnel to the original destination with a
//     CONNECT line and wait for a 200 response.
//   - http: read the client's request head, rewrite the request line to an
//     absolute URI built from the Host header (or the original destination),
//     and forward the head to the proxy.
//   - socks5: CONNECT through a SOCKS5 proxy.
//
// Optionally a PROXY protocol header carrying the client and original
// destination addresses is sent first, whatever the dialect.
package bridge
