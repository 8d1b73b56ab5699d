// Package origdst recovers the pre-redirect destination of TCP connections
// that reached a local listener through a NAT redirect rule.
//
// On Linux, the destination is read from the conntrack entry of the accepted
// socket via getsockopt(SOL_IP, SO_ORIGINAL_DST), which returns a
// sockaddr_in. This requires iptables/nftables REDIRECT or DNAT rules and the
// nf_conntrack module.
//
// On FreeBSD and OpenBSD, PF rdr-to and IPFW fwd preserve the original
// destination as the local address of the accepted socket.
//
// Only IPv4 is supported. Other platforms return a ResolutionError.
package origdst
