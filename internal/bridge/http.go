package bridge

import (
	"bufio"
	"bytes"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// RequestLine is the first line of an HTTP/1.x request.
type RequestLine struct {
	Method  string
	URI     string
	Version string
}

// ParseRequestLine splits line, with or without its terminator, into exactly
// three fields separated by single spaces.
func ParseRequestLine(line string) (RequestLine, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return RequestLine{}, fmt.Errorf("%w: %q", errMalformedRequestLine, line)
	}
	return RequestLine{Method: parts[0], URI: parts[1], Version: parts[2]}, nil
}

// Rewrite returns the request line addressed to an HTTP proxy, with the URI
// made absolute against authority. Absolute URIs are kept as they are.
func (r RequestLine) Rewrite(authority string) string {
	uri := r.URI
	if !hasHTTPScheme(uri) {
		uri = "http://" + authority + uri
	}
	return r.Method + " " + uri + " " + r.Version + "\r\n"
}

func hasHTTPScheme(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// hostHeader returns the trimmed value of line if it is a Host header. The
// name match is exact and case-sensitive.
func hostHeader(line []byte) (string, bool) {
	name, value, ok := bytes.Cut(trimEOL(line), []byte(":"))
	if !ok || string(name) != "Host" {
		return "", false
	}
	return string(bytes.TrimSpace(value)), true
}

// fallbackAuthority names the original destination when the client sent no
// Host header. The port is implied for 80.
func fallbackAuthority(dst netip.AddrPort) string {
	if dst.Port() == 80 {
		return dst.Addr().String()
	}
	return dst.Addr().String() + ":" + strconv.Itoa(int(dst.Port()))
}

func rewriteHTTP(s Session, opts Options) error {
	br := bufio.NewReader(s.Client)
	budget := opts.maxHeaderBytes()

	first, err := readLine(br, &budget)
	if err != nil {
		return &ParseError{Err: fmt.Errorf("read request line: %w", eofToUnexpected(err))}
	}
	rl, err := ParseRequestLine(string(first))
	if err != nil {
		return &ParseError{Err: err}
	}

	var (
		headers  [][]byte
		host     string
		hostSeen bool
	)
	for {
		line, err := readLine(br, &budget)
		if err != nil {
			return &ParseError{Err: fmt.Errorf("read header: %w", eofToUnexpected(err))}
		}
		if isBlankLine(line) {
			break
		}
		// Only the first Host header counts, even if it is empty.
		if v, ok := hostHeader(line); ok && !hostSeen {
			host, hostSeen = v, true
		}
		headers = append(headers, line)
	}

	if host == "" {
		host = fallbackAuthority(s.Destination)
	}

	bw := bufio.NewWriter(s.Upstream)
	_, _ = bw.WriteString(rl.Rewrite(host))
	for _, h := range headers {
		_, _ = bw.Write(h)
	}
	_, _ = bw.WriteString("\r\n")
	if err := forwardBuffered(bw, br); err != nil {
		return &HandshakeError{Err: fmt.Errorf("forward request body: %w", err)}
	}
	if err := bw.Flush(); err != nil {
		return &HandshakeError{Err: fmt.Errorf("write request head: %w", err)}
	}
	return nil
}
