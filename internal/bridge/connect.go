package bridge

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ConnectLine returns the minimal tunnel request for dst. It carries no
// version and no blank line, which the upstream proxy accepts.
func ConnectLine(dst string) string {
	return "CONNECT " + dst + "\n"
}

func connectTunnel(s Session, opts Options) error {
	target := s.Destination.String()

	if opts.StrictConnect {
		req := &http.Request{
			Method: http.MethodConnect,
			URL:    &url.URL{Opaque: target},
			Host:   target,
			Header: make(http.Header),
		}
		if err := req.Write(s.Upstream); err != nil {
			return &HandshakeError{Err: fmt.Errorf("connect write: %w", err)}
		}
	} else if _, err := io.WriteString(s.Upstream, ConnectLine(target)); err != nil {
		return &HandshakeError{Err: fmt.Errorf("connect write: %w", err)}
	}

	br := bufio.NewReader(s.Upstream)
	if err := readConnectResponse(br, opts.maxHeaderBytes()); err != nil {
		return &HandshakeError{Err: err}
	}

	// A server-speaks-first protocol may already have sent data.
	if err := forwardBuffered(s.Client, br); err != nil {
		return fmt.Errorf("connect forward: %w", err)
	}
	return nil
}

// readConnectResponse consumes a CONNECT response head up to its blank line
// and fails unless the status code is 200.
func readConnectResponse(br *bufio.Reader, limit int) error {
	budget := limit

	status, err := readLine(br, &budget)
	if err != nil {
		return fmt.Errorf("connect read status: %w", eofToUnexpected(err))
	}
	if err := checkConnectStatus(string(trimEOL(status))); err != nil {
		return err
	}

	for {
		line, err := readLine(br, &budget)
		if err != nil {
			return fmt.Errorf("connect read header: %w", eofToUnexpected(err))
		}
		if isBlankLine(line) {
			return nil
		}
	}
}

func checkConnectStatus(line string) error {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return fmt.Errorf("%w: %q", errMalformedStatusLine, line)
	}
	code, _, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
	if code != "200" {
		return fmt.Errorf("connect failed: %s", line)
	}
	return nil
}

func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
