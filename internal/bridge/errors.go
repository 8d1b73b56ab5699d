package bridge

import "errors"

// HandshakeError reports that the upstream proxy rejected or garbled session
// setup.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return "upstream handshake: " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// ParseError reports a malformed request head from the client.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "client request: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	// ErrHeaderTooLarge is returned when a request or response head exceeds
	// Options.MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("header too large")

	errMalformedRequestLine = errors.New("malformed request line")
	errMalformedStatusLine  = errors.New("malformed status line")
)
