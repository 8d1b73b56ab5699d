package bridge

import (
	"bufio"
	"bytes"
	"io"
)

// readLine reads one line, terminator included, a byte at a time from br.
// Every byte is charged to *budget; running out yields ErrHeaderTooLarge.
// EOF before any byte is io.EOF, EOF mid-line is io.ErrUnexpectedEOF.
func readLine(br *bufio.Reader, budget *int) ([]byte, error) {
	var line []byte
	for {
		if *budget <= 0 {
			return nil, ErrHeaderTooLarge
		}
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		*budget--
		line = append(line, b)
		if b == '\n' {
			return line, nil
		}
	}
}

// isBlankLine reports whether line is a bare CRLF or LF.
func isBlankLine(line []byte) bool {
	return len(trimEOL(line)) == 0
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// forwardBuffered writes whatever br has already read past the head to w.
func forwardBuffered(w io.Writer, br *bufio.Reader) error {
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	b, err := br.Peek(n)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
