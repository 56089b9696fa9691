package transport

import (
	"bytes"
	"strings"
)

var lineDelimiter = []byte("\r\n")

const DefaultMaxLineLength = 4096

// Framer reassembles CRLF-delimited lines from arbitrarily chunked input.
// A line longer than the limit is dropped up to its next delimiter.
type Framer struct {
	buf        []byte
	max        int
	discarding bool
}

func NewFramer(maxLineLength int) *Framer {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	return &Framer{max: maxLineLength}
}

// Push appends chunk and returns every line it completes, delimiter
// excluded. err is ErrLineTooLong when a line had to be dropped; lines
// completed in the same chunk are still returned.
func (f *Framer) Push(chunk []byte) (lines []string, err error) {
	f.buf = append(f.buf, chunk...)

	for {
		i := bytes.Index(f.buf, lineDelimiter)
		if i < 0 {
			break
		}

		switch {
		case f.discarding:
			f.discarding = false
		case i > f.max:
			err = ErrLineTooLong
		default:
			lines = append(lines, decodeText(f.buf[:i]))
		}

		f.buf = f.buf[i+len(lineDelimiter):]
	}

	// a trailing CR may be half of the next delimiter
	keep := 0
	if len(f.buf) > 0 && f.buf[len(f.buf)-1] == '\r' {
		keep = 1
	}
	if len(f.buf)-keep > f.max {
		f.buf = f.buf[len(f.buf)-keep:]
		if !f.discarding {
			f.discarding = true
			err = ErrLineTooLong
		}
	}

	f.buf = append([]byte(nil), f.buf...)

	return lines, err
}

// Flush returns the undelimited remainder, if any, and empties the framer.
func (f *Framer) Flush() (string, bool) {
	defer f.Reset()

	if f.discarding || len(f.buf) == 0 {
		return "", false
	}

	return decodeText(f.buf), true
}

func (f *Framer) Reset() {
	f.buf = nil
	f.discarding = false
}

// decodeText maps invalid UTF-8 to U+FFFD, the way a text decoder would.
func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
