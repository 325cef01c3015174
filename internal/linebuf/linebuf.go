// Package linebuf turns an arbitrary sequence of byte chunks into complete
// newline-terminated lines. It is the only place in herald that knows the
// child-process protocol is framed by line feeds.
package linebuf

import "errors"

// DefaultMaxLine bounds the carry buffer. A child that emits this many bytes
// without a newline is not speaking the protocol.
const DefaultMaxLine = 10 * 1024 * 1024

// ErrLineTooLong is returned when the carry buffer exceeds the configured
// ceiling before a newline arrives.
var ErrLineTooLong = errors.New("linebuf: line exceeds maximum length")

// Reader accumulates chunks and yields complete lines. The zero value is not
// usable; construct with New.
type Reader struct {
	carry   []byte
	maxLine int
}

func New() *Reader {
	return &Reader{maxLine: DefaultMaxLine}
}

// NewWithLimit constructs a Reader with a custom line-length ceiling.
// A limit <= 0 falls back to DefaultMaxLine.
func NewWithLimit(limit int) *Reader {
	if limit <= 0 {
		limit = DefaultMaxLine
	}
	return &Reader{maxLine: limit}
}

// Feed appends chunk to the carry buffer and returns every complete line now
// available, with the trailing newline stripped. The final unterminated
// segment is retained for the next call. A chunk with no newline yields no
// lines. Feed never drops data.
func (r *Reader) Feed(chunk []byte) ([]string, error) {
	r.carry = append(r.carry, chunk...)

	var lines []string
	start := 0
	for i := start; i < len(r.carry); i++ {
		if r.carry[i] == '\n' {
			lines = append(lines, string(r.carry[start:i]))
			start = i + 1
		}
	}

	if start > 0 {
		r.carry = append(r.carry[:0], r.carry[start:]...)
	}
	if len(r.carry) > r.maxLine {
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// Pending reports how many bytes are held back awaiting a newline.
func (r *Reader) Pending() int {
	return len(r.carry)
}
