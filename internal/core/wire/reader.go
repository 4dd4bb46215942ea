package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/hay-kot/weave/internal/core/werr"
)

// DefaultMaxLineBytes bounds a single header line.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a peer sends a line longer than the
// reader's limit. The stream cannot be resynchronized after it.
var ErrLineTooLong = errors.New("wire: line too long")

// Reader decodes frames from a stream.
type Reader struct {
	br      *bufio.Reader
	maxLine int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxLineBytes overrides DefaultMaxLineBytes. Values <= 0 are ignored.
func WithMaxLineBytes(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// NewReader wraps r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{
		br:      bufio.NewReader(r),
		maxLine: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Read returns the next frame.
//
// A clean end of stream between frames yields io.EOF and a stream ending
// inside a frame yields io.ErrUnexpectedEOF. Malformed frames are consumed up
// to their blank line and reported as protocol errors so the caller can
// answer them and keep reading.
func (r *Reader) Read() (*Message, error) {
	var lines []string

	for {
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(lines) == 0 && line == "" {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if line == "" {
			// Blank lines between frames are padding.
			if len(lines) == 0 {
				continue
			}
			break
		}
		lines = append(lines, line)
	}

	return Decode(lines)
}

// Decode parses the header lines of a single frame.
func Decode(lines []string) (*Message, error) {
	if len(lines) == 0 {
		return nil, werr.Protocol("empty frame")
	}

	var msg *Message
	for i, line := range lines {
		key, value, ok := strings.Cut(line, " ")
		if !ok || key == "" {
			return nil, werr.Protocol("malformed line %d", i+1)
		}

		if i == 0 {
			op := Operation(key)
			if !op.Known() {
				return nil, werr.Protocol("unknown operation %q", key)
			}
			msg = NewMessage(op, nil)
			continue
		}

		if key == HeaderBody {
			if !json.Valid([]byte(value)) {
				return nil, werr.Protocol("MSG is not valid JSON")
			}
			msg.Body = json.RawMessage(value)
			continue
		}

		msg.Headers[key] = value
	}

	return msg, nil
}

func (r *Reader) readLine() (string, error) {
	var buf []byte
	for {
		frag, err := r.br.ReadSlice('\n')
		if len(buf)+len(frag) > r.maxLine {
			return "", ErrLineTooLong
		}
		buf = append(buf, frag...)

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), err
	}

	line := strings.TrimSuffix(string(buf), "\n")
	return strings.TrimSuffix(line, "\r"), nil
}
