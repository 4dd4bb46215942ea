package wire

import (
	"bufio"
	"io"
)

// Writer encodes frames onto a stream. It is not safe for concurrent use;
// the broker gives each connection a single writing goroutine.
type Writer struct {
	bw *bufio.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Write encodes m and flushes it.
func (w *Writer) Write(m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(frame); err != nil {
		return err
	}
	return w.bw.Flush()
}
