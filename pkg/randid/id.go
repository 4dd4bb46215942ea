// Package randid provides random ID generation utilities.
package randid

import (
	"math/rand/v2"
	"strconv"
	"sync/atomic"
)

const chars = "abcdefghijklmnopqrstuvwxyz0123456789"

// Generate creates a random alphanumeric ID of the specified length.
func Generate(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[rand.IntN(len(chars))]
	}
	return string(b)
}

// Sequence produces random IDs that never repeat within the process: each
// carries a monotonically increasing suffix.
type Sequence struct {
	n atomic.Uint64
}

// Next returns a fresh ID made of length random characters, a dash, and the
// sequence number in base 36.
func (s *Sequence) Next(length int) string {
	return Generate(length) + "-" + strconv.FormatUint(s.n.Add(1), 36)
}
