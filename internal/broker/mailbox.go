package broker

import (
	"sync"

	"github.com/hay-kot/weave/internal/core/wire"
)

// mailbox is an unbounded outbound queue. Posting never blocks, so channel
// delivery callbacks can post while holding the channel lock.
type mailbox struct {
	mu     sync.Mutex
	items  []*wire.Message
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// post enqueues m. It reports false once the mailbox is closed.
func (b *mailbox) post(m *wire.Message) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, m)
	b.mu.Unlock()

	b.wake()
	return true
}

// take blocks until messages are queued or the mailbox is closed and empty.
// Messages posted before close are still returned.
func (b *mailbox) take() ([]*wire.Message, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			batch := b.items
			b.items = nil
			b.mu.Unlock()
			return batch, true
		}
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		b.mu.Unlock()

		<-b.signal
	}
}

func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wake()
}

func (b *mailbox) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}
