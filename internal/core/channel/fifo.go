package channel

import "github.com/hay-kot/weave/internal/core/wire"

// FIFO hands each message to exactly one requestor. Messages and requestors
// are both served strictly in arrival order.
type FIFO struct {
	*base

	queue   []message
	waiters []waiter
}

func (q *FIFO) Push(req Request) error {
	if err := q.admitPush(req); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.isClosed(); err != nil {
		return err
	}

	q.queue = append(q.queue, newMessage(req))
	q.drain()
	return nil
}

func (q *FIFO) Pop(req Request, deliver DeliverFunc) error {
	if _, err := req.require(wire.HeaderSession); err != nil {
		return err
	}
	if err := q.admitPop(req); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.isClosed(); err != nil {
		return err
	}

	q.waiters = append(q.waiters, newWaiter(req, deliver))
	q.drain()
	return nil
}

// drain pairs the head message with the head waiter until one side runs
// out. Must be called with q.mu held.
func (q *FIFO) drain() {
	for len(q.queue) > 0 && len(q.waiters) > 0 {
		m, w := q.queue[0], q.waiters[0]
		q.queue[0] = message{}
		q.queue = q.queue[1:]
		q.waiters[0] = waiter{}
		q.waiters = q.waiters[1:]

		w.deliver(w.delivery(m))
	}
}

func (q *FIFO) RemoveRequestor(requestor string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.waiters[:0]
	for _, w := range q.waiters {
		if w.owner != requestor {
			kept = append(kept, w)
		}
	}
	clear(q.waiters[len(kept):])
	q.waiters = kept
}

func (q *FIFO) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	for _, w := range q.waiters {
		w.deliver(w.closed(q.info.Name))
	}
	q.waiters = nil
	q.queue = nil
}

func (q *FIFO) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Queued: len(q.queue), Waiters: len(q.waiters)}
}
