package channel

import "github.com/hay-kot/weave/internal/core/wire"

// Sessionized partitions a queue by the COOKIE header. Each cookie consumes
// its own substream in push order; cookies proceed independently.
//
// Every message gets a version from a channel-wide counter and each cookie
// remembers the last version it consumed. Messages a cookie has consumed are
// dropped, so pending only ever holds unseen messages.
type Sessionized struct {
	*base

	version  uint64
	pending  map[string][]message
	lastSeen map[string]uint64
	waiters  map[string][]waiter
}

func (q *Sessionized) Push(req Request) error {
	cookie, err := req.require(wire.HeaderCookie)
	if err != nil {
		return err
	}
	if err := q.admitPush(req); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.isClosed(); err != nil {
		return err
	}

	q.version++
	m := newMessage(req)
	m.version = q.version
	q.pending[cookie] = append(q.pending[cookie], m)

	q.drain(cookie)
	return nil
}

func (q *Sessionized) Pop(req Request, deliver DeliverFunc) error {
	cookie, err := req.require(wire.HeaderCookie)
	if err != nil {
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

	q.waiters[cookie] = append(q.waiters[cookie], newWaiter(req, deliver))
	q.drain(cookie)
	return nil
}

// next returns the oldest message for cookie newer than its last seen
// version. Must be called with q.mu held.
func (q *Sessionized) next(cookie string) (message, bool) {
	seen := q.lastSeen[cookie]
	for _, m := range q.pending[cookie] {
		if m.version > seen {
			return m, true
		}
	}
	return message{}, false
}

// drain serves parked waiters of cookie, oldest first, then compacts
// consumed messages. Must be called with q.mu held.
func (q *Sessionized) drain(cookie string) {
	for len(q.waiters[cookie]) > 0 {
		m, ok := q.next(cookie)
		if !ok {
			break
		}

		ws := q.waiters[cookie]
		w := ws[0]
		ws[0] = waiter{}
		q.waiters[cookie] = ws[1:]
		q.lastSeen[cookie] = m.version

		w.deliver(w.delivery(m))
	}

	if len(q.waiters[cookie]) == 0 {
		delete(q.waiters, cookie)
	}
	q.compact(cookie)
}

func (q *Sessionized) compact(cookie string) {
	seen := q.lastSeen[cookie]
	msgs := q.pending[cookie]

	i := 0
	for i < len(msgs) && msgs[i].version <= seen {
		i++
	}
	if i == len(msgs) {
		delete(q.pending, cookie)
		return
	}
	q.pending[cookie] = msgs[i:]
}

// RemoveRequestor drops parked pops owned by requestor. Last seen versions
// are kept: cookies outlive connections.
func (q *Sessionized) RemoveRequestor(requestor string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for cookie, ws := range q.waiters {
		kept := ws[:0]
		for _, w := range ws {
			if w.owner != requestor {
				kept = append(kept, w)
			}
		}
		clear(ws[len(kept):])

		if len(kept) == 0 {
			delete(q.waiters, cookie)
		} else {
			q.waiters[cookie] = kept
		}
	}
}

func (q *Sessionized) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	for _, ws := range q.waiters {
		for _, w := range ws {
			w.deliver(w.closed(q.info.Name))
		}
	}
	clear(q.waiters)
	clear(q.pending)
}

func (q *Sessionized) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, msgs := range q.pending {
		s.Queued += len(msgs)
	}
	for _, ws := range q.waiters {
		s.Waiters += len(ws)
	}
	return s
}
