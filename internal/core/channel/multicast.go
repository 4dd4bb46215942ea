package channel

import (
	"sort"

	"github.com/hay-kot/weave/internal/core/wire"
)

// Multicast fans every push out to all current subscribers except the
// sender. Nothing is retained: a subscriber only sees pushes made after it
// subscribed.
type Multicast struct {
	*base

	subscribers map[subscriberKey]subscriber
	nextSeq     uint64
}

// subscriberKey identifies a subscription. SESS alone is chosen by clients,
// so it is scoped by the requestor that owns it.
type subscriberKey struct {
	owner string
	sess  string
}

type subscriber struct {
	waiter
	seq uint64
}

func (s subscriber) key() subscriberKey {
	return subscriberKey{owner: s.owner, sess: s.sess}
}

func (m *Multicast) Push(req Request) error {
	sess, err := req.require(wire.HeaderSession)
	if err != nil {
		return err
	}
	sender := subscriberKey{owner: req.requestor(), sess: sess}
	if err := m.admitPush(req); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.isClosed(); err != nil {
		return err
	}

	msg := newMessage(req)
	for _, s := range m.ordered() {
		if s.key() == sender {
			continue
		}
		s.deliver(s.delivery(msg))
	}
	return nil
}

// Pop subscribes the session. A second pop from the same session and
// requestor replaces its previous subscription.
func (m *Multicast) Pop(req Request, deliver DeliverFunc) error {
	sess, err := req.require(wire.HeaderSession)
	if err != nil {
		return err
	}
	if err := m.admitPop(req); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.isClosed(); err != nil {
		return err
	}

	key := subscriberKey{owner: req.requestor(), sess: sess}
	seq := m.nextSeq
	if prev, ok := m.subscribers[key]; ok {
		seq = prev.seq
	} else {
		m.nextSeq++
	}

	m.subscribers[key] = subscriber{waiter: newWaiter(req, deliver), seq: seq}
	return nil
}

// ordered returns subscribers in subscription order. Must be called with
// m.mu held.
func (m *Multicast) ordered() []subscriber {
	subs := make([]subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	return subs
}

func (m *Multicast) RemoveRequestor(requestor string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.subscribers {
		if key.owner == requestor {
			delete(m.subscribers, key)
		}
	}
}

func (m *Multicast) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for _, s := range m.ordered() {
		s.deliver(s.closed(m.info.Name))
	}
	clear(m.subscribers)
}

func (m *Multicast) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Waiters: len(m.subscribers)}
}
