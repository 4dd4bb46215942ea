// Package channel implements the broker's delivery endpoints: FIFO queues,
// sessionized queues and multicasts, plus the registry that owns them.
//
// Deliveries to parked requestors run on the pushing goroutine while the
// channel lock is held, so a DeliverFunc must never block.
package channel

import (
	"encoding/json"
	"time"

	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/auth"
	"github.com/hay-kot/weave/internal/core/werr"
	"github.com/hay-kot/weave/internal/core/wire"
)

// Kind is the delivery discipline of a channel.
type Kind string

const (
	KindFIFO        Kind = "fifo"
	KindSessionized Kind = "sessionized"
	KindMulticast   Kind = "multicast"
)

// ParseKind validates a channel kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFIFO, KindSessionized, KindMulticast:
		return k, nil
	default:
		return "", werr.Protocol("unknown channel type %q", s)
	}
}

// Info describes a channel.
type Info struct {
	Name           string          `json:"name"`
	Kind           Kind            `json:"type"`
	Description    string          `json:"description,omitempty"`
	RequestSchema  json.RawMessage `json:"request_schema"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`
	Authorizers    auth.Map        `json:"-"`
	CreatedBy      string          `json:"created_by,omitempty"`
}

// Request is a push or pop as seen by a channel. Identity is nil for
// unauthenticated callers.
//
// Requestor names the owner of any pop the request parks and is the key
// RemoveRequestor purges by. It is set by the broker, never by clients, so
// one connection cannot release another's pops. When empty the SESS header
// is used.
type Request struct {
	Body      json.RawMessage
	Headers   map[string]string
	Identity  *apps.Identity
	Requestor string
}

// Header returns the named header or "".
func (r Request) Header(key string) string {
	return r.Headers[key]
}

func (r Request) requestor() string {
	if r.Requestor != "" {
		return r.Requestor
	}
	return r.Headers[wire.HeaderSession]
}

func (r Request) require(key string) (string, error) {
	v := r.Headers[key]
	if v == "" {
		return "", werr.Protocol("missing required header %s", key)
	}
	return v, nil
}

// Delivery is what a popping requestor receives. Err is set when the pop is
// released without a message, e.g. because the channel closed.
type Delivery struct {
	Body    json.RawMessage
	Headers map[string]string
	Err     error
}

// DeliverFunc receives deliveries for one pop. It is called with the channel
// lock held and must not block.
type DeliverFunc func(Delivery)

// Stats is a point-in-time view of a channel's backlog.
type Stats struct {
	Queued  int `json:"queued"`
	Waiters int `json:"waiters"`
}

// Channel is implemented by FIFO, Sessionized and Multicast.
type Channel interface {
	Info() Info
	// Push validates and enqueues a message, delivering it to any parked
	// requestor that can now be served.
	Push(req Request) error
	// Pop registers deliver as a requestor. Depending on the channel it is
	// called immediately, later, or once per future push.
	Pop(req Request, deliver DeliverFunc) error
	// RemoveRequestor drops every parked pop owned by requestor.
	RemoveRequestor(requestor string)
	// Close releases parked pops with an object-closed delivery. Later
	// pushes and pops fail with object-closed.
	Close()
	Stats() Stats
}

// New builds a channel from info, compiling its schemas.
func New(info Info) (Channel, error) {
	b, err := newBase(info)
	if err != nil {
		return nil, err
	}

	switch info.Kind {
	case KindFIFO:
		return &FIFO{base: b}, nil
	case KindSessionized:
		return &Sessionized{
			base:     b,
			pending:  make(map[string][]message),
			lastSeen: make(map[string]uint64),
			waiters:  make(map[string][]waiter),
		}, nil
	case KindMulticast:
		return &Multicast{base: b, subscribers: make(map[subscriberKey]subscriber)}, nil
	default:
		return nil, werr.Protocol("unknown channel type %q", info.Kind)
	}
}

// message is a pushed body waiting for a requestor.
type message struct {
	body     json.RawMessage
	identity *apps.Identity
	cookie   string
	version  uint64
	at       time.Time
}

func newMessage(req Request) message {
	return message{
		body:     req.Body,
		identity: req.Identity,
		cookie:   req.Header(wire.HeaderCookie),
		at:       time.Now(),
	}
}

// waiter is a parked pop. sess and cookie are echoed in deliveries; owner
// is only used for purging.
type waiter struct {
	owner   string
	sess    string
	cookie  string
	deliver DeliverFunc
}

func newWaiter(req Request, deliver DeliverFunc) waiter {
	return waiter{
		owner:   req.requestor(),
		sess:    req.Header(wire.HeaderSession),
		cookie:  req.Header(wire.HeaderCookie),
		deliver: deliver,
	}
}

// delivery pairs a message with the requestor receiving it. The AUTH header
// carries the pusher's identity, never a token.
func (w waiter) delivery(m message) Delivery {
	headers := make(map[string]string, 3)
	if w.sess != "" {
		headers[wire.HeaderSession] = w.sess
	}
	if cookie := w.cookie; cookie != "" {
		headers[wire.HeaderCookie] = cookie
	} else if m.cookie != "" {
		headers[wire.HeaderCookie] = m.cookie
	}
	if m.identity != nil {
		headers[wire.HeaderAuth] = m.identity.JSON()
	}
	return Delivery{Body: m.body, Headers: headers}
}

func (w waiter) closed(name string) Delivery {
	headers := map[string]string{}
	if w.sess != "" {
		headers[wire.HeaderSession] = w.sess
	}
	if w.cookie != "" {
		headers[wire.HeaderCookie] = w.cookie
	}
	return Delivery{Headers: headers, Err: werr.Closed("%s", name)}
}
