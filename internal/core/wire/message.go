// Package wire implements the broker's line-oriented framing.
//
// A frame is a run of "KEY VALUE" lines ended by a blank line:
//
//	push 1
//	C /home/lights
//	SESS 5f0c
//	MSG {"on":true}
//
// The first line names the operation; its value is the protocol version and
// is ignored when decoding. The MSG header carries the JSON body on a single
// line. No other header value is interpreted here.
package wire

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/hay-kot/weave/internal/core/werr"
)

// ProtocolVersion is written as the value of the operation line.
const ProtocolVersion = "1"

// Well-known header keys.
const (
	HeaderChannel = "C"
	HeaderSession = "SESS"
	HeaderAuth    = "AUTH"
	HeaderCookie  = "COOKIE"
	HeaderResult  = "RES"
	HeaderError   = "ERR"
	HeaderBody    = "MSG"
)

// ResultOK is the RES value of a successful result reply.
const ResultOK = "OK"

// Operation is the verb on the first line of a frame.
type Operation string

const (
	OpPush      Operation = "push"
	OpPop       Operation = "pop"
	OpCreate    Operation = "create"
	OpResult    Operation = "result"
	OpInform    Operation = "inform"
	OpException Operation = "exception"
)

// Known reports whether op is part of the protocol.
func (op Operation) Known() bool {
	switch op {
	case OpPush, OpPop, OpCreate, OpResult, OpInform, OpException:
		return true
	default:
		return false
	}
}

// Message is a decoded frame. A nil Body means the frame had no MSG header.
type Message struct {
	Operation Operation
	Headers   map[string]string
	Body      json.RawMessage
}

// NewMessage creates a message with an empty header map.
func NewMessage(op Operation, body json.RawMessage) *Message {
	return &Message{
		Operation: op,
		Headers:   make(map[string]string),
		Body:      body,
	}
}

// Header returns the value of key and whether it was present.
func (m *Message) Header(key string) (string, bool) {
	v, ok := m.Headers[key]
	return v, ok
}

// SetHeader sets key, allocating the header map if needed.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// HasBody reports whether the message carries a body.
func (m *Message) HasBody() bool {
	return m.Body != nil
}

// Exception builds an exception reply for err.
func Exception(err error) *Message {
	msg := NewMessage(OpException, nil)
	msg.SetHeader(HeaderError, string(werr.KindOf(err)))
	if detail := werr.Detail(err); detail != "" {
		body, _ := json.Marshal(detail)
		msg.Body = body
	}
	return msg
}

// Err converts an exception message back into an error. It returns nil for
// any other operation.
func (m *Message) Err() error {
	if m.Operation != OpException {
		return nil
	}

	kind := werr.Kind(m.Headers[HeaderError])
	if !kind.Valid() {
		kind = werr.KindInternal
	}

	var detail string
	if m.Body != nil {
		if err := json.Unmarshal(m.Body, &detail); err != nil {
			detail = string(m.Body)
		}
	}
	return &werr.Error{Kind: kind, Message: detail}
}

// Encode serializes m into a frame, including the terminating blank line.
func Encode(m *Message) ([]byte, error) {
	if !m.Operation.Known() {
		return nil, werr.BadOperation(string(m.Operation))
	}

	var buf bytes.Buffer
	buf.WriteString(string(m.Operation))
	buf.WriteByte(' ')
	buf.WriteString(ProtocolVersion)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		if k == HeaderBody {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m.Headers[k]
		if k == "" || strings.ContainsAny(k, " \r\n") {
			return nil, werr.Protocol("invalid header key %q", k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return nil, werr.Protocol("header %s contains a line break", k)
		}
		buf.WriteString(k)
		buf.WriteByte(' ')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}

	if m.Body != nil {
		var compact bytes.Buffer
		if err := json.Compact(&compact, m.Body); err != nil {
			return nil, werr.Wrap(werr.KindProtocol, err, "body is not valid JSON")
		}
		buf.WriteString(HeaderBody)
		buf.WriteByte(' ')
		buf.Write(compact.Bytes())
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
