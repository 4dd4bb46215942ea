package channel

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/core/apps"
)

const stringSchema = `{"type":"string"}`

type recorder struct {
	mu  sync.Mutex
	got []Delivery
}

func (r *recorder) deliver(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, d)
}

func (r *recorder) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.got))
	for _, d := range r.got {
		var s string
		_ = json.Unmarshal(d.Body, &s)
		out = append(out, s)
	}
	return out
}

func (r *recorder) deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.got...)
}

func newChannel(t *testing.T, kind Kind, name string) Channel {
	t.Helper()
	ch, err := New(Info{Name: name, Kind: kind, RequestSchema: json.RawMessage(stringSchema)})
	require.NoError(t, err)
	return ch
}

// req builds a request carrying a JSON string body and key/value headers.
func req(body string, kv ...string) Request {
	r := Request{Headers: map[string]string{}}
	if body != "" {
		data, _ := json.Marshal(body)
		r.Body = data
	}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Headers[kv[i]] = kv[i+1]
	}
	return r
}

func withIdentity(r Request, id *apps.Identity) Request {
	r.Identity = id
	return r
}

func ownedBy(r Request, requestor string) Request {
	r.Requestor = requestor
	return r
}
