package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/client"
	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/auth"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/synonym"
	"github.com/hay-kot/weave/internal/core/werr"
	"github.com/hay-kot/weave/internal/core/wire"
)

const systemToken = "system-token"

type fixture struct {
	srv      *Server
	apps     *apps.Registry
	channels *channel.Registry
	synonyms *synonym.Table
	addr     string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	appReg := apps.NewRegistry()
	require.NoError(t, appReg.Seed([]apps.SystemApp{
		{Name: "core", URL: "system/core", Token: systemToken},
	}))

	f := &fixture{
		apps:     appReg,
		channels: channel.NewRegistry(),
		synonyms: synonym.New(),
	}

	cfg.Addr = "127.0.0.1:0"
	f.srv = New(cfg, Deps{
		Apps:     f.apps,
		Channels: f.channels,
		Synonyms: f.synonyms,
	}, zerolog.Nop())
	require.NoError(t, f.srv.Listen())
	f.addr = f.srv.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("broker did not stop")
		}
	})

	return f
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (f *fixture) dial(t *testing.T, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.Dial(testCtx(t), f.addr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (f *fixture) create(t *testing.T, name string, kind channel.Kind, authorizers map[string]auth.Spec) {
	t.Helper()
	c, err := client.Dial(testCtx(t), f.addr, client.WithToken(systemToken))
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	got, err := c.Create(testCtx(t), channel.CreateRequest{
		QueueName:     name,
		QueueType:     string(kind),
		RequestSchema: json.RawMessage(`{"type":"string"}`),
		Authorizers:   authorizers,
	})
	require.NoError(t, err)
	require.Equal(t, name, got)
}

// waitWaiters blocks until the channel has n parked requestors. Pops are
// not acknowledged on the wire, so tests use this to order them.
func (f *fixture) waitWaiters(t *testing.T, name string, n int) {
	t.Helper()
	ch, err := f.channels.Get(name)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return ch.Stats().Waiters == n
	}, 2*time.Second, 5*time.Millisecond)
}

func str(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func bodyOf(t *testing.T, m *wire.Message) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(m.Body, &s))
	return s
}

func TestBroker_FIFOHandoff(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/fifo", channel.KindFIFO, nil)
	ctx := testCtx(t)

	a, b, producer := f.dial(t), f.dial(t), f.dial(t)

	require.NoError(t, a.Pop(ctx, "/t/fifo", nil))
	f.waitWaiters(t, "/t/fifo", 1)
	require.NoError(t, b.Pop(ctx, "/t/fifo", nil))
	f.waitWaiters(t, "/t/fifo", 2)

	require.NoError(t, producer.Push(ctx, "/t/fifo", str("x"), nil))
	require.NoError(t, producer.Push(ctx, "/t/fifo", str("y"), nil))

	got, err := a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.OpInform, got.Operation)
	assert.Equal(t, "x", bodyOf(t, got))

	got, err = b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "y", bodyOf(t, got))
}

func TestBroker_SessionizedReplay(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/sess", channel.KindSessionized, nil)
	ctx := testCtx(t)

	producer := f.dial(t)
	for _, p := range []struct{ body, cookie string }{{"a", "c1"}, {"b", "c2"}, {"c", "c1"}} {
		require.NoError(t, producer.Push(ctx, "/t/sess", str(p.body), map[string]string{"COOKIE": p.cookie}))
	}

	c1, c2 := f.dial(t), f.dial(t)

	for _, want := range []string{"a", "c"} {
		got, err := c1.PopWait(ctx, "/t/sess", map[string]string{"COOKIE": "c1"})
		require.NoError(t, err)
		assert.Equal(t, want, bodyOf(t, got))
		assert.Equal(t, "c1", got.Headers["COOKIE"])
	}

	got, err := c2.PopWait(ctx, "/t/sess", map[string]string{"COOKIE": "c2"})
	require.NoError(t, err)
	assert.Equal(t, "b", bodyOf(t, got))

	// third pop parks until the next c1 push
	require.NoError(t, c1.Pop(ctx, "/t/sess", map[string]string{"COOKIE": "c1"}))
	f.waitWaiters(t, "/t/sess", 1)
	require.NoError(t, producer.Push(ctx, "/t/sess", str("d"), map[string]string{"COOKIE": "c1"}))

	got, err = c1.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d", bodyOf(t, got))
}

func TestBroker_MulticastSenderExclusion(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/mc", channel.KindMulticast, nil)
	ctx := testCtx(t)

	s1 := f.dial(t, client.WithSession("s1"))
	s2 := f.dial(t, client.WithSession("s2"))
	s3 := f.dial(t, client.WithSession("s3"))

	for _, c := range []*client.Client{s1, s2, s3} {
		require.NoError(t, c.Pop(ctx, "/t/mc", nil))
	}
	f.waitWaiters(t, "/t/mc", 3)

	require.NoError(t, s2.Push(ctx, "/t/mc", str("hi"), nil))

	for _, c := range []*client.Client{s1, s3} {
		got, err := c.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hi", bodyOf(t, got))
		assert.Equal(t, c.Session(), got.Headers["SESS"])
	}

	short, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := s2.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "sender receives nothing")
}

func TestBroker_AuthorizationDenial(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/auth", channel.KindFIFO, map[string]auth.Spec{
		"push": {Type: auth.TypeWhitelist, URLs: []string{"url-a"}},
	})
	ctx := testCtx(t)

	tokenA, err := f.apps.RegisterPlugin("a", "A", "url-a")
	require.NoError(t, err)
	tokenB, err := f.apps.RegisterPlugin("b", "B", "url-b")
	require.NoError(t, err)

	err = f.dial(t, client.WithToken(tokenB)).Push(ctx, "/t/auth", str("x"), nil)
	assert.ErrorIs(t, err, werr.ErrUnauthorized)

	err = f.dial(t).Push(ctx, "/t/auth", str("x"), nil)
	assert.ErrorIs(t, err, werr.ErrAuthentication)

	pusher := f.dial(t, client.WithToken(tokenA))
	require.NoError(t, pusher.Push(ctx, "/t/auth", str("x"), nil))

	// consumers see the pusher's identity, never its token
	got, err := f.dial(t).PopWait(ctx, "/t/auth", nil)
	require.NoError(t, err)
	assert.NotContains(t, got.Headers["AUTH"], tokenA)

	id, err := apps.ParseIdentity(got.Headers["AUTH"])
	require.NoError(t, err)
	assert.Equal(t, "a", id.AppID)
	assert.Equal(t, "url-a", id.URL)
}

func TestBroker_CreateCollision(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := testCtx(t)
	c := f.dial(t, client.WithToken(systemToken))

	req := channel.CreateRequest{
		QueueName:     "/dup",
		QueueType:     "fifo",
		RequestSchema: json.RawMessage(`{}`),
	}

	name, err := c.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "/dup", name)

	_, err = c.Create(ctx, req)
	assert.ErrorIs(t, err, werr.ErrAlreadyExists)
}

func TestBroker_CreateNaming(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := testCtx(t)

	token, err := f.apps.RegisterPlugin("cam", "Camera", "url-cam")
	require.NoError(t, err)

	name, err := f.dial(t, client.WithToken(token)).Create(ctx, channel.CreateRequest{
		QueueName:     "events",
		QueueType:     "multicast",
		RequestSchema: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "/plugins/cam/events", name)

	_, err = f.dial(t).Create(ctx, channel.CreateRequest{
		QueueName:     "/anon",
		QueueType:     "fifo",
		RequestSchema: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, werr.ErrAuthentication)

	_, err = f.dial(t, client.WithToken(systemToken)).Create(ctx, channel.CreateRequest{
		QueueName:     "/bad",
		QueueType:     "fifo",
		RequestSchema: json.RawMessage(`{"type": 5}`),
	})
	assert.ErrorIs(t, err, werr.ErrSchemaValidation)
}

func TestBroker_ErrorsKeepConnectionOpen(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/fifo", channel.KindFIFO, nil)
	ctx := testCtx(t)

	c := f.dial(t)

	err := c.Push(ctx, "/missing", str("x"), nil)
	assert.ErrorIs(t, err, werr.ErrNotFound)

	err = c.Push(ctx, "/t/fifo", json.RawMessage(`42`), nil)
	assert.ErrorIs(t, err, werr.ErrSchemaValidation)

	err = c.Push(ctx, "/t/fifo", nil, nil)
	assert.ErrorIs(t, err, werr.ErrProtocol, "push without body")

	err = c.Push(ctx, "/t/fifo", str("x"), map[string]string{"AUTH": "not-a-token"})
	assert.ErrorIs(t, err, werr.ErrAuthentication)

	require.NoError(t, c.Push(ctx, "/t/fifo", str("ok"), nil))
}

func TestBroker_RawFraming(t *testing.T) {
	f := newFixture(t, Config{})

	nc, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer nc.Close() //nolint:errcheck
	require.NoError(t, nc.SetDeadline(time.Now().Add(3*time.Second)))

	_, err = io.WriteString(nc, "garbage\n\n"+
		"result 1\nSESS mine\n\n"+
		"push 1\nC /nope\nMSG 1\n\n")
	require.NoError(t, err)

	r := wire.NewReader(nc)

	m, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.OpException, m.Operation)
	assert.Equal(t, "protocol-error", m.Headers["ERR"])
	assert.NotEmpty(t, m.Headers["SESS"], "assigned session is echoed")

	m, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "bad-operation", m.Headers["ERR"])
	assert.Equal(t, "mine", m.Headers["SESS"], "client session is echoed")

	m, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "object-not-found", m.Headers["ERR"])
}

func TestBroker_LineTooLongClosesConnection(t *testing.T) {
	f := newFixture(t, Config{MaxLineBytes: 64})

	nc, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer nc.Close() //nolint:errcheck
	require.NoError(t, nc.SetDeadline(time.Now().Add(3*time.Second)))

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	_, err = nc.Write(append([]byte("push 1\nC /"), append(long, '\n', '\n')...))
	require.NoError(t, err)

	r := wire.NewReader(nc)
	m, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "protocol-error", m.Headers["ERR"])

	_, err = r.Read()
	assert.Error(t, err, "connection is closed after an oversized line")
}

func TestBroker_Synonyms(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/fifo", channel.KindFIFO, nil)
	ctx := testCtx(t)

	alias, err := f.synonyms.Register("queue", "/t/fifo")
	require.NoError(t, err)

	c := f.dial(t)
	require.NoError(t, c.Push(ctx, alias, str("via alias"), nil))

	got, err := c.PopWait(ctx, "/t/fifo", nil)
	require.NoError(t, err)
	assert.Equal(t, "via alias", bodyOf(t, got))
}

func TestBroker_DisconnectPurgesWaiters(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/fifo", channel.KindFIFO, nil)
	f.create(t, "/t/mc", channel.KindMulticast, nil)
	ctx := testCtx(t)

	gone := f.dial(t, client.WithSession("gone"))
	require.NoError(t, gone.Pop(ctx, "/t/fifo", nil))
	require.NoError(t, gone.Pop(ctx, "/t/mc", nil))
	f.waitWaiters(t, "/t/fifo", 1)
	f.waitWaiters(t, "/t/mc", 1)

	require.NoError(t, gone.Close())
	f.waitWaiters(t, "/t/fifo", 0)
	f.waitWaiters(t, "/t/mc", 0)

	c := f.dial(t)
	require.NoError(t, c.Push(ctx, "/t/fifo", str("kept"), nil))

	got, err := c.PopWait(ctx, "/t/fifo", nil)
	require.NoError(t, err)
	assert.Equal(t, "kept", bodyOf(t, got), "message was not lost to the closed connection")

	require.Eventually(t, func() bool { return f.srv.ConnCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestBroker_DisconnectKeepsOtherConnectionsWaiters(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/fifo", channel.KindFIFO, nil)
	f.create(t, "/t/mc", channel.KindMulticast, nil)
	ctx := testCtx(t)

	// Both connections use the same client-chosen session id.
	kept := f.dial(t, client.WithSession("shared"))
	gone := f.dial(t, client.WithSession("shared"))

	require.NoError(t, kept.Pop(ctx, "/t/fifo", nil))
	f.waitWaiters(t, "/t/fifo", 1)
	require.NoError(t, gone.Pop(ctx, "/t/fifo", nil))
	f.waitWaiters(t, "/t/fifo", 2)
	require.NoError(t, kept.Pop(ctx, "/t/mc", nil))
	f.waitWaiters(t, "/t/mc", 1)
	require.NoError(t, gone.Pop(ctx, "/t/mc", nil))
	f.waitWaiters(t, "/t/mc", 2)

	// Frames that fail authentication still name the shared session.
	nc, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	_, err = nc.Write([]byte("pop 1\nAUTH bogus\nC /t/fifo\nSESS shared\n\n"))
	require.NoError(t, err)

	require.NoError(t, gone.Close())
	require.NoError(t, nc.Close())
	f.waitWaiters(t, "/t/fifo", 1)
	f.waitWaiters(t, "/t/mc", 1)
	require.Eventually(t, func() bool { return f.srv.ConnCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	producer := f.dial(t)
	require.NoError(t, producer.Push(ctx, "/t/fifo", str("queued"), nil))
	got, err := kept.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/t/fifo", got.Headers["C"])
	assert.Equal(t, "queued", bodyOf(t, got))

	require.NoError(t, producer.Push(ctx, "/t/mc", str("fanned"), nil))
	got, err = kept.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/t/mc", got.Headers["C"])
	assert.Equal(t, "fanned", bodyOf(t, got))
}

func TestBroker_ShutdownReleasesPops(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "/t/fifo", channel.KindFIFO, nil)
	ctx := testCtx(t)

	c := f.dial(t)
	require.NoError(t, c.Pop(ctx, "/t/fifo", nil))
	f.waitWaiters(t, "/t/fifo", 1)

	f.srv.Shutdown()

	_, err := c.Receive(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, werr.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF),
		"pop released with object-closed or socket closure, got %v", err)

	_, err = f.channels.Get("/t/fifo")
	assert.ErrorIs(t, err, werr.ErrClosed)
	require.Eventually(t, func() bool { return f.srv.ConnCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestBroker_ConnectionLimit(t *testing.T) {
	f := newFixture(t, Config{MaxConnections: 1})
	f.create(t, "/t/fifo", channel.KindFIFO, nil)
	require.Eventually(t, func() bool { return f.srv.ConnCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	ctx := testCtx(t)
	first := f.dial(t)
	require.NoError(t, first.Push(ctx, "/t/fifo", str("x"), nil))

	second := f.dial(t)
	err := second.Push(ctx, "/t/fifo", str("y"), nil)
	require.Error(t, err)
}
