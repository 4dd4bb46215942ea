package weave

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/client"
	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/config"
	"github.com/hay-kot/weave/internal/core/wire"
	"github.com/hay-kot/weave/internal/discovery"
	"github.com/hay-kot/weave/internal/rpc"
	"github.com/hay-kot/weave/internal/store/jsonfile"
)

const systemToken = "core-token-0123456789"

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Broker.Bind = "127.0.0.1"
	cfg.Broker.Port = 0
	cfg.Discovery.Enabled = false
	cfg.Apps = []config.App{{Name: "core", URL: "system/core", Token: systemToken}}
	cfg.Synonyms = map[string]string{"lights": "/plugins/hue/lights"}
	return &cfg
}

// startService runs svc until the test ends and returns the broker address.
func startService(t *testing.T, cfg *config.Config) (*Service, string) {
	t.Helper()

	svc, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
	})

	return svc, svc.BrokerAddr().String()
}

func dial(t *testing.T, addr, token string) *client.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, addr, client.WithToken(token))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_RejectsBadSeeds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"tokenless app", func(c *config.Config) { c.Apps = []config.App{{Name: "core"}} }},
		{"duplicate app", func(c *config.Config) {
			c.Apps = append(c.Apps, config.App{Name: "core", Token: "other-token-0123456"})
		}},
		{"empty synonym", func(c *config.Config) { c.Synonyms = map[string]string{"/": "/x"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			_, err := New(cfg, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestService_ServeBeforeStart(t *testing.T) {
	svc, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	assert.Error(t, svc.Serve(context.Background()))
}

func TestService_AdministrativeChannelsExistAtStart(t *testing.T) {
	svc, _ := startService(t, testConfig(t))

	for _, name := range []string{rpc.RequestChannel, rpc.ResponseChannel} {
		_, err := svc.Channels().Get(name)
		assert.NoError(t, err, name)
	}
}

func TestService_PluginLifecycle(t *testing.T) {
	cfg := testConfig(t)
	svc, addr := startService(t, cfg)

	system := dial(t, addr, systemToken)

	var token string
	require.NoError(t, system.Admin(timeout(t), "register_plugin", &token, "hue", "Hue Bridge", "plugins/hue"))
	require.NotEmpty(t, token)

	plugin := dial(t, addr, token)
	name, err := plugin.Create(timeout(t), channel.CreateRequest{
		QueueName:     "lights",
		QueueType:     string(channel.KindFIFO),
		RequestSchema: json.RawMessage(`{"type":"object","required":["on"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "/plugins/hue/lights", name)

	listener := dial(t, addr, token)
	require.NoError(t, listener.Pop(timeout(t), name, nil))

	// Pushing through the configured synonym reaches the canonical channel.
	require.NoError(t, system.Push(timeout(t), "/synonyms/lights", json.RawMessage(`{"on":true}`), nil))

	got, err := listener.Receive(timeout(t))
	require.NoError(t, err)
	assert.Equal(t, wire.OpInform, got.Operation)
	assert.JSONEq(t, `{"on":true}`, string(got.Body))

	auth, ok := got.Header(wire.HeaderAuth)
	require.True(t, ok)
	assert.Contains(t, auth, `"app_id":"core"`)

	var removed bool
	require.NoError(t, system.Admin(timeout(t), "unregister_plugin", &removed, token))
	assert.True(t, removed)

	entries, err := jsonfile.NewActivityStore(cfg.DataDir).List(0)
	require.NoError(t, err)

	types := make([]activity.Type, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, activity.TypePluginRegister)
	assert.Contains(t, types, activity.TypeChannelCreate)
	assert.Contains(t, types, activity.TypePluginUnregister)

	assert.Empty(t, svc.RPCs())
}

func TestService_RegisteredRPCIsListed(t *testing.T) {
	svc, addr := startService(t, testConfig(t))

	system := dial(t, addr, systemToken)

	var queues rpc.Queues
	require.NoError(t, system.Admin(timeout(t), "register_rpc", &queues,
		"thermostat", "Thermostat control",
		map[string]rpc.API{"set": {Params: []rpc.Param{{Name: "celsius", Type: rpc.ParamNumber, Positional: true}}}},
	))
	assert.Contains(t, queues.RequestQueue, "/rpcs/")

	var listed []rpc.Info
	require.NoError(t, system.Admin(timeout(t), "list_rpcs", &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "thermostat", listed[0].Name)

	local := svc.RPCs()
	require.Len(t, local, 1)
	assert.Equal(t, listed[0].RequestQueue, local[0].RequestQueue)
}

func TestService_ClientReusingHubSessionCannotStopAdmin(t *testing.T) {
	svc, addr := startService(t, testConfig(t))

	system := dial(t, addr, systemToken)
	held, err := system.Create(timeout(t), channel.CreateRequest{
		QueueName:     "held",
		QueueType:     string(channel.KindFIFO),
		RequestSchema: json.RawMessage(`{"type":"string"}`),
	})
	require.NoError(t, err)

	heldCh, err := svc.Channels().Get(held)
	require.NoError(t, err)
	adminCh, err := svc.Channels().Get(rpc.RequestChannel)
	require.NoError(t, err)
	require.Equal(t, 1, adminCh.Stats().Waiters)

	// A raw client claims the hub's SESS, once with a parked pop and once on
	// a frame that fails authentication, then disconnects.
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = fmt.Fprintf(nc, "pop 1\nC %s\nSESS app_manager\n\npop 1\nAUTH bogus\nC /x\nSESS app_manager\n\n", held)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return heldCh.Stats().Waiters == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, nc.Close())
	require.Eventually(t, func() bool { return heldCh.Stats().Waiters == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, adminCh.Stats().Waiters, "hub pop survives the disconnect")

	var listed []rpc.Info
	require.NoError(t, system.Admin(timeout(t), "list_rpcs", &listed))
	assert.Empty(t, listed)
}

func TestService_DiscoveryAdvertisesBoundPort(t *testing.T) {
	cfg := testConfig(t)
	cfg.Discovery.Enabled = true
	cfg.Discovery.Port = 0

	svc, _ := startService(t, cfg)

	udp, ok := svc.DiscoveryAddr().(*net.UDPAddr)
	require.True(t, ok)
	tcp, ok := svc.BrokerAddr().(*net.TCPAddr)
	require.True(t, ok)

	reply, _, err := discovery.Discover(timeout(t), fmt.Sprintf("127.0.0.1:%d", udp.Port))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", reply.Host)
	assert.Equal(t, tcp.Port, reply.Port)
}

func TestService_NoDiscoveryWhenDisabled(t *testing.T) {
	svc, _ := startService(t, testConfig(t))
	assert.Nil(t, svc.DiscoveryAddr())
}
