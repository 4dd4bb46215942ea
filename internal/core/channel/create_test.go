package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/werr"
)

var (
	systemApp = &apps.Identity{AppID: "core", Name: "core", Kind: apps.KindSystem}
	pluginApp = &apps.Identity{AppID: "cam", Name: "Camera", URL: "url-cam", Kind: apps.KindPlugin}
)

func TestOwnedName(t *testing.T) {
	tests := []struct {
		name  string
		owner *apps.Identity
		in    string
		want  string
	}{
		{"system absolute", systemApp, "/dup", "/dup"},
		{"system relative", systemApp, "lights/state", "/lights/state"},
		{"plugin", pluginApp, "/events", "/plugins/cam/events"},
		{"plugin relative", pluginApp, "events", "/plugins/cam/events"},
		{"plugin cannot escape", pluginApp, "../../_system/registry/request", "/plugins/cam/_system/registry/request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OwnedName(tt.owner, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := OwnedName(nil, "/x")
	assert.ErrorIs(t, err, werr.ErrAuthentication)

	_, err = OwnedName(systemApp, "/")
	assert.ErrorIs(t, err, werr.ErrProtocol)
}

func TestParseCreateRequest(t *testing.T) {
	body := json.RawMessage(`{
		"queue_name": "/t/auth",
		"queue_type": "fifo",
		"request_schema": {"type": "string"},
		"authorizers": {"push": {"type": "whitelist", "urls": ["url-a"]}}
	}`)

	req, err := ParseCreateRequest(body)
	require.NoError(t, err)

	info, err := req.Info(systemApp)
	require.NoError(t, err)
	assert.Equal(t, "/t/auth", info.Name)
	assert.Equal(t, KindFIFO, info.Kind)
	assert.Equal(t, "core", info.CreatedBy)
	assert.True(t, info.Authorizers.For("push").Authorize(&apps.Identity{URL: "url-a"}, "push", info.Name))
	assert.False(t, info.Authorizers.For("push").Authorize(&apps.Identity{URL: "url-b"}, "push", info.Name))
}

func TestParseCreateRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not an object", `"x"`},
		{"no name", `{"queue_type":"fifo","request_schema":{}}`},
		{"no schema", `{"queue_name":"/x","queue_type":"fifo"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCreateRequest(json.RawMessage(tt.body))
			assert.ErrorIs(t, err, werr.ErrProtocol)
		})
	}

	req, err := ParseCreateRequest(json.RawMessage(`{"queue_name":"/x","queue_type":"sticky","request_schema":{}}`))
	require.NoError(t, err)
	_, err = req.Info(systemApp)
	assert.ErrorIs(t, err, werr.ErrProtocol)
}
