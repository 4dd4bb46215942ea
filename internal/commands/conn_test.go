package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/core/auth"
	"github.com/hay-kot/weave/internal/core/config"
	"github.com/hay-kot/weave/internal/core/wire"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"trace=abc", "X-Kind=a=b"}, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"TRACE":           "abc",
		"X-KIND":          "a=b",
		wire.HeaderCookie: "c1",
	}, headers)

	_, err = parseHeaders([]string{"novalue"}, "")
	assert.Error(t, err)

	_, err = parseHeaders([]string{"=x"}, "")
	assert.Error(t, err)
}

func TestReadBody(t *testing.T) {
	body, err := readBody([]string{` {"on":true} `}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"on":true}`, string(body))

	file := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(file, []byte("[1,2]\n"), 0o644))

	body, err = readBody(nil, file)
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", string(body))

	_, err = readBody([]string{"not json"}, "")
	assert.Error(t, err)

	_, err = readBody(nil, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestJSONArg(t *testing.T) {
	assert.Equal(t, `21.5`, string(jsonArg("21.5")))
	assert.Equal(t, `true`, string(jsonArg("true")))
	assert.Equal(t, `{"a":1}`, string(jsonArg(`{"a":1}`)))
	assert.Equal(t, `"kitchen"`, string(jsonArg("kitchen")))
}

func TestResolveAddr(t *testing.T) {
	var f connFlags
	assert.Equal(t, "127.0.0.1:11023", f.resolveAddr(nil))

	cfg := config.DefaultConfig()
	cfg.Broker.Port = 12000
	cfg.Broker.Bind = "0.0.0.0"
	assert.Equal(t, "127.0.0.1:12000", f.resolveAddr(&cfg))

	cfg.Broker.Bind = "10.0.0.5"
	assert.Equal(t, "10.0.0.5:12000", f.resolveAddr(&cfg))

	f.addr = "broker.lan:11023"
	assert.Equal(t, "broker.lan:11023", f.resolveAddr(&cfg))
}

func TestLoadSchema(t *testing.T) {
	schema, err := loadSchema(`{"type":"object"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object"}`, string(schema))

	file := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"type":"number"}`), 0o644))

	schema, err = loadSchema("@" + file)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"number"}`, string(schema))

	_, err = loadSchema("{")
	assert.Error(t, err)
}

func TestParseAuthSpec(t *testing.T) {
	spec, err := parseAuthSpec("authenticated")
	require.NoError(t, err)
	assert.Equal(t, auth.Spec{Type: auth.TypeAuthenticated}, spec)

	spec, err = parseAuthSpec(`{"type":"whitelist","urls":["system/core"]}`)
	require.NoError(t, err)
	assert.Equal(t, auth.Spec{Type: auth.TypeWhitelist, URLs: []string{"system/core"}}, spec)

	_, err = parseAuthSpec(`{"type":`)
	assert.Error(t, err)
}

func TestToDelivery(t *testing.T) {
	m := wire.NewMessage(wire.OpInform, json.RawMessage(`{"on":true}`))
	m.SetHeader(wire.HeaderChannel, "/home/lights")
	m.SetHeader(wire.HeaderSession, "s1")
	m.SetHeader(wire.HeaderAuth, `{"app_id":"core"}`)

	d := toDelivery(m)
	assert.Equal(t, "/home/lights", d.Channel)
	assert.Equal(t, "s1", d.Session)
	assert.Empty(t, d.Cookie)
	assert.JSONEq(t, `{"app_id":"core"}`, string(d.Sender))
	assert.JSONEq(t, `{"on":true}`, string(d.Body))
}
