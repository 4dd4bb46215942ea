package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/werr"
)

func TestRequestSchema_Validates(t *testing.T) {
	raw, err := RequestSchema([]API{
		{Name: "dim", Params: []Param{
			{Name: "level", Type: ParamNumber, Positional: true},
		}},
		{Name: "toggle", Params: []Param{
			{Name: "on", Type: ParamToggle},
		}},
		{Name: "status"},
	})
	require.NoError(t, err)

	schema, err := channel.CompileSchema(raw)
	require.NoError(t, err)

	tests := []struct {
		body string
		ok   bool
	}{
		{`{"id":"1","invocation":{"command":"dim","args":[40],"kwargs":{}}}`, true},
		{`{"id":"1","invocation":{"command":"dim","args":[40]}}`, false},
		{`{"id":"1","invocation":{"command":"dim","args":["40"],"kwargs":{}}}`, false},
		{`{"id":"1","invocation":{"command":"dim","args":[40, 50],"kwargs":{}}}`, false},
		{`{"id":"1","invocation":{"command":"dim","kwargs":{}}}`, false},
		{`{"id":"1","invocation":{"command":"toggle","args":[],"kwargs":{"on":true}}}`, true},
		{`{"id":"1","invocation":{"command":"toggle","kwargs":{"on":true}}}`, false},
		{`{"id":"1","invocation":{"command":"toggle","args":[],"kwargs":{}}}`, false},
		{`{"id":"1","invocation":{"command":"status","args":[],"kwargs":{}}}`, true},
		{`{"id":"1","invocation":{"command":"status"}}`, false},
		{`{"id":"1","invocation":{"command":"status","args":[1],"kwargs":{}}}`, false},
		{`{"id":"1","invocation":{"command":"status","args":[],"kwargs":{},"extra":1}}`, false},
		{`{"id":1,"invocation":{"command":"status","args":[],"kwargs":{}}}`, false},
		{`{"invocation":{"command":"status","args":[],"kwargs":{}}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			err := channel.Validate(schema, json.RawMessage(tt.body))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, werr.ErrSchemaValidation)
			}
		})
	}
}

func TestRequestSchema_AdminInvocations(t *testing.T) {
	raw, err := RequestSchema(adminAPIs)
	require.NoError(t, err)
	schema, err := channel.CompileSchema(raw)
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"args and empty kwargs", `{"id":"1","invocation":{"command":"rpc_info","args":["plugins/hue","lights"],"kwargs":{}}}`, true},
		{"no params", `{"id":"1","invocation":{"command":"list_rpcs","args":[],"kwargs":{}}}`, true},
		{"missing args", `{"id":"1","invocation":{"command":"rpc_info","kwargs":{}}}`, false},
		{"missing kwargs", `{"id":"1","invocation":{"command":"list_rpcs","args":[]}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := channel.Validate(schema, json.RawMessage(tt.body))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, werr.ErrSchemaValidation)
			}
		})
	}
}

func TestInvocation_MarshalAlwaysCarriesArgsAndKwargs(t *testing.T) {
	data, err := json.Marshal(Request{ID: "1", Invocation: Invocation{Command: "list_rpcs"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","invocation":{"command":"list_rpcs","args":[],"kwargs":{}}}`, string(data))
}

func TestRequestSchema_Rejects(t *testing.T) {
	_, err := RequestSchema(nil)
	assert.ErrorIs(t, err, werr.ErrProtocol)

	_, err = RequestSchema([]API{{Name: ""}})
	assert.ErrorIs(t, err, werr.ErrProtocol)

	_, err = RequestSchema([]API{{Name: "x", Params: []Param{
		{Name: "a", Type: ParamText},
		{Name: "a", Type: ParamText},
	}}})
	assert.ErrorIs(t, err, werr.ErrProtocol)
}

func TestSortedAPIs_FillsNamesFromKeys(t *testing.T) {
	apis := sortedAPIs(map[string]API{
		"b": {},
		"a": {Name: "a"},
	})
	require.Len(t, apis, 2)
	assert.Equal(t, "a", apis[0].Name)
	assert.Equal(t, "b", apis[1].Name)
}

func TestInvocationBind(t *testing.T) {
	inv := Invocation{
		Command: "rpc_info",
		Args:    []json.RawMessage{json.RawMessage(`"url"`)},
		Kwargs:  map[string]json.RawMessage{"rpc_name": json.RawMessage(`"camera"`)},
	}

	var url, name string
	require.NoError(t, inv.bind([]string{"app_url", "rpc_name"}, &url, &name))
	assert.Equal(t, "url", url)
	assert.Equal(t, "camera", name)

	var missing string
	err := Invocation{Command: "x"}.bind([]string{"a"}, &missing)
	assert.ErrorIs(t, err, werr.ErrProtocol)

	var n int
	err = Invocation{Command: "x", Args: []json.RawMessage{json.RawMessage(`"nan"`)}}.bind([]string{"a"}, &n)
	assert.ErrorIs(t, err, werr.ErrProtocol)
}

func TestReplyErr(t *testing.T) {
	assert.NoError(t, Reply{ID: "1"}.Err())

	err := Reply{ID: "1", Error: &Fault{Kind: werr.KindNotFound, Message: "rpc"}}.Err()
	assert.ErrorIs(t, err, werr.ErrNotFound)
}
