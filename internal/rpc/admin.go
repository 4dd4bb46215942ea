package rpc

import (
	"path"

	"github.com/google/uuid"

	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/werr"
)

func positional(name, desc string, typ ParamType) Param {
	return Param{Name: name, Description: desc, Type: typ, Positional: true}
}

var adminAPIs = []API{
	{
		Name:        "register_rpc",
		Description: "Register new RPC",
		Params: []Param{
			positional("name", "Name of the RPC", ParamText),
			positional("description", "Description of RPC", ParamText),
			positional("apis", "Maps of all APIs", ParamObject),
		},
	},
	{
		Name:        "register_plugin",
		Description: "Register Plugin",
		Params: []Param{
			positional("app_id", "Plugin ID", ParamText),
			positional("name", "Plugin Name", ParamText),
			positional("url", "Plugin URL", ParamText),
		},
	},
	{
		Name:        "unregister_plugin",
		Description: "Unregister Plugin",
		Params:      []Param{positional("token", "Plugin Token", ParamText)},
	},
	{
		Name:        "rpc_info",
		Description: "Get RPC info",
		Params: []Param{
			positional("app_url", "Plugin URL", ParamText),
			positional("rpc_name", "RPC Name", ParamText),
		},
	},
	{
		Name:        "list_rpcs",
		Description: "List registered RPCs",
	},
}

// Queues is the result of register_rpc.
type Queues struct {
	RequestQueue  string `json:"request_queue"`
	ResponseQueue string `json:"response_queue"`
}

func (h *Hub) registerRPC(caller *apps.Identity, inv Invocation) (any, error) {
	if caller == nil {
		return nil, werr.Authentication("can not identify caller")
	}

	var (
		name, description string
		apis              map[string]API
	)
	if err := inv.bind([]string{"name", "description", "apis"}, &name, &description, &apis); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, werr.Protocol("rpc name is required")
	}

	list := sortedAPIs(apis)
	schema, err := RequestSchema(list)
	if err != nil {
		return nil, err
	}

	key := rpcKey{appURL: caller.URL, name: name}
	h.mu.RLock()
	_, exists := h.rpcs[key]
	h.mu.RUnlock()
	if exists {
		return nil, werr.AlreadyExists("rpc %s for %s", name, caller.URL)
	}

	rpcID := uuid.NewString()
	base := path.Join(channel.PluginRoot, caller.AppID, "rpcs", rpcID)
	if err := h.createPair(base, description, schema); err != nil {
		return nil, err
	}

	byName := make(map[string]API, len(list))
	for _, api := range list {
		byName[api.Name] = api
	}

	info := Info{
		AppID:          caller.AppID,
		AppURL:         caller.URL,
		Name:           name,
		Description:    description,
		APIs:           byName,
		RequestQueue:   RequestChannelOf(base),
		ResponseQueue:  ResponseChannelOf(base),
		RequestSchema:  schema,
		ResponseSchema: responseSchema,
	}

	h.mu.Lock()
	h.rpcs[key] = info
	h.mu.Unlock()

	h.log.Info().
		Str("rpc", name).
		Str("app", caller.AppID).
		Str("channel", info.RequestQueue).
		Msg("rpc registered")
	h.record(activity.Activity{
		Type:    activity.TypeRPCRegister,
		Channel: info.RequestQueue,
		AppID:   caller.AppID,
		Detail:  name,
	})

	return Queues{RequestQueue: info.RequestQueue, ResponseQueue: info.ResponseQueue}, nil
}

func (h *Hub) registerPlugin(caller *apps.Identity, inv Invocation) (any, error) {
	if !caller.IsSystem() {
		return nil, werr.Authentication("only system apps can register plugins")
	}

	var appID, name, url string
	if err := inv.bind([]string{"app_id", "name", "url"}, &appID, &name, &url); err != nil {
		return nil, err
	}

	token, err := h.deps.Apps.RegisterPlugin(appID, name, url)
	if err != nil {
		return nil, err
	}
	plugin, err := h.deps.Apps.Resolve(token)
	if err != nil {
		return nil, err
	}

	h.log.Info().Str("app", plugin.AppID).Str("url", url).Str("by", caller.AppID).Msg("plugin registered")
	h.record(activity.Activity{
		Type:   activity.TypePluginRegister,
		AppID:  plugin.AppID,
		Detail: url,
	})
	return token, nil
}

func (h *Hub) unregisterPlugin(caller *apps.Identity, inv Invocation) (any, error) {
	if !caller.IsSystem() {
		return nil, werr.Authentication("only system apps can unregister plugins")
	}

	var token string
	if err := inv.bind([]string{"token"}, &token); err != nil {
		return nil, err
	}

	id, err := h.deps.Apps.Resolve(token)
	if err != nil {
		return nil, err
	}
	if err := h.deps.Apps.UnregisterPlugin(token); err != nil {
		return nil, err
	}

	h.log.Info().Str("app", id.AppID).Str("by", caller.AppID).Msg("plugin unregistered")
	h.record(activity.Activity{
		Type:  activity.TypePluginUnregister,
		AppID: id.AppID,
	})
	return true, nil
}

func (h *Hub) rpcInfo(_ *apps.Identity, inv Invocation) (any, error) {
	var appURL, name string
	if err := inv.bind([]string{"app_url", "rpc_name"}, &appURL, &name); err != nil {
		return nil, err
	}
	return h.Lookup(appURL, name)
}

func (h *Hub) listRPCs(*apps.Identity, Invocation) (any, error) {
	return h.List(), nil
}
