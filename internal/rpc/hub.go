// Package rpc runs the application manager: an administrative RPC served over
// the broker's own channels, and the registry of RPCs that plugins declare.
//
// Every RPC is a pair of channels. Callers push a Request to the FIFO
// request channel with a COOKIE header and pop their Reply from the
// sessionized response channel under the same COOKIE.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/auth"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/werr"
	"github.com/hay-kot/weave/internal/core/wire"
	"github.com/hay-kot/weave/internal/metrics"
	"github.com/hay-kot/weave/pkg/worker"
)

const (
	// Name is the application manager's RPC name.
	Name = "app_manager"

	RegistryBase    = "/_system/registry"
	RequestChannel  = RegistryBase + "/request"
	ResponseChannel = RegistryBase + "/response"

	// session is the SESS the hub sends with its own pushes and pops.
	session = "app_manager"

	stopTimeout = 5 * time.Second
)

// RequestChannelOf and ResponseChannelOf name the channel pair under base.
func RequestChannelOf(base string) string  { return path.Join(base, "request") }
func ResponseChannelOf(base string) string { return path.Join(base, "response") }

// Info describes a registered RPC.
type Info struct {
	AppID          string          `json:"app_id"`
	AppURL         string          `json:"app_url"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	APIs           map[string]API  `json:"apis"`
	RequestQueue   string          `json:"request_queue"`
	ResponseQueue  string          `json:"response_queue"`
	RequestSchema  json.RawMessage `json:"request_schema"`
	ResponseSchema json.RawMessage `json:"response_schema"`
}

type rpcKey struct {
	appURL string
	name   string
}

// Deps are the registries the hub administers. Activity, Metrics and
// Registerer are optional.
type Deps struct {
	Apps       *apps.Registry
	Channels   *channel.Registry
	Activity   activity.Recorder
	Metrics    *metrics.Broker
	Registerer prometheus.Registerer
}

// Hub serves the app_manager RPC.
type Hub struct {
	deps     Deps
	log      zerolog.Logger
	identity *apps.Identity
	// requestor owns the hub's parked pop. Broker connections are keyed by
	// their own ids, so no client can purge it.
	requestor string
	pool      *worker.Pool[channel.Delivery]
	handlers map[string]handler

	mu   sync.RWMutex
	rpcs map[rpcKey]Info
}

type handler func(caller *apps.Identity, inv Invocation) (any, error)

// New creates a hub. It does not touch the channel registry until Start.
func New(deps Deps, log zerolog.Logger) *Hub {
	if deps.Activity == nil {
		deps.Activity = activity.Discard{}
	}

	h := &Hub{
		deps: deps,
		log:  log.With().Str("component", "hub").Logger(),
		identity: &apps.Identity{
			AppID: Name,
			Name:  Name,
			Kind:  apps.KindSystem,
		},
		requestor: Name + "/" + uuid.NewString(),
		rpcs:      make(map[rpcKey]Info),
	}
	h.handlers = map[string]handler{
		"register_rpc":      h.registerRPC,
		"register_plugin":   h.registerPlugin,
		"unregister_plugin": h.unregisterPlugin,
		"rpc_info":          h.rpcInfo,
		"list_rpcs":         h.listRPCs,
	}

	// Exactly one worker: requests create channels, and creation must be
	// serialized against the administrative channels themselves.
	h.pool = worker.NewPool(1, 16, h.process,
		worker.WithMetrics[channel.Delivery](deps.Registerer, "weave_hub"),
	)
	return h
}

// Start creates the administrative channels and begins serving. It must run
// before the broker accepts connections.
func (h *Hub) Start(ctx context.Context) error {
	schema, err := RequestSchema(adminAPIs)
	if err != nil {
		return err
	}

	if err := h.createPair(RegistryBase, "Application Manager", schema); err != nil {
		return err
	}
	if err := h.pool.Start(ctx); err != nil {
		return err
	}

	h.log.Info().Str("channel", RequestChannel).Msg("app manager started")
	return h.pop()
}

// Stop waits for the in-flight request. Pending pops are released by the
// channel registry's shutdown.
func (h *Hub) Stop() error {
	return h.pool.Stop(stopTimeout)
}

// Lookup returns the RPC registered by appURL under name.
func (h *Hub) Lookup(appURL, name string) (Info, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info, ok := h.rpcs[rpcKey{appURL: appURL, name: name}]
	if !ok {
		return Info{}, werr.NotFound("rpc %s for %s", name, appURL)
	}
	return info, nil
}

// List returns every registered RPC ordered by app url, then name.
func (h *Hub) List() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Info, 0, len(h.rpcs))
	for _, info := range h.rpcs {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppURL != out[j].AppURL {
			return out[i].AppURL < out[j].AppURL
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (h *Hub) createPair(base, description string, requestSchema json.RawMessage) error {
	requests := channel.Info{
		Name:          RequestChannelOf(base),
		Kind:          channel.KindFIFO,
		Description:   description,
		RequestSchema: requestSchema,
		Authorizers:   auth.Map{auth.OpPush: auth.Authenticated{}},
		CreatedBy:     h.identity.AppID,
	}
	responses := channel.Info{
		Name:          ResponseChannelOf(base),
		Kind:          channel.KindSessionized,
		Description:   description,
		RequestSchema: responseSchema,
		CreatedBy:     h.identity.AppID,
	}

	if _, err := h.deps.Channels.Create(requests); err != nil {
		return err
	}
	if _, err := h.deps.Channels.Create(responses); err != nil {
		// a request channel without its response channel is unusable
		_ = h.deps.Channels.Remove(requests.Name)
		return err
	}
	h.deps.Metrics.SetChannels(h.deps.Channels.Len())
	return nil
}

// pop parks the hub on its request channel. The delivery callback runs under
// the channel lock, so it only hands the request to the worker.
func (h *Hub) pop() error {
	ch, err := h.deps.Channels.Get(RequestChannel)
	if err != nil {
		return err
	}

	return ch.Pop(channel.Request{
		Headers:   map[string]string{wire.HeaderSession: session},
		Identity:  h.identity,
		Requestor: h.requestor,
	}, func(d channel.Delivery) {
		if err := h.pool.Submit(d); err != nil {
			h.log.Error().Err(err).Msg("dropping administrative request")
		}
	})
}

func (h *Hub) process(_ context.Context, d channel.Delivery) error {
	if d.Err != nil {
		h.log.Debug().Err(d.Err).Msg("request channel released")
		return nil
	}

	cookie := d.Headers[wire.HeaderCookie]
	reply := h.handle(d)

	if cookie == "" {
		h.log.Warn().Str("id", reply.ID).Msg("request without COOKIE, reply dropped")
	} else if err := h.respond(cookie, reply); err != nil {
		h.log.Error().Err(err).Str("id", reply.ID).Msg("failed to push reply")
	}

	if err := h.pop(); err != nil && !errors.Is(err, werr.ErrClosed) {
		h.log.Error().Err(err).Msg("failed to resume serving")
		return err
	}
	return reply.Err()
}

func (h *Hub) handle(d channel.Delivery) Reply {
	var req Request
	if err := json.Unmarshal(d.Body, &req); err != nil {
		return failure("", werr.Protocol("malformed request: %v", err))
	}

	var caller *apps.Identity
	if raw := d.Headers[wire.HeaderAuth]; raw != "" {
		id, err := apps.ParseIdentity(raw)
		if err != nil {
			return failure(req.ID, err)
		}
		caller = id
	}

	fn, ok := h.handlers[req.Invocation.Command]
	if !ok {
		return failure(req.ID, werr.BadOperation(req.Invocation.Command))
	}

	result, err := fn(caller, req.Invocation)

	h.log.Debug().
		Str("command", req.Invocation.Command).
		Str("id", req.ID).
		AnErr("error", err).
		Msg("administrative request")

	if err != nil {
		return failure(req.ID, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return failure(req.ID, werr.Internal(err, "encode result"))
	}
	return Reply{ID: req.ID, Result: data}
}

func (h *Hub) respond(cookie string, reply Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	ch, err := h.deps.Channels.Get(ResponseChannel)
	if err != nil {
		return err
	}
	return ch.Push(channel.Request{
		Body:     body,
		Headers:  map[string]string{wire.HeaderCookie: cookie, wire.HeaderSession: session},
		Identity: h.identity,
	})
}

func failure(id string, err error) Reply {
	return Reply{
		ID: id,
		Error: &Fault{
			Kind:    werr.KindOf(err),
			Message: werr.Detail(err),
		},
	}
}

func (h *Hub) record(a activity.Activity) {
	if err := h.deps.Activity.Record(a); err != nil {
		h.log.Warn().Err(err).Msg("failed to record activity")
	}
}
