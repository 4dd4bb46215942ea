package channel

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/auth"
	"github.com/hay-kot/weave/internal/core/werr"
)

// PluginRoot is the namespace plugin channels are confined to.
const PluginRoot = "/plugins"

// CreateRequest is the body of a create operation.
type CreateRequest struct {
	QueueName      string               `json:"queue_name"`
	QueueType      string               `json:"queue_type"`
	Description    string               `json:"description,omitempty"`
	RequestSchema  json.RawMessage      `json:"request_schema"`
	ResponseSchema json.RawMessage      `json:"response_schema,omitempty"`
	Authorizers    map[string]auth.Spec `json:"authorizers,omitempty"`
}

// ParseCreateRequest decodes and sanity checks a create body.
func ParseCreateRequest(body json.RawMessage) (CreateRequest, error) {
	var req CreateRequest
	if len(body) == 0 {
		return req, werr.Protocol("create requires a body")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, werr.Wrap(werr.KindProtocol, err, "malformed create body")
	}
	if req.QueueName == "" {
		return req, werr.Protocol("queue_name is required")
	}
	if len(req.RequestSchema) == 0 {
		return req, werr.Protocol("request_schema is required")
	}
	return req, nil
}

// Info converts the request into channel info for the given owner.
func (r CreateRequest) Info(owner *apps.Identity) (Info, error) {
	name, err := OwnedName(owner, r.QueueName)
	if err != nil {
		return Info{}, err
	}

	kind, err := ParseKind(r.QueueType)
	if err != nil {
		return Info{}, err
	}

	authorizers, err := auth.BuildMap(r.Authorizers)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Name:           name,
		Kind:           kind,
		Description:    r.Description,
		RequestSchema:  r.RequestSchema,
		ResponseSchema: r.ResponseSchema,
		Authorizers:    authorizers,
		CreatedBy:      owner.AppID,
	}, nil
}

// OwnedName returns the canonical name of a channel created by owner. System
// apps name channels from the root; plugins are confined under
// /plugins/<app-id>.
func OwnedName(owner *apps.Identity, name string) (string, error) {
	if owner == nil {
		return "", werr.Authentication("creating channels requires authentication")
	}

	// Cleaning against the root resolves any ".." before the owner prefix
	// is applied.
	clean := path.Clean("/" + strings.TrimSpace(name))
	if clean == "/" {
		return "", werr.Protocol("invalid channel name %q", name)
	}

	if owner.IsSystem() {
		return clean, nil
	}
	return path.Join(PluginRoot, owner.AppID, clean), nil
}
