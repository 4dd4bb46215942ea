// Package apps maps opaque application tokens to application identities.
//
// Tokens are the only credential clients present to the broker. They never
// leave this package: everything downstream of token resolution works with
// an Identity.
package apps

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hay-kot/weave/internal/core/werr"
)

// Kind is the trust tier of an application.
type Kind string

const (
	KindSystem Kind = "system"
	KindPlugin Kind = "plugin"
)

// Identity is what the broker knows about an authenticated caller.
type Identity struct {
	AppID string `json:"app_id"`
	Name  string `json:"app_name"`
	URL   string `json:"app_url,omitempty"`
	Kind  Kind   `json:"app_type"`
}

// IsSystem reports whether the identity belongs to a system application.
func (i *Identity) IsSystem() bool {
	return i != nil && i.Kind == KindSystem
}

// JSON renders the identity for the AUTH header of deliveries.
func (i *Identity) JSON() string {
	data, _ := json.Marshal(i)
	return string(data)
}

// ParseIdentity decodes an identity rendered by Identity.JSON.
func ParseIdentity(s string) (*Identity, error) {
	var id Identity
	if err := json.Unmarshal([]byte(s), &id); err != nil {
		return nil, werr.Wrap(werr.KindProtocol, err, "malformed identity")
	}
	return &id, nil
}

// SystemApp seeds a system application.
type SystemApp struct {
	Name  string
	URL   string
	Token string
}

// Registry holds every known application. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]Identity
	tokenOf map[string]string // app id -> token
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[string]Identity),
		tokenOf: make(map[string]string),
	}
}

// Seed registers the system applications. A system app's id is its name.
func (r *Registry) Seed(systemApps []SystemApp) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, app := range systemApps {
		if app.Token == "" {
			return werr.Protocol("system app %q has no token", app.Name)
		}
		if _, ok := r.byToken[app.Token]; ok {
			return werr.AlreadyExists("token for system app %q", app.Name)
		}
		if _, ok := r.tokenOf[app.Name]; ok {
			return werr.AlreadyExists("app %q", app.Name)
		}

		r.byToken[app.Token] = Identity{
			AppID: app.Name,
			Name:  app.Name,
			URL:   app.URL,
			Kind:  KindSystem,
		}
		r.tokenOf[app.Name] = app.Token
	}

	return nil
}

// RegisterPlugin records a plugin and returns its freshly minted token. An
// empty appID is replaced by a generated one. The app id becomes a path
// segment of the plugin's channels, so it may not contain slashes.
func (r *Registry) RegisterPlugin(appID, name, url string) (string, error) {
	if appID == "" {
		appID = uuid.NewString()
	}
	if appID == "." || appID == ".." || strings.ContainsAny(appID, "/ \r\n") {
		return "", werr.Protocol("invalid app id %q", appID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokenOf[appID]; ok {
		return "", werr.AlreadyExists("app %q", appID)
	}

	token := uuid.NewString()
	r.byToken[token] = Identity{
		AppID: appID,
		Name:  name,
		URL:   url,
		Kind:  KindPlugin,
	}
	r.tokenOf[appID] = token

	return token, nil
}

// UnregisterPlugin forgets the plugin owning token.
func (r *Registry) UnregisterPlugin(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return werr.NotFound("token")
	}
	if id.Kind != KindPlugin {
		return werr.Unauthorized("system apps cannot be unregistered")
	}

	delete(r.byToken, token)
	delete(r.tokenOf, id.AppID)
	return nil
}

// Resolve returns the identity owning token.
func (r *Registry) Resolve(token string) (*Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		// The token itself is never echoed back.
		return nil, werr.NotFound("token")
	}
	return &id, nil
}

// List returns all identities sorted by app id.
func (r *Registry) List() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]Identity, 0, len(r.byToken))
	for _, id := range r.byToken {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].AppID < ids[j].AppID })
	return ids
}
