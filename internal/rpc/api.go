package rpc

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hay-kot/weave/internal/core/werr"
)

// ParamType is the declared type of an API parameter.
type ParamType string

const (
	ParamText   ParamType = "text"
	ParamNumber ParamType = "number"
	ParamToggle ParamType = "toggle"
	ParamObject ParamType = "object"
)

func (t ParamType) schemaType() (string, bool) {
	switch t {
	case ParamText:
		return "string", true
	case ParamNumber:
		return "number", true
	case ParamToggle:
		return "boolean", true
	case ParamObject:
		return "object", true
	default:
		return "", false
	}
}

// Param is one parameter of an API. Positional parameters travel in the
// invocation's args array in declaration order, the rest in kwargs.
type Param struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        ParamType `json:"type"`
	Positional  bool      `json:"positional"`
}

// API is a single command exposed by an RPC.
type API struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params,omitempty"`
}

func (a API) validate() error {
	if a.Name == "" {
		return werr.Protocol("api without a name")
	}
	seen := make(map[string]struct{}, len(a.Params))
	for _, p := range a.Params {
		if p.Name == "" {
			return werr.Protocol("api %s: parameter without a name", a.Name)
		}
		if _, ok := p.Type.schemaType(); !ok {
			return werr.Protocol("api %s: parameter %s has unknown type %q", a.Name, p.Name, p.Type)
		}
		if _, dup := seen[p.Name]; dup {
			return werr.Protocol("api %s: duplicate parameter %s", a.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Schema is the JSON schema an invocation of the API must satisfy. Both
// args and kwargs are required: args is a fixed-length array with one typed
// slot per positional parameter, kwargs an object with every keyword
// parameter. An API without parameters takes [] and {}.
func (a API) Schema() map[string]any {
	args := []any{}
	kwargs := map[string]any{}
	kwargNames := []string{}

	for _, p := range a.Params {
		typ, _ := p.Type.schemaType()
		if p.Positional {
			args = append(args, map[string]any{"type": typ})
			continue
		}
		kwargs[p.Name] = map[string]any{"type": typ}
		kwargNames = append(kwargNames, p.Name)
	}

	argsSchema := map[string]any{
		"type":     "array",
		"minItems": len(args),
		"maxItems": len(args),
	}
	if len(args) > 0 {
		argsSchema["items"] = args
	}

	kwargsSchema := map[string]any{
		"type":       "object",
		"properties": kwargs,
	}
	// draft-4 rejects an empty required list
	if len(kwargNames) > 0 {
		kwargsSchema["required"] = kwargNames
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"enum": []string{a.Name}},
			"args":    argsSchema,
			"kwargs":  kwargsSchema,
		},
		"additionalProperties": false,
		"required":             []string{"command", "args", "kwargs"},
	}
}

// RequestSchema builds the schema of an RPC request channel: an envelope
// whose invocation matches any one of the APIs.
func RequestSchema(apis []API) (json.RawMessage, error) {
	if len(apis) == 0 {
		return nil, werr.Protocol("rpc declares no apis")
	}

	schemas := make([]any, 0, len(apis))
	for _, api := range apis {
		if err := api.validate(); err != nil {
			return nil, err
		}
		schemas = append(schemas, api.Schema())
	}

	data, err := json.Marshal(map[string]any{
		"type":     "object",
		"required": []string{"invocation"},
		"properties": map[string]any{
			"id":         map[string]any{"type": "string"},
			"invocation": map[string]any{"anyOf": schemas},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request schema: %w", err)
	}
	return data, nil
}

// responseSchema accepts any reply envelope.
var responseSchema = json.RawMessage(`{"type":"object"}`)

// sortedAPIs flattens an API map into a slice ordered by name. Map keys name
// APIs that omit their own name.
func sortedAPIs(apis map[string]API) []API {
	out := make([]API, 0, len(apis))
	for key, api := range apis {
		if api.Name == "" {
			api.Name = key
		}
		out = append(out, api)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invocation is the call carried by a request.
type Invocation struct {
	Command string                     `json:"command"`
	Args    []json.RawMessage          `json:"args"`
	Kwargs  map[string]json.RawMessage `json:"kwargs"`
}

// MarshalJSON always emits args and kwargs, as [] and {} when unset.
func (inv Invocation) MarshalJSON() ([]byte, error) {
	type plain Invocation
	out := plain(inv)
	if out.Args == nil {
		out.Args = []json.RawMessage{}
	}
	if out.Kwargs == nil {
		out.Kwargs = map[string]json.RawMessage{}
	}
	return json.Marshal(out)
}

// Request is the body pushed to an RPC request channel.
type Request struct {
	ID         string     `json:"id"`
	Invocation Invocation `json:"invocation"`
}

// Fault is the error half of a reply.
type Fault struct {
	Kind    werr.Kind `json:"kind"`
	Message string    `json:"message"`
}

// Reply is the body pushed to an RPC response channel.
type Reply struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Fault          `json:"error,omitempty"`
}

// Err converts a fault reply into a werr error.
func (r Reply) Err() error {
	if r.Error == nil {
		return nil
	}
	return werr.New(r.Error.Kind, "%s", r.Error.Message)
}

// bind decodes positional args into targets, falling back to kwargs by name
// for slots the caller passed by keyword.
func (inv Invocation) bind(names []string, targets ...any) error {
	for i, target := range targets {
		var raw json.RawMessage
		switch {
		case i < len(inv.Args):
			raw = inv.Args[i]
		case inv.Kwargs[names[i]] != nil:
			raw = inv.Kwargs[names[i]]
		default:
			return werr.Protocol("%s: missing argument %s", inv.Command, names[i])
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return werr.Protocol("%s: argument %s: %v", inv.Command, names[i], err)
		}
	}
	return nil
}
