package auth

import (
	"fmt"

	"github.com/hay-kot/weave/internal/core/werr"
)

// Spec types accepted in channel creation requests.
const (
	TypeAllowAll      = "allow_all"
	TypeAuthenticated = "authenticated"
	TypeWhitelist     = "whitelist"
	TypePattern       = "pattern"
	TypeChain         = "chain"
)

// Spec is the JSON description of an authorizer, as sent by clients in the
// "authorizers" field of a create request.
type Spec struct {
	Type        string   `json:"type"`
	URLs        []string `json:"urls,omitempty"`
	Patterns    []string `json:"patterns,omitempty"`
	Authorizers []Spec   `json:"authorizers,omitempty"`
}

// Build turns the spec into an Authorizer.
func (s Spec) Build() (Authorizer, error) {
	switch s.Type {
	case TypeAllowAll, "":
		return AllowAll{}, nil
	case TypeAuthenticated:
		return Authenticated{}, nil
	case TypeWhitelist:
		return NewWhitelist(s.URLs...), nil
	case TypePattern:
		return NewPattern(s.Patterns...)
	case TypeChain:
		chain := make(Chain, 0, len(s.Authorizers))
		for i, sub := range s.Authorizers {
			a, err := sub.Build()
			if err != nil {
				return nil, fmt.Errorf("authorizers[%d]: %w", i, err)
			}
			chain = append(chain, a)
		}
		return chain, nil
	default:
		return nil, werr.Protocol("unknown authorizer type %q", s.Type)
	}
}

// BuildMap builds a per-operation authorizer map. Keys must be "push" or
// "pop".
func BuildMap(specs map[string]Spec) (Map, error) {
	m := make(Map, len(specs))
	for key, spec := range specs {
		op := Op(key)
		if op != OpPush && op != OpPop {
			return nil, werr.Protocol("authorizer for unknown operation %q", key)
		}
		a, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		m[op] = a
	}
	return m, nil
}
