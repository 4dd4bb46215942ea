// Package synonym aliases channel names.
package synonym

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/hay-kot/weave/internal/core/werr"
)

// Prefix is the namespace every alias lives under.
const Prefix = "/synonyms"

// Table maps alias paths to canonical channel names. It is safe for
// concurrent use.
type Table struct {
	mu      sync.RWMutex
	aliases map[string]string
}

func New() *Table {
	return &Table{aliases: make(map[string]string)}
}

// AliasPath returns the effective path of alias: "x" and "/x" both become
// "/synonyms/x".
func AliasPath(alias string) string {
	return path.Join(Prefix, strings.TrimLeft(alias, "/"))
}

// Register maps alias to target and returns the effective alias path.
func (t *Table) Register(alias, target string) (string, error) {
	name := AliasPath(alias)
	if name == Prefix {
		return "", werr.Protocol("empty synonym")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.aliases[name]; ok {
		return "", werr.AlreadyExists("%s", name)
	}
	t.aliases[name] = target
	return name, nil
}

// Translate returns the canonical name for name, or name itself when it is
// not an alias.
func (t *Table) Translate(name string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if target, ok := t.aliases[name]; ok {
		return target
	}
	return name
}

// Entry is one alias mapping.
type Entry struct {
	Alias  string
	Target string
}

// List returns every mapping sorted by alias.
func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, len(t.aliases))
	for alias, target := range t.aliases {
		out = append(out, Entry{Alias: alias, Target: target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}
