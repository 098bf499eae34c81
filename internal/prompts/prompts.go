// Package prompts holds the versioned system prompts.
package prompts

import (
	"fmt"
	"sync"
)

// Version identifies a prompt revision.
type Version string

const V1 Version = "1.0.0"

// Prompt is one versioned system prompt.
type Prompt struct {
	ID         string
	Version    Version
	Content    string
	Deprecated bool
}

// Registry manages versioned prompts.
type Registry struct {
	mu      sync.RWMutex
	prompts map[string]map[Version]*Prompt
}

var defaultRegistry = &Registry{prompts: make(map[string]map[Version]*Prompt)}

// DefaultRegistry returns the process-wide registry prompts register into.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a prompt to the registry.
func (r *Registry) Register(p *Prompt) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prompts[p.ID] == nil {
		r.prompts[p.ID] = make(map[Version]*Prompt)
	}
	r.prompts[p.ID][p.Version] = p
}

// Latest returns the newest non-deprecated version of a prompt, falling
// back to the newest deprecated one.
func (r *Registry) Latest(id string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.prompts[id]
	if !ok {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}

	pick := func(includeDeprecated bool) *Prompt {
		var latest *Prompt
		for _, prompt := range versions {
			if prompt.Deprecated && !includeDeprecated {
				continue
			}
			if latest == nil || prompt.Version > latest.Version {
				latest = prompt
			}
		}
		return latest
	}

	if p := pick(false); p != nil {
		return p, nil
	}
	if p := pick(true); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("no versions found for prompt: %s", id)
}
