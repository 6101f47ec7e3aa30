package delegation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/adk"
)

var ErrUnknownAgent = errors.New("unknown sub-agent type")

type entry struct {
	description string
	agent       adk.Agent
}

// Registry maps sub-agent type names to pre-built agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{agents: map[string]entry{}}
}

// Register adds an agent. An empty description falls back to the agent's own.
func (r *Registry) Register(name, description string, a adk.Agent) error {
	name = strings.TrimSpace(name)
	if name == "" || a == nil {
		return fmt.Errorf("register sub-agent: name and agent are required")
	}
	if description == "" {
		description = a.Description(context.Background())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.agents[name]; dup {
		return fmt.Errorf("register sub-agent: %q already registered", name)
	}
	r.agents[name] = entry{description: description, agent: a}
	return nil
}

func (r *Registry) Lookup(name string) (adk.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[name]
	return e.agent, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for n := range r.agents {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Describe renders "- name: description" lines in name order.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		fmt.Fprintf(&sb, "- %s: %s\n", n, r.agents[n].description)
	}
	return sb.String()
}
