package llm

import (
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/mohammad-safakhou/paperflow/internal/telemetry"
	"go.uber.org/zap"
)

// Role selects a routing entry.
type Role string

const (
	RoleOrchestration Role = "orchestration"
	RolePlanning      Role = "planning"
	RoleResearch      Role = "research"
	RoleWriting       Role = "writing"
	RoleCritique      Role = "critique"
)

// Router resolves a role to a chat model, falling back to routing.fallback
// when the role has no entry.
type Router struct {
	cfg    config.LLMConfig
	tele   *telemetry.Telemetry
	logger *zap.Logger

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
}

func NewRouter(cfg config.LLMConfig, tele *telemetry.Telemetry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, tele: tele, logger: logger, models: map[string]model.ToolCallingChatModel{}}
}

// ModelName returns the configured model key for role.
func (r *Router) ModelName(role Role) string {
	var name string
	switch role {
	case RoleOrchestration:
		name = r.cfg.Routing.Orchestration
	case RolePlanning:
		name = r.cfg.Routing.Planning
	case RoleResearch:
		name = r.cfg.Routing.Research
	case RoleWriting:
		name = r.cfg.Routing.Writing
	case RoleCritique:
		name = r.cfg.Routing.Critique
	}
	if name == "" {
		name = r.cfg.Routing.Fallback
	}
	return name
}

// For returns the (cached) chat model serving role.
func (r *Router) For(role Role) (model.ToolCallingChatModel, error) {
	name := r.ModelName(role)
	if name == "" {
		return nil, fmt.Errorf("no model routed for %s and no fallback configured", role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[name]; ok {
		return m, nil
	}
	provider, m, ok := r.cfg.FindModel(name)
	if !ok {
		return nil, fmt.Errorf("model %q not declared by any provider", name)
	}
	switch provider.Type {
	case "openai", "openai-compatible", "":
	default:
		return nil, fmt.Errorf("model %q: unsupported provider type %q", name, provider.Type)
	}
	cm := NewChatModel(name, provider, m, r.tele, r.logger)
	r.models[name] = cm
	return cm, nil
}
