package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
)

// GatewayFactory builds a gateway; model is ignored by gateways without one.
type GatewayFactory func(ctx context.Context, model string) (chat.Gateway, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]GatewayFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]GatewayFactory)}
}

func (r *Registry) Register(name string, f GatewayFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (chat.Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown assistant gateway %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, model)
}

// Names lists registered gateways in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
