// Package guides resolves the per-guide system context that frames every
// question sent to the assistant.
package guides

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"breathwork-agent/internal/domain"
)

// ParamGetter is the parameter store surface the provider depends on.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Provider fetches guide context texts from the parameter store at
// "<prefix>/guides/<guideId>" and caches them for the process lifetime.
type Provider struct {
	params      ParamGetter
	paramPrefix string

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a Provider backed by the given parameter store.
func New(params ParamGetter, paramPrefix string) (*Provider, error) {
	if params == nil {
		return nil, errors.New("guides: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("guides: parameter prefix must not be empty")
	}
	return &Provider{
		params:      params,
		paramPrefix: paramPrefix,
		cache:       make(map[string]string),
	}, nil
}

// GuideContext returns the system context for the given guide. An empty guide
// id falls back to the default guide. Guide context texts are static per
// deployment, so a successful lookup is cached.
func (p *Provider) GuideContext(ctx context.Context, guideID string) (string, error) {
	guideID = strings.TrimSpace(guideID)
	if guideID == "" {
		guideID = domain.DefaultGuideID
	}

	p.mu.RLock()
	cached, ok := p.cache[guideID]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	value, err := p.params.GetParameter(ctx, p.paramPrefix+"/guides/"+guideID)
	if err != nil {
		return "", fmt.Errorf("guides: load context for guide %q: %w", guideID, err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("guides: context for guide %q is empty", guideID)
	}

	p.mu.Lock()
	p.cache[guideID] = value
	p.mu.Unlock()
	return value, nil
}
