// Package router resolves a rewrite mode to an ordered fallback chain.
package router

import (
	"fmt"

	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/models"
)

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves modes to ordered provider+model chains.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns the fallback chain for mode. The first route is the
// primary model. Modes without their own route use the "default" route;
// without one, the first provider serves gateway.default_model.
func (r *Router) Resolve(mode models.Mode) ([]Route, error) {
	if len(r.cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	// Build provider index by name
	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	route, ok := r.find(string(mode))
	if !ok {
		route, ok = r.find(config.DefaultRoute)
	}
	if !ok {
		if r.cfg.Gateway.DefaultModel == "" {
			return nil, fmt.Errorf("mode %q: no route and no default model", mode)
		}
		return []Route{{Provider: r.cfg.Providers[0], Model: r.cfg.Gateway.DefaultModel}}, nil
	}

	var routes []Route
	for _, target := range route.Targets {
		provider, ok := providerIndex[target.Provider]
		if !ok {
			continue // skip unknown providers
		}
		model := target.Model
		if model == "" {
			model = r.cfg.Gateway.DefaultModel
		}
		routes = append(routes, Route{Provider: provider, Model: model})
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("route %q: all providers unknown", route.Mode)
	}
	return routes, nil
}

func (r *Router) find(mode string) (config.RouteConfig, bool) {
	for _, route := range r.cfg.Router.Routes {
		if route.Mode == mode {
			return route, true
		}
	}
	return config.RouteConfig{}, false
}
