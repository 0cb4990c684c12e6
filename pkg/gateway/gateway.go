// Package gateway runs generation through a circuit-breaker-guarded primary
// model and an ordered fallback chain.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pario-ai/rephrase/pkg/breaker"
	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/metrics"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/router"
)

// ErrUpstreamUnavailable is returned once every model in the chain failed.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Request is one generation call.
type Request struct {
	Mode   models.Mode
	Prompt Prompt
}

// ModelFactory builds the Model serving a resolved route.
type ModelFactory func(route router.Route) Model

// Gateway is safe for concurrent use. Breakers are shared by every request
// that resolves to the same primary model.
type Gateway struct {
	router   *router.Router
	factory  ModelFactory
	settings breaker.Settings

	attemptTimeout time.Duration
	requestTimeout time.Duration
	temperature    float32
	httpClient     *http.Client

	mu       sync.Mutex
	models   map[string]Model
	breakers map[string]*breaker.Breaker
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithModelFactory overrides how routes become models.
func WithModelFactory(f ModelFactory) Option {
	return func(g *Gateway) { g.factory = f }
}

// WithHTTPClient sets the client used by the default OpenAI models.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// New creates a Gateway resolving chains through r.
func New(r *router.Router, cfg config.GatewayConfig, opts ...Option) *Gateway {
	g := &Gateway{
		router: r,
		settings: breaker.Settings{
			VolumeThreshold:          cfg.VolumeThreshold,
			ErrorThresholdPercentage: cfg.ErrorThresholdPercentage,
			RollingWindow:            cfg.RollingWindow,
			ResetTimeout:             cfg.ResetTimeout,
		},
		attemptTimeout: cfg.AttemptTimeout,
		requestTimeout: cfg.RequestTimeout,
		temperature:    cfg.Temperature,
		models:         make(map[string]Model),
		breakers:       make(map[string]*breaker.Breaker),
	}
	g.factory = g.openAIModel
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) openAIModel(r router.Route) Model {
	return NewOpenAIModel(r.Provider, r.Model, g.temperature, g.httpClient)
}

func routeKey(r router.Route) string {
	return r.Provider.Name + "/" + r.Model
}

func (g *Gateway) model(r router.Route) Model {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := routeKey(r)
	m, ok := g.models[key]
	if !ok {
		m = g.factory(r)
		g.models[key] = m
	}
	return m
}

// Breaker returns the shared breaker guarding r as a primary model.
func (g *Gateway) Breaker(r router.Route) *breaker.Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := routeKey(r)
	b, ok := g.breakers[key]
	if !ok {
		b = breaker.New("primary:"+key, g.settings)
		g.breakers[key] = b
	}
	return b
}

// Generate tries the chain for req.Mode in order and returns the first
// success with Text cleaned and ModelUsed set to the model that served it.
func (g *Gateway) Generate(ctx context.Context, req Request) (models.GenerationResult, error) {
	routes, err := g.router.Resolve(req.Mode)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("resolve chain: %w", err)
	}

	rctx := ctx
	if g.requestTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, g.requestTimeout)
		defer cancel()
	}

	var errs []error
	for i, route := range routes {
		if rctx.Err() != nil {
			errs = append(errs, rctx.Err())
			break
		}
		m := g.model(route)
		start := time.Now()

		var res models.GenerationResult
		if i == 0 {
			res, err = g.attemptPrimary(rctx, g.Breaker(route), m, req.Prompt)
		} else {
			res, err = g.attempt(rctx, m, req.Prompt)
		}
		if err != nil {
			result := "error"
			if errors.Is(err, breaker.ErrOpen) {
				result = "rejected"
			}
			metrics.GenerationAttempts.WithLabelValues(m.Name(), result).Inc()
			slog.Warn("generation attempt failed", "model", m.Name(), "provider", route.Provider.Name, "fallback", i > 0, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
			continue
		}

		latency := time.Since(start)
		metrics.GenerationAttempts.WithLabelValues(m.Name(), "ok").Inc()
		metrics.GenerationLatency.WithLabelValues(m.Name()).Observe(latency.Seconds())
		res.Text = Clean(res.Text)
		res.ModelUsed = m.Name()
		res.LatencyMs = latency.Milliseconds()
		if i > 0 {
			slog.Info("served by fallback model", "model", m.Name(), "mode", req.Mode)
		}
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return models.GenerationResult{}, err
	}
	return models.GenerationResult{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, errors.Join(errs...))
}

// attemptPrimary runs m through b on a context detached from the caller so
// that a departing caller does not cancel a call the breaker is counting.
func (g *Gateway) attemptPrimary(ctx context.Context, b *breaker.Breaker, m Model, p Prompt) (models.GenerationResult, error) {
	type outcome struct {
		res models.GenerationResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		actx, cancel := g.attemptCtx(context.WithoutCancel(ctx))
		defer cancel()
		var o outcome
		o.err = b.Execute(func() error {
			var err error
			o.res, err = m.Attempt(actx, p)
			return err
		})
		done <- o
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return models.GenerationResult{}, ctx.Err()
	}
}

func (g *Gateway) attempt(ctx context.Context, m Model, p Prompt) (models.GenerationResult, error) {
	actx, cancel := g.attemptCtx(ctx)
	defer cancel()
	return m.Attempt(actx, p)
}

func (g *Gateway) attemptCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.attemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.attemptTimeout)
}
