package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/rephrase/pkg/breaker"
	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/router"
)

type fakeModel struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, p Prompt) (models.GenerationResult, error)
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) Attempt(ctx context.Context, p Prompt) (models.GenerationResult, error) {
	m.calls.Add(1)
	return m.fn(ctx, p)
}

func succeed(text string) func(context.Context, Prompt) (models.GenerationResult, error) {
	return func(context.Context, Prompt) (models.GenerationResult, error) {
		return models.GenerationResult{Text: text, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
	}
}

var errProvider = errors.New("provider 500")

func fail(context.Context, Prompt) (models.GenerationResult, error) {
	return models.GenerationResult{}, errProvider
}

func chainConfig(names ...string) *config.Config {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "p", URL: "http://localhost"}}
	route := config.RouteConfig{Mode: config.DefaultRoute}
	for _, n := range names {
		route.Targets = append(route.Targets, config.RouteTarget{Provider: "p", Model: n})
	}
	cfg.Router.Routes = []config.RouteConfig{route}
	cfg.Gateway.VolumeThreshold = 2
	cfg.Gateway.ErrorThresholdPercentage = 50
	cfg.Gateway.AttemptTimeout = time.Second
	cfg.Gateway.RequestTimeout = 5 * time.Second
	return cfg
}

func newGateway(cfg *config.Config, fakes ...*fakeModel) *Gateway {
	byName := make(map[string]*fakeModel, len(fakes))
	for _, f := range fakes {
		byName[f.name] = f
	}
	return New(router.New(cfg), cfg.Gateway, WithModelFactory(func(r router.Route) Model {
		return byName[r.Model]
	}))
}

var req = Request{Mode: models.ModeFormal, Prompt: Prompt{System: "s", User: "u", Source: "Привет"}}

func TestPrimarySucceeds(t *testing.T) {
	primary := &fakeModel{name: "primary", fn: succeed("Here is the rewritten text: Здравствуйте.")}
	backup := &fakeModel{name: "backup", fn: succeed("unused")}
	g := newGateway(chainConfig("primary", "backup"), primary, backup)

	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Здравствуйте.", res.Text)
	assert.Equal(t, "primary", res.ModelUsed)
	assert.Equal(t, 15, res.TotalTokens)
	assert.Equal(t, int32(0), backup.calls.Load())
}

func TestFallbackServesWhenPrimaryFails(t *testing.T) {
	primary := &fakeModel{name: "primary", fn: fail}
	backup := &fakeModel{name: "backup", fn: succeed("«Здравствуйте.»")}
	g := newGateway(chainConfig("primary", "backup"), primary, backup)

	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "backup", res.ModelUsed)
	assert.Equal(t, "Здравствуйте.", res.Text)
}

func TestFallbackResultIsCleaned(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"english framing and quotes", `Sure! Here is the rewritten text: "Добрый день."`},
		{"russian framing", "Вот переписанный текст:\n\nДобрый день."},
		{"framing inside guillemets", "«Вот результат: Добрый день.»"},
		{"trailing note", "Добрый день.\n\nПримечание: я сохранил смысл."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeModel{name: "primary", fn: fail}
			second := &fakeModel{name: "second", fn: fail}
			last := &fakeModel{name: "last", fn: succeed(tt.reply)}
			g := newGateway(chainConfig("primary", "second", "last"), primary, second, last)

			res, err := g.Generate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, "last", res.ModelUsed)
			assert.Equal(t, "Добрый день.", res.Text)
		})
	}
}

func TestAllModelsFail(t *testing.T) {
	a := &fakeModel{name: "a", fn: fail}
	b := &fakeModel{name: "b", fn: fail}
	c := &fakeModel{name: "c", fn: fail}
	g := newGateway(chainConfig("a", "b", "c"), a, b, c)

	_, err := g.Generate(context.Background(), req)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, errProvider)
	for _, m := range []*fakeModel{a, b, c} {
		assert.Equal(t, int32(1), m.calls.Load(), m.name)
	}
}

func TestOpenBreakerSkipsPrimary(t *testing.T) {
	primary := &fakeModel{name: "primary", fn: fail}
	backup := &fakeModel{name: "backup", fn: succeed("ok")}
	cfg := chainConfig("primary", "backup")
	g := newGateway(cfg, primary, backup)

	for range 2 {
		_, err := g.Generate(context.Background(), req)
		require.NoError(t, err)
	}
	require.Equal(t, breaker.StateOpen, g.Breaker(router.Route{Provider: cfg.Providers[0], Model: "primary"}).State())

	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "backup", res.ModelUsed)
	assert.Equal(t, int32(2), primary.calls.Load(), "open breaker must not dispatch to the primary")
	assert.Equal(t, int32(3), backup.calls.Load())
}

func TestSlowFallbackTimesOut(t *testing.T) {
	primary := &fakeModel{name: "primary", fn: fail}
	slow := &fakeModel{name: "slow", fn: func(ctx context.Context, _ Prompt) (models.GenerationResult, error) {
		<-ctx.Done()
		return models.GenerationResult{}, ctx.Err()
	}}
	last := &fakeModel{name: "last", fn: succeed("ok")}
	cfg := chainConfig("primary", "slow", "last")
	cfg.Gateway.AttemptTimeout = 50 * time.Millisecond
	g := newGateway(cfg, primary, slow, last)

	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "last", res.ModelUsed)
}

func TestCallerCancelDoesNotCancelPrimary(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var attemptAlive atomic.Bool
	var attemptDone atomic.Bool
	primary := &fakeModel{name: "primary", fn: func(ctx context.Context, _ Prompt) (models.GenerationResult, error) {
		close(started)
		<-release
		attemptAlive.Store(ctx.Err() == nil)
		attemptDone.Store(true)
		return models.GenerationResult{Text: "late"}, nil
	}}
	backup := &fakeModel{name: "backup", fn: succeed("unused")}
	cfg := chainConfig("primary", "backup")
	g := newGateway(cfg, primary, backup)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Generate(ctx, req)
		errc <- err
	}()
	<-started
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), backup.calls.Load())

	close(release)
	require.Eventually(t, attemptDone.Load, time.Second, 10*time.Millisecond)
	assert.True(t, attemptAlive.Load(), "primary attempt context must survive caller cancellation")
}

func TestOpenAIModel(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "bad request", http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Вот результат: Здравствуйте."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":20,"completion_tokens":4,"total_tokens":24}}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "local", URL: srv.URL + "/v1", APIKey: "sk-test", MaxOutputTokens: 300}}
	cfg.Gateway.DefaultModel = "gpt-4o-mini"
	g := New(router.New(cfg), cfg.Gateway, WithHTTPClient(srv.Client()))

	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Здравствуйте.", res.Text)
	assert.Equal(t, "gpt-4o-mini", res.ModelUsed)
	assert.Equal(t, 20, res.PromptTokens)
	assert.Equal(t, 4, res.CompletionTokens)
	assert.Equal(t, 24, res.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", gotReq["model"])
	assert.EqualValues(t, minOutputTokens, gotReq["max_tokens"])
	msgs, ok := gotReq["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIModelProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	m := NewOpenAIModel(config.ProviderConfig{Name: "local", URL: srv.URL}, "gpt-4o-mini", 0.7, srv.Client())
	_, err := m.Attempt(context.Background(), req.Prompt)
	assert.Error(t, err)
}

func TestOpenAIModelEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	m := NewOpenAIModel(config.ProviderConfig{Name: "local", URL: srv.URL}, "gpt-4o-mini", 0.7, srv.Client())
	_, err := m.Attempt(context.Background(), req.Prompt)
	assert.ErrorIs(t, err, errEmptyCompletion)
}
