// Package rewrite composes verification, quota, caching, masking,
// generation and diffing into one rewrite request.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pario-ai/rephrase/pkg/audit"
	"github.com/pario-ai/rephrase/pkg/auth"
	"github.com/pario-ai/rephrase/pkg/config"
	"github.com/pario-ai/rephrase/pkg/diff"
	"github.com/pario-ai/rephrase/pkg/gateway"
	"github.com/pario-ai/rephrase/pkg/metrics"
	"github.com/pario-ai/rephrase/pkg/models"
	"github.com/pario-ai/rephrase/pkg/pii"
	"github.com/pario-ai/rephrase/pkg/quota"
)

// Verifier resolves bearer tokens.
type Verifier interface {
	Resolve(ctx context.Context, token string) (models.CallerIdentity, error)
}

// Quota checks and records per-caller daily usage.
type Quota interface {
	Snapshot(ctx context.Context, id models.CallerIdentity) (models.QuotaSnapshot, error)
	Check(ctx context.Context, id models.CallerIdentity) (models.QuotaSnapshot, error)
	RecordUsage(ctx context.Context, id models.CallerIdentity, rec models.UsageRecord) error
}

// Cache stores finished rewrites.
type Cache interface {
	Get(ctx context.Context, text string, mode models.Mode) (models.CachedResult, bool)
	Put(ctx context.Context, text string, mode models.Mode, res models.GenerationResult)
}

// Generator produces rewritten text.
type Generator interface {
	Generate(ctx context.Context, req gateway.Request) (models.GenerationResult, error)
}

// AuditLog receives one entry per finished request.
type AuditLog interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// Deps are the collaborators of a Service. Cache and Audit may be nil.
type Deps struct {
	Verifier  Verifier
	Quota     Quota
	Cache     Cache
	Masker    *pii.Masker
	Generator Generator
	Audit     AuditLog
}

const auditTimeout = 5 * time.Second

// Service runs rewrite requests end to end.
type Service struct {
	deps          Deps
	validate      *validator.Validate
	maxInputChars int
	now           func() time.Time
	newID         func() string

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// New creates a Service.
func New(d Deps, limits config.LimitsConfig, opts ...Option) *Service {
	if d.Masker == nil {
		d.Masker = pii.New()
	}
	s := &Service{
		deps:          d,
		validate:      newValidator(),
		maxInputChars: limits.MaxInputChars,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Authenticate resolves a bearer token to a caller.
func (s *Service) Authenticate(ctx context.Context, token string) (models.CallerIdentity, error) {
	if token == "" {
		return models.CallerIdentity{}, fmt.Errorf("%w: missing token", auth.ErrUnauthenticated)
	}
	return s.deps.Verifier.Resolve(ctx, token)
}

// Quota returns the caller's current quota position.
func (s *Service) Quota(ctx context.Context, id models.CallerIdentity) (models.QuotaSnapshot, error) {
	return s.deps.Quota.Snapshot(ctx, id)
}

// Rewrite validates req, enforces quota and returns the rewritten text
// with its word diff. Errors match ErrValidation, quota.ErrQuotaExceeded
// or gateway.ErrUpstreamUnavailable for caller-facing failures.
func (s *Service) Rewrite(ctx context.Context, id models.CallerIdentity, req models.RewriteRequest) (*models.RewriteResponse, error) {
	start := s.now()
	userHash, userPrefix := audit.HashUser(id.ID)
	entry := models.AuditEntry{
		RequestID:  s.newID(),
		UserHash:   userHash,
		UserPrefix: userPrefix,
		Mode:       req.Mode,
		InputChars: utf8.RuneCountInString(req.Text),
		CreatedAt:  start,
	}
	fail := func(status string, err error) (*models.RewriteResponse, error) {
		entry.Status = status
		entry.LatencyMs = s.now().Sub(start).Milliseconds()
		s.finish(ctx, entry)
		return nil, err
	}

	if err := s.Validate(req); err != nil {
		return fail(models.StatusInvalid, err)
	}

	if _, err := s.deps.Quota.Check(ctx, id); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return fail(models.StatusQuotaExceeded, err)
		}
		return fail(models.StatusError, fmt.Errorf("check quota: %w", err))
	}

	if s.deps.Cache != nil {
		if hit, ok := s.deps.Cache.Get(ctx, req.Text, req.Mode); ok {
			return s.serveCached(ctx, id, req, hit, entry, start), nil
		}
	}

	masked := s.deps.Masker.Mask(req.Text)
	concealed := masked.Concealed()
	for _, r := range concealed {
		metrics.PIIMasked.WithLabelValues(string(r.Category)).Inc()
	}
	entry.PIICategories = pii.Summary(concealed)

	res, err := s.deps.Generator.Generate(ctx, gateway.Request{
		Mode:   req.Mode,
		Prompt: BuildPrompt(req, masked.Text),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrUpstreamUnavailable) {
			return fail(models.StatusUpstreamUnavailable, err)
		}
		return fail(models.StatusError, fmt.Errorf("generate: %w", err))
	}

	output, missing := pii.UnmaskReport(res.Text, masked.Replacements)
	warnings := s.warnings(req, output)
	if len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d protected value(s) were dropped by the model and could not be restored", len(missing)))
	}
	segs := diff.Compute(req.Text, output)

	// Cached text is served to every caller, so inputs with personal data
	// never reach the cache.
	if s.deps.Cache != nil && len(concealed) == 0 {
		stored := res
		stored.Text = output
		s.deps.Cache.Put(ctx, req.Text, req.Mode, stored)
	}

	s.recordUsage(ctx, id, models.UsageRecord{
		Mode:             req.Mode,
		Model:            res.ModelUsed,
		RequestID:        entry.RequestID,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalTokens:      res.TotalTokens,
		LatencyMs:        res.LatencyMs,
	})

	elapsed := s.now().Sub(start).Milliseconds()
	entry.Status = models.StatusOK
	entry.Model = res.ModelUsed
	entry.OutputChars = utf8.RuneCountInString(output)
	entry.TotalTokens = res.TotalTokens
	entry.LatencyMs = elapsed
	s.finish(ctx, entry)

	return &models.RewriteResponse{
		RequestID:        entry.RequestID,
		InputText:        req.Text,
		OutputText:       output,
		Diff:             segs,
		ProcessingTimeMs: elapsed,
		TokensUsed:       res.TotalTokens,
		Cached:           false,
		Warnings:         warnings,
	}, nil
}

func (s *Service) serveCached(ctx context.Context, id models.CallerIdentity, req models.RewriteRequest, hit models.CachedResult, entry models.AuditEntry, start time.Time) *models.RewriteResponse {
	s.recordUsage(ctx, id, models.UsageRecord{
		Mode:      req.Mode,
		Model:     hit.ModelUsed,
		RequestID: entry.RequestID,
		Cached:    true,
	})

	elapsed := s.now().Sub(start).Milliseconds()
	entry.Status = models.StatusOK
	entry.Model = hit.ModelUsed
	entry.Cached = true
	entry.OutputChars = utf8.RuneCountInString(hit.OutputText)
	entry.LatencyMs = elapsed
	s.finish(ctx, entry)

	return &models.RewriteResponse{
		RequestID:        entry.RequestID,
		InputText:        req.Text,
		OutputText:       hit.OutputText,
		Diff:             diff.Compute(req.Text, hit.OutputText),
		ProcessingTimeMs: elapsed,
		TokensUsed:       0,
		Cached:           true,
		Warnings:         s.warnings(req, hit.OutputText),
	}
}

func (s *Service) warnings(req models.RewriteRequest, output string) []string {
	warnings := []string{}
	if req.MaxLength != nil {
		if n := utf8.RuneCountInString(output); n > *req.MaxLength {
			warnings = append(warnings, fmt.Sprintf("output is %d characters, longer than maxLength %d", n, *req.MaxLength))
		}
	}
	if strings.TrimSpace(output) == strings.TrimSpace(req.Text) {
		warnings = append(warnings, "output is identical to the input")
	}
	return warnings
}

// recordUsage runs after a billable result exists, so it outlives the
// caller's context and its failure does not fail the request.
func (s *Service) recordUsage(ctx context.Context, id models.CallerIdentity, rec models.UsageRecord) {
	if err := s.deps.Quota.RecordUsage(context.WithoutCancel(ctx), id, rec); err != nil {
		slog.Error("record usage failed", "request_id", rec.RequestID, "error", err)
	}
}

func (s *Service) finish(ctx context.Context, entry models.AuditEntry) {
	metrics.Requests.WithLabelValues(entry.Status).Inc()
	slog.Info("rewrite",
		"request_id", entry.RequestID,
		"mode", entry.Mode,
		"model", entry.Model,
		"status", entry.Status,
		"cached", entry.Cached,
		"latency_ms", entry.LatencyMs,
	)
	if s.deps.Audit == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
		if err := s.deps.Audit.Log(actx, entry); err != nil {
			slog.Warn("audit log failed", "request_id", entry.RequestID, "error", err)
		}
	}()
}

// Wait blocks until pending audit writes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}
