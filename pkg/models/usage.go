package models

import "time"

// ActionParaphrase is the usage-log action recorded for every rewrite request.
const ActionParaphrase = "paraphrase"

// Usage represents token usage reported by a generation provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord is one row of the append-only usage log.
type UsageRecord struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	Action           string    `json:"action"`
	Mode             Mode      `json:"mode"`
	Model            string    `json:"model"`
	RequestID        string    `json:"request_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cached           bool      `json:"cached"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates usage across requests.
type UsageSummary struct {
	UserID          string `json:"user_id"`
	Model           string `json:"model"`
	RequestCount    int    `json:"request_count"`
	CachedCount     int    `json:"cached_count"`
	TotalPrompt     int    `json:"total_prompt"`
	TotalCompletion int    `json:"total_completion"`
	TotalTokens     int    `json:"total_tokens"`
}

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k"`
}

// CostReport is an aggregated cost row grouped by model.
type CostReport struct {
	Model            string  `json:"model"`
	RequestCount     int     `json:"request_count"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`
}
