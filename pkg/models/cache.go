package models

import "time"

// CachedResult is a stored rewrite keyed by (InputHash, Mode).
type CachedResult struct {
	InputHash  string    `json:"input_hash"`
	Mode       Mode      `json:"mode"`
	OutputText string    `json:"output_text"`
	ModelUsed  string    `json:"model_used"`
	TokensUsed int       `json:"tokens_used"`
	HitCount   int64     `json:"hit_count"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
