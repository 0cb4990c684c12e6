package models

import "time"

// Request outcomes recorded in the audit log.
const (
	StatusOK                  = "ok"
	StatusQuotaExceeded       = "quota_exceeded"
	StatusUpstreamUnavailable = "upstream_unavailable"
	StatusInvalid             = "invalid"
	StatusError               = "error"
)

// AuditEntry is one request record. It never carries input or output text.
type AuditEntry struct {
	RequestID     string    `json:"request_id"`
	UserHash      string    `json:"user_hash"`
	UserPrefix    string    `json:"user_prefix"`
	Mode          Mode      `json:"mode"`
	Model         string    `json:"model"`
	Cached        bool      `json:"cached"`
	Status        string    `json:"status"`
	PIICategories string    `json:"pii_categories,omitempty"`
	InputChars    int       `json:"input_chars"`
	OutputChars   int       `json:"output_chars"`
	TotalTokens   int       `json:"total_tokens"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Mode       Mode
	Model      string
	Status     string
	Since      time.Time
	UserPrefix string
	RequestID  string
	Limit      int
}

// AuditStat holds aggregate audit counts for a model/day combination.
type AuditStat struct {
	Model string
	Day   string
	Count int
}
