package models

import "time"

// Tier is a caller's subscription class.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Unlimited marks a daily limit (and the derived remaining count) without a ceiling.
const Unlimited = -1

// Profile holds the subscription facts the quota manager needs for a caller.
type Profile struct {
	UserID        string     `json:"user_id"`
	Email         string     `json:"email,omitempty"`
	Tier          Tier       `json:"tier"`
	TierExpiresAt *time.Time `json:"tier_expires_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EffectiveTier returns the tier in force at now. A paid tier past its
// expiry falls back to free.
func (p Profile) EffectiveTier(now time.Time) Tier {
	if p.Tier == "" {
		return TierFree
	}
	if p.Tier != TierFree && p.TierExpiresAt != nil && !now.Before(*p.TierExpiresAt) {
		return TierFree
	}
	return p.Tier
}

// QuotaSnapshot shows a caller's daily usage against the tier limit.
type QuotaSnapshot struct {
	Tier       Tier      `json:"tier"`
	DailyLimit int       `json:"daily_limit"`
	DailyUsed  int       `json:"daily_used"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
}

// QuotaInfo is the client-facing subset of a snapshot returned on quota exhaustion.
type QuotaInfo struct {
	Limit   int       `json:"limit"`
	Used    int       `json:"used"`
	ResetAt time.Time `json:"resetAt"`
}

// Info converts the snapshot into its client-facing form.
func (s QuotaSnapshot) Info() QuotaInfo {
	return QuotaInfo{Limit: s.DailyLimit, Used: s.DailyUsed, ResetAt: s.ResetAt}
}
