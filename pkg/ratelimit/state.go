// Package ratelimit serializes outbound API requests so that at most one
// request is dispatched per minimum interval, and gates dispatch on the
// daily quota and backoff the API reports in its response envelopes.
package ratelimit

import (
	"time"
)

// Redis keys for shared quota state.
const (
	RedisKeyQuotaRemaining = "stackcache:quota:remaining"
	RedisKeyQuotaMax       = "stackcache:quota:max"
	RedisKeyResetTimestamp = "stackcache:quota:reset_timestamp"
	RedisKeyBackoffUntil   = "stackcache:quota:backoff_until"
	RedisKeyLastUpdate     = "stackcache:quota:last_update"
)

// Default thresholds for quota decisions.
const (
	// QuotaThresholdCritical blocks all requests when the remaining quota
	// falls below this value.
	QuotaThresholdCritical = 1

	// QuotaThresholdWarning logs and counts requests made once the remaining
	// quota falls below this value.
	QuotaThresholdWarning = 50

	// QuotaUnknown marks a quota the server has not reported yet.
	QuotaUnknown = -1
)

// Thresholds configures quota gating.
type Thresholds struct {
	Critical int
	Warning  int
}

// DefaultThresholds returns the package default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Critical: QuotaThresholdCritical, Warning: QuotaThresholdWarning}
}

// QuotaState is the last quota and backoff information seen from the API.
type QuotaState struct {
	// Remaining is quota_remaining from the most recent envelope, or QuotaUnknown.
	Remaining int `json:"remaining"`

	// Max is quota_max from the most recent envelope, or QuotaUnknown.
	Max int `json:"max"`

	// ResetAt is when the daily quota window rolls over (UTC midnight).
	ResetAt time.Time `json:"reset_at"`

	// BackoffUntil is the earliest time the next request may be sent.
	BackoffUntil time.Time `json:"backoff_until"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true while Remaining is unknown or at/above the warning threshold.
	IsHealthy bool `json:"is_healthy"`
}

// UnknownState returns the state used before any envelope was observed.
func UnknownState() *QuotaState {
	return &QuotaState{Remaining: QuotaUnknown, Max: QuotaUnknown, IsHealthy: true}
}

// IsStale returns true if the state data is older than the given duration.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be refused until the
// quota window resets.
func (s *QuotaState) NeedsCriticalBlock(th Thresholds) bool {
	if s.Remaining == QuotaUnknown {
		return false
	}
	if !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt) {
		// window rolled over since the last observation
		return false
	}
	return s.Remaining < th.Critical
}

// NeedsWarning returns true if the quota is low but not exhausted.
func (s *QuotaState) NeedsWarning(th Thresholds) bool {
	if s.Remaining == QuotaUnknown {
		return false
	}
	return s.Remaining < th.Warning && !s.NeedsCriticalBlock(th)
}

// TimeUntilReset returns the duration until the quota window resets.
// Returns 0 if the reset time has already passed.
func (s *QuotaState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// BackoffRemaining returns how long the server asked clients to wait.
func (s *QuotaState) BackoffRemaining() time.Duration {
	duration := time.Until(s.BackoffUntil)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *QuotaState) UpdateHealth(th Thresholds) {
	s.IsHealthy = s.Remaining == QuotaUnknown || s.Remaining >= th.Warning
}

// nextReset returns the next UTC midnight after t.
func nextReset(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
