package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tier is a named capability/cost level for model invocation
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

var tierRank = map[Tier]int{
	TierLow:    0,
	TierMedium: 1,
	TierHigh:   2,
}

// Valid reports whether the tier is one of the known levels
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Below reports whether t is a lower capability level than other
func (t Tier) Below(other Tier) bool {
	return tierRank[t] < tierRank[other]
}

// HighestTier returns the maximum capability level
func HighestTier() Tier {
	return TierHigh
}

// Ref binds a tier to a concrete provider and model id
type Ref struct {
	Provider    Provider
	Tier        Tier
	ModelID     string
	Temperature float64
}

// Resolver maps capability tiers to providers. It is read-only after
// construction and safe to share across turns and workers.
type Resolver struct {
	refs map[Tier]Ref
}

// NewResolver creates a resolver from tier bindings. At least one tier
// must be bound; unbound tiers resolve to the nearest bound tier below,
// then above.
func NewResolver(refs map[Tier]Ref) (*Resolver, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("at least one tier binding is required")
	}
	for tier, ref := range refs {
		if !tier.Valid() {
			return nil, fmt.Errorf("invalid tier: %s", tier)
		}
		if ref.Provider == nil {
			return nil, fmt.Errorf("tier %s has no provider", tier)
		}
		if strings.TrimSpace(ref.ModelID) == "" {
			return nil, fmt.Errorf("tier %s has no model id", tier)
		}
	}
	return &Resolver{refs: refs}, nil
}

// Resolve returns the binding for a tier, falling back to the nearest
// bound tier when the exact one is absent.
func (r *Resolver) Resolve(tier Tier) (Ref, error) {
	if !tier.Valid() {
		return Ref{}, fmt.Errorf("invalid tier: %s", tier)
	}
	if ref, ok := r.refs[tier]; ok {
		return ref, nil
	}

	bound := make([]Tier, 0, len(r.refs))
	for t := range r.refs {
		bound = append(bound, t)
	}
	sort.Slice(bound, func(i, j int) bool { return tierRank[bound[i]] < tierRank[bound[j]] })

	// Nearest bound tier at or below, else the lowest bound tier above
	var pick Tier
	for _, t := range bound {
		if tierRank[t] <= tierRank[tier] {
			pick = t
		}
	}
	if pick == "" {
		pick = bound[0]
	}
	return r.refs[pick], nil
}

// Highest returns the highest bound tier
func (r *Resolver) Highest() Tier {
	best := TierLow
	for t := range r.refs {
		if best.Below(t) {
			best = t
		}
	}
	return best
}

// IsRetryableError checks if a provider error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") ||
		strings.Contains(errMsg, "connection reset") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}

// Backoff returns the retry delay for a zero-based attempt index
// (1s, 2s, 4s, ...)
func Backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}
