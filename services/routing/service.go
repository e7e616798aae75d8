package routing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownTier is returned when a tier name cannot be parsed
	ErrUnknownTier = errors.New("unknown tier")
)

// BackendID names one invocable model endpoint
type BackendID string

// Well-known backend identifiers
const (
	BackendPrimaryDeep           BackendID = "primary-deep"
	BackendPrimaryFast           BackendID = "primary-fast"
	BackendSecondarySameProvider BackendID = "secondary-same-provider"
)

// Tier is the quality/cost class requested by a caller.
// Lower values are more capable and more expensive.
type Tier int

const (
	TierDeep Tier = iota
	TierFast
	TierLite
	TierMinimal
)

// AllTiers lists every tier in documented order
var AllTiers = []Tier{TierDeep, TierFast, TierLite, TierMinimal}

// String returns the lowercase tier name
func (t Tier) String() string {
	switch t {
	case TierDeep:
		return "deep"
	case TierFast:
		return "fast"
	case TierLite:
		return "lite"
	case TierMinimal:
		return "minimal"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier parses a tier name (case-insensitive)
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deep":
		return TierDeep, nil
	case "fast":
		return TierFast, nil
	case "lite":
		return TierLite, nil
	case "minimal":
		return TierMinimal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FallbackChain is the ordered list of backends to attempt for a tier
type FallbackChain []BackendID

// Head returns the first backend of the chain, or "" when the chain is empty
func (c FallbackChain) Head() BackendID {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Strings returns the chain as plain strings
func (c FallbackChain) Strings() []string {
	out := make([]string, len(c))
	for i, id := range c {
		out[i] = string(id)
	}
	return out
}

// ChainConfig names the backends used to build the default chains
type ChainConfig struct {
	Deep      BackendID
	Fast      BackendID
	Secondary BackendID
}

// DefaultChainConfig returns the standard backend identifiers
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		Deep:      BackendPrimaryDeep,
		Fast:      BackendPrimaryFast,
		Secondary: BackendSecondarySameProvider,
	}
}

// Chains maps every tier to its chain
func (c ChainConfig) Chains() map[Tier]FallbackChain {
	return map[Tier]FallbackChain{
		TierDeep:    {c.Deep, c.Fast, c.Secondary},
		TierFast:    {c.Fast, c.Secondary},
		TierLite:    {c.Secondary},
		TierMinimal: {c.Secondary},
	}
}

// Resolver maps tiers to fallback chains. It is built once and is read-only
// afterwards, so it is safe for concurrent use without locking.
type Resolver struct {
	chains map[Tier]FallbackChain
}

// NewResolver creates a resolver from explicit per-tier chains.
// Tiers missing from chains resolve to an empty chain. Empty identifiers are
// dropped and adjacent duplicates collapsed.
func NewResolver(chains map[Tier]FallbackChain) *Resolver {
	r := &Resolver{chains: make(map[Tier]FallbackChain, len(AllTiers))}
	for _, tier := range AllTiers {
		r.chains[tier] = collapse(chains[tier])
	}
	return r
}

// NewDefaultResolver creates a resolver using the standard chain layout
func NewDefaultResolver(cfg ChainConfig) *Resolver {
	return NewResolver(cfg.Chains())
}

// Resolve returns the chain for a tier. The returned slice is a copy.
func (r *Resolver) Resolve(tier Tier) FallbackChain {
	chain := r.chains[tier]
	out := make(FallbackChain, len(chain))
	copy(out, chain)
	return out
}

// Head returns the most capable backend for a tier
func (r *Resolver) Head(tier Tier) BackendID {
	return r.chains[tier].Head()
}

// Backends returns every distinct backend named by any tier, sorted
func (r *Resolver) Backends() []BackendID {
	seen := make(map[BackendID]struct{})
	for _, chain := range r.chains {
		for _, id := range chain {
			seen[id] = struct{}{}
		}
	}

	ids := make([]BackendID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// collapse removes empty identifiers and adjacent duplicates
func collapse(chain FallbackChain) FallbackChain {
	out := make(FallbackChain, 0, len(chain))
	for _, id := range chain {
		if id == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}
