package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/upb/tiered-gateway/services/routing"
	"go.uber.org/zap"
)

// Config holds breaker thresholds shared by every backend
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes that closes it again
	SuccessThreshold int

	// Cooldown is how long an open breaker rejects calls
	Cooldown time.Duration
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// State is a point-in-time copy of one backend's breaker
type State struct {
	Backend              routing.BackendID `json:"backend"`
	ConsecutiveFailures  int               `json:"consecutive_failures"`
	ConsecutiveSuccesses int               `json:"consecutive_successes"`
	FailureThreshold     int               `json:"failure_threshold"`
	SuccessThreshold     int               `json:"success_threshold"`
	Cooldown             time.Duration     `json:"cooldown"`
	OpenedAt             *time.Time        `json:"opened_at,omitempty"`
	Status               string            `json:"status"`
}

type state struct {
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
}

// Registry owns one breaker per backend. State is created lazily and never
// evicted; the backend set is small and fixed by configuration.
type Registry struct {
	mu     sync.Mutex
	config Config
	states map[routing.BackendID]*state
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a breaker registry
func NewRegistry(config Config, logger *zap.Logger, opts ...Option) *Registry {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		config: config,
		states: make(map[routing.BackendID]*state),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// getOrCreate returns the live state for id. Caller must hold r.mu.
func (r *Registry) getOrCreate(id routing.BackendID) *state {
	s, ok := r.states[id]
	if !ok {
		s = &state{}
		r.states[id] = s
	}
	return s
}

// GetOrCreate returns a snapshot of the breaker for id, creating it if needed
func (r *Registry) GetOrCreate(id routing.BackendID) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot(id, r.getOrCreate(id))
}

// RecordFailure records a failed attempt against id
func (r *Registry) RecordFailure(id routing.BackendID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.getOrCreate(id)
	s.consecutiveFailures++
	s.consecutiveSuccesses = 0

	if s.consecutiveFailures < r.config.FailureThreshold {
		return
	}

	now := r.now()
	switch {
	case s.openedAt.IsZero():
		s.openedAt = now
		r.logger.Warn("circuit breaker opened",
			zap.String("backend", string(id)),
			zap.Int("consecutive_failures", s.consecutiveFailures),
			zap.Duration("cooldown", r.config.Cooldown))
	case now.Sub(s.openedAt) >= r.config.Cooldown:
		// failed half-open probe
		s.openedAt = now
		r.logger.Warn("circuit breaker re-opened after half-open failure",
			zap.String("backend", string(id)),
			zap.Int("consecutive_failures", s.consecutiveFailures))
	}
}

// RecordSuccess records a successful attempt against id. The breaker closes
// only once SuccessThreshold consecutive successes have been seen.
func (r *Registry) RecordSuccess(id routing.BackendID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.getOrCreate(id)
	s.consecutiveSuccesses++

	if s.consecutiveSuccesses < r.config.SuccessThreshold {
		return
	}

	if !s.openedAt.IsZero() {
		r.logger.Info("circuit breaker closed",
			zap.String("backend", string(id)),
			zap.Int("consecutive_successes", s.consecutiveSuccesses))
	}
	s.consecutiveFailures = 0
	s.openedAt = time.Time{}
}

// IsOpen reports whether calls to id should be suppressed. Once the cooldown
// has elapsed it returns false so a probing attempt can go through, even
// though the counters are only reset by recorded successes.
func (r *Registry) IsOpen(id routing.BackendID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.isOpen(r.getOrCreate(id))
}

func (r *Registry) isOpen(s *state) bool {
	if s.consecutiveFailures < r.config.FailureThreshold || s.openedAt.IsZero() {
		return false
	}
	return r.now().Sub(s.openedAt) < r.config.Cooldown
}

// Reset clears the breaker for id. This is an administrative action.
func (r *Registry) Reset(id routing.BackendID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[id] = &state{}
	r.logger.Info("circuit breaker reset", zap.String("backend", string(id)))
}

// Snapshot returns the state of every known breaker, sorted by backend
func (r *Registry) Snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]State, 0, len(r.states))
	for id, s := range r.states {
		out = append(out, r.snapshot(id, s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// snapshot copies s. Caller must hold r.mu.
func (r *Registry) snapshot(id routing.BackendID, s *state) State {
	st := State{
		Backend:              id,
		ConsecutiveFailures:  s.consecutiveFailures,
		ConsecutiveSuccesses: s.consecutiveSuccesses,
		FailureThreshold:     r.config.FailureThreshold,
		SuccessThreshold:     r.config.SuccessThreshold,
		Cooldown:             r.config.Cooldown,
		Status:               "closed",
	}
	if !s.openedAt.IsZero() {
		opened := s.openedAt
		st.OpenedAt = &opened
		if r.isOpen(s) {
			st.Status = "open"
		} else {
			st.Status = "half_open"
		}
	}
	return st
}
