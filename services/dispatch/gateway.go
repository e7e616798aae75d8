// Package dispatch routes generation requests across tiered backends with
// circuit breaking, per-request budgets and a last-resort secondary provider.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/tiered-gateway/models"
	"github.com/upb/tiered-gateway/services/breaker"
	"github.com/upb/tiered-gateway/services/budget"
	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
	"go.uber.org/zap"
)

// FallbackBackendID names the secondary provider in results and probe maps
const FallbackBackendID routing.BackendID = "secondary-provider"

// Recorder receives one record per finished dispatch
type Recorder interface {
	Record(record *models.DispatchRecord)
}

type nopRecorder struct{}

func (nopRecorder) Record(*models.DispatchRecord) {}

// Options configures a Gateway
type Options struct {
	Resolver  *routing.Resolver
	Breakers  *breaker.Registry
	Backends  *providers.Registry
	Secondary *SecondaryFallback
	Limits    budget.Limits

	// BackendTimeout bounds each backend invocation
	BackendTimeout time.Duration

	Recorder Recorder
	Logger   *zap.Logger
}

// Gateway is the tiered dispatch entry point. One instance owns its breaker
// registry and tool declarations; budgets are per call.
type Gateway struct {
	resolver       *routing.Resolver
	breakers       *breaker.Registry
	backends       *providers.Registry
	secondary      *SecondaryFallback
	limits         budget.Limits
	backendTimeout time.Duration
	recorder       Recorder
	logger         *zap.Logger

	// available is fixed at construction: true when at least one primary
	// backend has a constructed client
	available bool

	toolsMu sync.RWMutex
	tools   []providers.ToolDeclaration
}

// NewGateway creates a gateway. Missing collaborators get inert defaults.
func NewGateway(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Resolver == nil {
		opts.Resolver = routing.NewDefaultResolver(routing.DefaultChainConfig())
	}
	if opts.Breakers == nil {
		opts.Breakers = breaker.NewRegistry(breaker.DefaultConfig(), opts.Logger)
	}
	if opts.Backends == nil {
		opts.Backends = providers.NewRegistry()
	}
	if opts.Secondary == nil {
		opts.Secondary = NewSecondaryFallback(nil, opts.Logger)
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = 60 * time.Second
	}

	return &Gateway{
		resolver:       opts.Resolver,
		breakers:       opts.Breakers,
		backends:       opts.Backends,
		secondary:      opts.Secondary,
		limits:         opts.Limits,
		backendTimeout: opts.BackendTimeout,
		recorder:       opts.Recorder,
		logger:         opts.Logger,
		available:      opts.Backends.Len() > 0,
	}
}

// Available reports whether any primary backend is configured
func (g *Gateway) Available() bool {
	return g.available
}

// Resolver returns the tier resolver
func (g *Gateway) Resolver() *routing.Resolver {
	return g.resolver
}

// Breakers returns the breaker registry
func (g *Gateway) Breakers() *breaker.Registry {
	return g.breakers
}

// Limits returns the configured per-request budget limits
func (g *Gateway) Limits() budget.Limits {
	return g.limits
}

// SetToolDeclarations replaces the active tool set for all subsequent calls.
// A nil or empty slice clears it.
func (g *Gateway) SetToolDeclarations(decls []providers.ToolDeclaration) {
	var next []providers.ToolDeclaration
	if len(decls) > 0 {
		next = make([]providers.ToolDeclaration, len(decls))
		copy(next, decls)
	}

	g.toolsMu.Lock()
	g.tools = next
	g.toolsMu.Unlock()

	g.logger.Info("tool declarations replaced", zap.Int("count", len(next)))
}

// ToolDeclarations returns a copy of the active tool set
func (g *Gateway) ToolDeclarations() []providers.ToolDeclaration {
	g.toolsMu.RLock()
	defer g.toolsMu.RUnlock()

	out := make([]providers.ToolDeclaration, len(g.tools))
	copy(out, g.tools)
	return out
}

// invokeBackend runs one call against a registered backend. The call is
// detached from caller cancellation and bounded by the backend timeout.
func (g *Gateway) invokeBackend(ctx context.Context, id routing.BackendID, req *providers.GenerateRequest) (*providers.GenerateResponse, string, error) {
	backend, err := g.backends.Get(id)
	if err != nil {
		return nil, "", providers.NewProviderError(string(id), providers.KindUnknown, "backend not configured", 0, err)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.backendTimeout)
	defer cancel()

	call := *req
	call.Model = backend.Model

	resp, err := g.safeGenerate(callCtx, backend.Provider, &call)
	if err != nil {
		return nil, backend.Model, providers.Classify(backend.Provider.Name(), err)
	}
	return resp, backend.Model, nil
}

// safeGenerate converts provider panics into errors
func (g *Gateway) safeGenerate(ctx context.Context, p providers.Provider, req *providers.GenerateRequest) (resp *providers.GenerateResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	resp, err = p.GenerateContent(ctx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("provider %s returned no response", p.Name())
	}
	return resp, err
}
