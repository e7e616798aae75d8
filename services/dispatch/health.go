package dispatch

import (
	"context"
	"sync"

	"github.com/upb/tiered-gateway/services/providers"
	"github.com/upb/tiered-gateway/services/routing"
	"go.uber.org/zap"
)

const probeMessage = "ping"

// Probe checks every distinct backend in any tier's chain plus the
// secondary provider. It never fails; a backend whose probe errors or panics
// reports false. Breaker state is not touched.
func (g *Gateway) Probe(ctx context.Context) map[string]bool {
	ids := g.resolver.Backends()
	results := make(map[string]bool, len(ids)+1)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	set := func(name string, ok bool) {
		mu.Lock()
		results[name] = ok
		mu.Unlock()
	}

	for _, id := range ids {
		if !g.available {
			results[string(id)] = false
			continue
		}

		wg.Add(1)
		go func(id routing.BackendID) {
			defer wg.Done()
			set(string(id), g.probeBackend(ctx, id))
		}(id)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		set(string(FallbackBackendID), g.probeSecondary(ctx))
	}()

	wg.Wait()
	return results
}

func (g *Gateway) probeBackend(ctx context.Context, id routing.BackendID) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("backend probe panicked", zap.String("backend", string(id)), zap.Any("panic", r))
			ok = false
		}
	}()

	_, _, err := g.invokeBackend(ctx, id, &providers.GenerateRequest{
		Messages:        []providers.Message{{Role: providers.RoleUser, Content: probeMessage}},
		MaxOutputTokens: 8,
	})
	if err != nil {
		g.logger.Warn("backend probe failed", zap.String("backend", string(id)), zap.Error(err))
		return false
	}
	return true
}

func (g *Gateway) probeSecondary(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("secondary probe panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	_, err := g.secondary.Invoke(ctx, []providers.Message{{Role: providers.RoleUser, Content: probeMessage}}, "")
	if err != nil {
		g.logger.Warn("secondary probe failed", zap.Error(err))
		return false
	}
	return true
}
