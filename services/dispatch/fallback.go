package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/upb/tiered-gateway/services/providers"
	"go.uber.org/zap"
)

// SecondaryFactory builds the secondary provider client
type SecondaryFactory func() (providers.SecondaryProvider, error)

// SecondaryFallback is the last-resort provider invoked after the primary
// chain. Its client is built on first use and shared for the gateway's
// lifetime; a failed build is never retried.
type SecondaryFallback struct {
	factory SecondaryFactory
	logger  *zap.Logger

	once    sync.Once
	client  providers.SecondaryProvider
	initErr error
}

// NewSecondaryFallback creates a fallback around factory. A nil factory
// yields a fallback that is always unavailable.
func NewSecondaryFallback(factory SecondaryFactory, logger *zap.Logger) *SecondaryFallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecondaryFallback{
		factory: factory,
		logger:  logger,
	}
}

// getClient builds the client at most once
func (s *SecondaryFallback) getClient() (providers.SecondaryProvider, error) {
	s.once.Do(func() {
		if s.factory == nil {
			s.initErr = errors.New("secondary provider not configured")
			return
		}

		client, err := s.build()
		if err != nil {
			s.initErr = err
			s.logger.Warn("secondary provider client construction failed", zap.Error(err))
			return
		}
		s.client = client
		s.logger.Info("secondary provider client initialized", zap.String("provider", client.Name()))
	})
	return s.client, s.initErr
}

func (s *SecondaryFallback) build() (client providers.SecondaryProvider, err error) {
	defer func() {
		if r := recover(); r != nil {
			client = nil
			err = fmt.Errorf("secondary provider construction panic: %v", r)
		}
	}()
	client, err = s.factory()
	if err == nil && client == nil {
		err = errors.New("secondary provider factory returned nil")
	}
	return client, err
}

var errCompletePanicked = errors.New("secondary provider call panicked")

// safeComplete converts a panic in the client into errCompletePanicked
func safeComplete(ctx context.Context, client providers.SecondaryProvider, messages []providers.Message) (completion *providers.Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			completion = nil
			err = fmt.Errorf("%w: %v", errCompletePanicked, r)
		}
	}()
	return client.Complete(ctx, messages)
}

// BuildMessages prepends a system entry when systemPrompt is non-empty
func BuildMessages(turns []providers.Message, systemPrompt string) []providers.Message {
	out := make([]providers.Message, 0, len(turns)+1)
	if systemPrompt != "" {
		out = append(out, providers.Message{Role: providers.RoleSystem, Content: systemPrompt})
	}
	return append(out, turns...)
}

// Invoke sends messages to the secondary provider. Every failure, whether in
// construction or in the call, is a *SecondaryProviderUnavailableError.
func (s *SecondaryFallback) Invoke(ctx context.Context, messages []providers.Message, systemPrompt string) (*providers.Completion, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, &SecondaryProviderUnavailableError{Reason: "client unavailable", Cause: err}
	}

	completion, err := safeComplete(ctx, client, BuildMessages(messages, systemPrompt))
	if errors.Is(err, errCompletePanicked) {
		s.logger.Error("secondary provider call panicked", zap.Error(err))
		return nil, &SecondaryProviderUnavailableError{Reason: "call panicked", Cause: err}
	}
	if err != nil {
		return nil, &SecondaryProviderUnavailableError{
			Reason: "call failed",
			Cause:  providers.Classify(client.Name(), err),
		}
	}
	if completion == nil {
		return nil, &SecondaryProviderUnavailableError{Reason: "empty completion"}
	}
	return completion, nil
}
