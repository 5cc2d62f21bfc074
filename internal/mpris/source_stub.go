//go:build !linux

package mpris

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Source stub for platforms without a session bus
type Source struct {
	logger *zap.Logger
	events chan Session
}

// NewSource creates a source whose Start always fails
func NewSource(logger *zap.Logger, opts ...Option) *Source {
	events := make(chan Session)
	close(events)
	return &Source{logger: logger, events: events}
}

// Start returns an error, MPRIS is only available on Linux
func (s *Source) Start(ctx context.Context) error {
	return errors.New("MPRIS players are only supported on Linux")
}

// Stop is a no-op
func (s *Source) Stop(ctx context.Context) error {
	return nil
}

// Events returns a closed channel
func (s *Source) Events() <-chan Session {
	return s.events
}
