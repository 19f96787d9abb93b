package run

import (
	"context"
	"sync"
)

// SourceOptions is the granularity requested from a location provider.
type SourceOptions struct {
	IntervalMs   int
	MinDistanceM float64
}

// Source delivers raw GPS fixes. Start returns an error only when the
// provider refuses access (permission denied); after a successful Start the
// source invokes fn for every fix until Stop or context cancellation.
type Source interface {
	Start(ctx context.Context, opts SourceOptions, fn func(LocationPoint)) error
	Stop()
}

// PushSource is a Source fed by the caller, used when fixes arrive over the
// network instead of from an on-device provider. Pushes while stopped are
// dropped.
type PushSource struct {
	mu sync.Mutex
	fn func(LocationPoint)
}

func (s *PushSource) Start(_ context.Context, _ SourceOptions, fn func(LocationPoint)) error {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	return nil
}

func (s *PushSource) Stop() {
	s.mu.Lock()
	s.fn = nil
	s.mu.Unlock()
}

// Push hands one fix to the subscriber registered by Start.
func (s *PushSource) Push(p LocationPoint) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}
