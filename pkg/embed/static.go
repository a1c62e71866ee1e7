package embed

import (
	"context"
	"sync"
)

// Static is an in-memory Provider for tests. It returns pre-registered
// vectors by exact text match and reports ErrUnavailable for unknown text
// when Strict, or when the whole provider is marked Down.
type Static struct {
	mu         sync.RWMutex
	vectors    map[string][]float32
	dimensions int
	down       bool
	strict     bool
}

// NewStatic creates a static provider with the given dimensionality.
func NewStatic(dimensions int) *Static {
	return &Static{
		vectors:    make(map[string][]float32),
		dimensions: dimensions,
	}
}

// Register maps text to a fixed vector.
func (s *Static) Register(text string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[text] = vec
}

// SetDown toggles whole-provider unavailability.
func (s *Static) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SetStrict makes unknown texts fail instead of returning a zero vector.
func (s *Static) SetStrict(strict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strict = strict
}

// Embed returns the registered vector for text, a zero vector for unknown
// text (unless strict), or ErrUnavailable when the provider is down.
func (s *Static) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.down {
		return nil, ErrUnavailable
	}
	if vec, ok := s.vectors[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	if s.strict {
		return nil, ErrUnavailable
	}
	return make([]float32, s.dimensions), nil
}

// Dimensions returns the provider's dimensionality.
func (s *Static) Dimensions() int { return s.dimensions }

// Model returns a fixed test model name.
func (s *Static) Model() string { return "static-test" }
