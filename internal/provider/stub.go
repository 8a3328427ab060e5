package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// Stub is a deterministic in-process Provider for tests and offline runs.
// Embeddings are derived from a content hash, so the same text always
// maps to the same vector and similar texts do NOT map to similar
// vectors; tests that need controlled similarity should use SetVector.
type Stub struct {
	mu sync.Mutex

	// Dim is the embedding dimensionality (default 8)
	Dim int

	// fixed holds caller-pinned vectors keyed by exact text
	fixed map[string][]float64

	// CompleteFunc overrides Complete when set
	CompleteFunc func(prompt string) (string, error)

	// EmbedErr, when set, is returned by every Embed call
	EmbedErr error

	embedCalls    int
	completeCalls int
}

// NewStub creates a deterministic stub provider
func NewStub() *Stub {
	return &Stub{Dim: 8, fixed: make(map[string][]float64)}
}

// SetVector pins the embedding for an exact text
func (s *Stub) SetVector(text string, vec []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixed[text] = vec
}

// EmbedCalls returns how many Embed calls were made
func (s *Stub) EmbedCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embedCalls
}

// CompleteCalls returns how many Complete calls were made
func (s *Stub) CompleteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeCalls
}

// Embed returns one deterministic unit vector per input
func (s *Stub) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedCalls++

	if s.EmbedErr != nil {
		return nil, s.EmbedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float64, 0, len(texts))
	for _, text := range texts {
		if vec, ok := s.fixed[text]; ok {
			vectors = append(vectors, vec)
			continue
		}
		vectors = append(vectors, hashVector(text, s.Dim))
	}
	return vectors, nil
}

// Complete returns a canned draft unless CompleteFunc is set
func (s *Stub) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	fn := s.CompleteFunc
	s.completeCalls++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(prompt)
	}
	return fmt.Sprintf("stub completion (%d prompt bytes)", len(prompt)), nil
}

// hashVector maps text to a unit vector through repeated hashing
func hashVector(text string, dim int) []float64 {
	vec := make([]float64, dim)
	sum := sha256.Sum256([]byte(text))
	var norm float64
	for i := 0; i < dim; i++ {
		// Four hash bytes per component, wrapping the digest as needed
		off := (i * 4) % (len(sum) - 4)
		bits := binary.BigEndian.Uint32(sum[off : off+4])
		vec[i] = float64(bits)/float64(math.MaxUint32)*2 - 1
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
