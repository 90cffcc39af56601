package collector

import (
	"context"
	"math/rand"
	"sync"
)

type NodeLoad struct {
	CPU float64
	RAM float64
}

// MockSource serves utilization from a base load plus uniform jitter, with
// optional per-node overrides.
type MockSource struct {
	mu           sync.RWMutex
	baseCPU      float64
	baseRAM      float64
	jitter       float64
	overrides    map[string]NodeLoad
	shouldFail   bool
	failureError error
	calls        int
}

type MockSourceConfig struct {
	BaseCPU float64
	BaseRAM float64
	Jitter  float64
}

func NewMockSource(cfg MockSourceConfig) *MockSource {
	return &MockSource{
		baseCPU:   cfg.BaseCPU,
		baseRAM:   cfg.BaseRAM,
		jitter:    cfg.Jitter,
		overrides: make(map[string]NodeLoad),
	}
}

func (s *MockSource) SetBase(cpu, ram float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCPU = cpu
	s.baseRAM = ram
}

func (s *MockSource) SetNodeLoad(resourceID string, load NodeLoad) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[resourceID] = load
}

func (s *MockSource) SetShouldFail(shouldFail bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldFail = shouldFail
	s.failureError = err
}

func (s *MockSource) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *MockSource) MeanUtilization(ctx context.Context, q Query) (float64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.shouldFail {
		if s.failureError != nil {
			return 0, s.failureError
		}
		return 0, ErrCollectionFailed
	}

	base := s.baseCPU
	if q.Metric == MetricMemory {
		base = s.baseRAM
	}
	if load, ok := s.overrides[q.ResourceID]; ok {
		if q.Metric == MetricMemory {
			return load.RAM, nil
		}
		return load.CPU, nil
	}

	return s.randomValue(base), nil
}

func (s *MockSource) randomValue(base float64) float64 {
	value := base + (rand.Float64()*2-1)*s.jitter
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	return value
}
