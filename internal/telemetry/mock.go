package telemetry

import (
	"context"
	"fmt"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests.
type MockPublisher struct {
	mu        sync.RWMutex
	connected bool
	runs      map[string][]StepRecord
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		runs: make(map[string][]StepRecord),
	}
}

func (m *MockPublisher) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockPublisher) Publish(ctx context.Context, run string, records []StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("telemetry: mock not connected")
	}
	m.runs[run] = append(m.runs[run], records...)
	return nil
}

// Records returns everything published under a run.
func (m *MockPublisher) Records(run string) []StepRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StepRecord, len(m.runs[run]))
	copy(out, m.runs[run])
	return out
}
