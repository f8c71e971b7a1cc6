package ports_test

import (
	"context"
	"testing"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/ports"
)

// MockBackend is a minimal map-backed SessionBackend for exercising the contract itself.
type MockBackend struct {
	data map[string]map[string][]byte
}

func NewMockBackend() *MockBackend {
	return &MockBackend{data: make(map[string]map[string][]byte)}
}

func (m *MockBackend) Get(ctx context.Context, scope, key string) ([]byte, error) {
	v, ok := m.data[scope][key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return v, nil
}

func (m *MockBackend) Set(ctx context.Context, scope, key string, value []byte) error {
	if m.data[scope] == nil {
		m.data[scope] = make(map[string][]byte)
	}
	m.data[scope][key] = value
	return nil
}

func (m *MockBackend) Delete(ctx context.Context, scope string, keys ...string) error {
	for _, k := range keys {
		delete(m.data[scope], k)
	}
	return nil
}

func (m *MockBackend) Keys(ctx context.Context, scope string) ([]string, error) {
	keys := make([]string, 0, len(m.data[scope]))
	for k := range m.data[scope] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MockBackend) DeleteAll(ctx context.Context, scope string) error {
	delete(m.data, scope)
	return nil
}

func TestSessionBackendContract_Mock(t *testing.T) {
	ports.RunSessionBackendContract(t, NewMockBackend())
}
