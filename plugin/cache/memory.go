package cache

import (
	"context"
	"sync"
)

// Memory is an in-process Cache.
type Memory struct {
	values sync.Map
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(_ context.Context, key string) (int, bool, error) {
	v, ok := m.values.Load(key)
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value int) error {
	m.values.Store(key, value)
	return nil
}
