package store

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Backend holding lists and plain string values.
// It is used by tests and fixtures.
type Memory struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	strings map[string][]byte
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		lists:   make(map[string][][]byte),
		strings: make(map[string][]byte),
	}
}

// Set stores a non-list value under key.
func (m *Memory) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, key)
	m.strings[key] = bytes.Clone(value)
}

// Push appends values to the list at key.
func (m *Memory) Push(key string, values ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		m.lists[key] = append(m.lists[key], bytes.Clone(v))
	}
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, isList := m.lists[key]
	_, isString := m.strings[key]
	return isList || isString, nil
}

func (m *Memory) Type(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[key]; ok {
		return ListType, nil
	}
	if _, ok := m.strings[key]; ok {
		return "string", nil
	}
	return "none", nil
}

func (m *Memory) Len(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) Index(_ context.Context, key string, i int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if i < 0 || i >= int64(len(l)) {
		return nil, ErrIndexOutOfRange
	}
	return bytes.Clone(l[i]), nil
}

func (m *Memory) Append(_ context.Context, key string, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strings, key)
	m.lists[key] = append(m.lists[key], bytes.Clone(value))
	return int64(len(m.lists[key])), nil
}

func (m *Memory) Close() error { return nil }
