// Package store is the durable key-value layer behind the experience
// state store. Values survive process restarts when backed by Postgres;
// the in-memory implementation covers tests and storage-less deployments.
package store

import (
	"context"
	"sync"
)

// Keys persisted across restarts. These are the only keys the gateway
// reads or writes.
const (
	KeyExperienceState = "experienceState"
	KeyLastThreadID    = "lastThreadId"
	KeySidebarOpen     = "isSidebarOpen"
	KeyInfoPanelOpen   = "isInfoPanelOpen"
	KeyActiveView      = "activeView"
)

// KV is a durable string key-value store. Get returns ok=false for keys
// never written or deleted.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close()
}

// Memory is a process-local KV. Zero value is not usable; call NewMemory.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Close() {}
