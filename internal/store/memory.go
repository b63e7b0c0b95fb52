package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is a map-backed Store for tests and local runs. The Fail* hooks let
// tests inject a failure into one half of a compound operation, e.g. the
// delete half of Move.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject

	FailPut    func(key string) error
	FailGet    func(key string) error
	FailCopy   func(key string) error
	FailDelete func(key string) error
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = memObject{data: cp, contentType: contentType}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if m.FailGet != nil {
		if err := m.FailGet(key); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNoObject
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k != prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) Move(ctx context.Context, baseName, fromFolder, toFolder string) error {
	oldKey := fromFolder + "/" + baseName
	newKey := toFolder + "/" + baseName

	if m.FailCopy != nil {
		if err := m.FailCopy(newKey); err != nil {
			return err
		}
	}
	m.mu.Lock()
	obj, ok := m.objects[oldKey]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("store: copy %s: %w", oldKey, ErrNoObject)
	}
	m.objects[newKey] = obj
	m.mu.Unlock()

	// Same shape as the S3 move: the source survives if the delete fails.
	if m.FailDelete != nil {
		if err := m.FailDelete(oldKey); err != nil {
			return err
		}
	}
	m.mu.Lock()
	delete(m.objects, oldKey)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SignedURL(key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", ErrNoObject
	}
	return fmt.Sprintf("memory://%s?ttl=%d", key, int(ttl.Seconds())), nil
}

var _ Store = (*Memory)(nil)
