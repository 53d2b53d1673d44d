package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"skald/api/model"
)

// Memory is an in-process ObjectStore. It counts calls per operation so
// tests can assert on remote traffic.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
	calls   map[string]int

	// Fail, when set, is consulted before every call; a non-nil return is
	// returned from the call instead of performing it.
	Fail func(op, key string) error
}

type memObject struct {
	data []byte
	info ObjectInfo
	opts PutOptions
}

func NewMemory() *Memory {
	return &Memory{objects: map[string]memObject{}, calls: map[string]int{}}
}

// Calls returns how many times op ("head", "put", "get", "list", "delete") ran.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Seed stores an object directly, bypassing call accounting.
func (m *Memory) Seed(key string, data []byte, meta map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{
		data: data,
		info: ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now(), Metadata: meta},
	}
}

// Keys returns every stored key in lexical order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutOptionsFor returns the options the last Put of key used.
func (m *Memory) PutOptionsFor(key string) (PutOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj.opts, ok
}

func (m *Memory) enter(op, key string) error {
	m.mu.Lock()
	m.calls[op]++
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		return fail(op, key)
	}
	return nil
}

func (m *Memory) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := m.enter("head", key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("head %s: %w", key, model.ErrNotFound)
	}
	info := obj.info
	return &info, nil
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	if err := m.enter("put", key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s: read %d bytes, want %d", key, len(data), size)
	}
	meta := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{
		data: data,
		info: ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now(), Metadata: meta},
		opts: opts,
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, *ObjectInfo, error) {
	if err := m.enter("get", key); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, fmt.Errorf("get %s: %w", key, model.ErrNotFound)
	}
	info := obj.info
	return bytes.Clone(obj.data), &info, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := m.enter("list", prefix); err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, keys []string) ([]DeleteFailure, error) {
	if err := m.enter("delete", strings.Join(keys, ",")); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil, nil
}

func (m *Memory) URL(key string) string {
	return "memory:///" + key
}
