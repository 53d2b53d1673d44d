package storage

import (
	"sync"

	"go.uber.org/zap"
)

// Opener returns the store for a deployment bucket.
type Opener func(bucket string) (ObjectStore, error)

// Buckets opens one MinioStore per bucket on a shared endpoint and
// reuses it across invocations.
type Buckets struct {
	cfg    Config
	log    *zap.Logger
	mu     sync.Mutex
	stores map[string]*MinioStore
}

func NewBuckets(cfg Config, log *zap.Logger) *Buckets {
	return &Buckets{cfg: cfg, log: log, stores: map[string]*MinioStore{}}
}

func (b *Buckets) Open(bucket string) (ObjectStore, error) {
	if bucket == "" {
		bucket = b.cfg.Bucket
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.stores[bucket]; ok {
		return s, nil
	}
	cfg := b.cfg
	cfg.Bucket = bucket
	s, err := NewMinioStore(cfg, b.log)
	if err != nil {
		return nil, err
	}
	b.stores[bucket] = s
	return s, nil
}

// Default is the store for the configured bucket.
func (b *Buckets) Default() (*MinioStore, error) {
	s, err := b.Open("")
	if err != nil {
		return nil, err
	}
	return s.(*MinioStore), nil
}
