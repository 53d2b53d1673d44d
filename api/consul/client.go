// Package consul records which deployment each target currently runs.
package consul

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"skald/api/model"
)

// KV is the subset of the Consul KV API used here.
type KV interface {
	Get(key string, q *consulapi.QueryOptions) (*consulapi.KVPair, *consulapi.QueryMeta, error)
	Put(p *consulapi.KVPair, q *consulapi.WriteOptions) (*consulapi.WriteMeta, error)
}

type Client struct {
	api  *consulapi.Client
	kv   KV
	root string
}

const DefaultKeyRoot = "skald/releases"

func NewClient(addr string) (*Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Client{api: client, kv: client.KV(), root: DefaultKeyRoot}, nil
}

// NewWithKV builds a client over an existing KV implementation.
func NewWithKV(kv KV) *Client {
	return &Client{kv: kv, root: DefaultKeyRoot}
}

// Healthy checks connectivity to Consul.
func (c *Client) Healthy() error {
	if c.api == nil {
		return nil
	}
	_, err := c.api.Status().Leader()
	return err
}

// Release is the deployment a target was last moved to.
type Release struct {
	Timestamp string    `json:"timestamp"`
	Prefix    string    `json:"prefix"`
	Kind      string    `json:"kind"`
	SagaID    string    `json:"sagaId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Client) key(t model.Target) string {
	return path.Join(c.root, t.Service, t.Stage, t.Region)
}

// SetCurrent stores r as the current release of t.
func (c *Client) SetCurrent(ctx context.Context, t model.Target, r Release) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = c.kv.Put(&consulapi.KVPair{Key: c.key(t), Value: data}, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("put release: %w", err)
	}
	return nil
}

// Current returns the current release of t, or nil when none is recorded.
func (c *Client) Current(ctx context.Context, t model.Target) (*Release, error) {
	pair, _, err := c.kv.Get(c.key(t), (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	if pair == nil {
		return nil, nil
	}
	var r Release
	if err := json.Unmarshal(pair.Value, &r); err != nil {
		return nil, fmt.Errorf("decode release %s: %w", pair.Key, err)
	}
	return &r, nil
}
