package consul

import (
	"context"
	"testing"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skald/api/model"
)

type memKV map[string][]byte

func (m memKV) Get(key string, _ *consulapi.QueryOptions) (*consulapi.KVPair, *consulapi.QueryMeta, error) {
	v, ok := m[key]
	if !ok {
		return nil, &consulapi.QueryMeta{}, nil
	}
	return &consulapi.KVPair{Key: key, Value: v}, &consulapi.QueryMeta{}, nil
}

func (m memKV) Put(p *consulapi.KVPair, _ *consulapi.WriteOptions) (*consulapi.WriteMeta, error) {
	m[p.Key] = p.Value
	return &consulapi.WriteMeta{}, nil
}

func TestReleaseRoundTrip(t *testing.T) {
	kv := memKV{}
	c := NewWithKV(kv)
	target := model.Target{Service: "svc", Stage: "dev", Region: "us-east-1"}
	ctx := context.Background()

	r, err := c.Current(ctx, target)
	require.NoError(t, err)
	assert.Nil(t, r)

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetCurrent(ctx, target, Release{Timestamp: "1714521600000", Kind: "rollback", UpdatedAt: now}))

	assert.Contains(t, kv, "skald/releases/svc/dev/us-east-1")
	r, err = c.Current(ctx, target)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "1714521600000", r.Timestamp)
	assert.Equal(t, "rollback", r.Kind)
	assert.True(t, now.Equal(r.UpdatedAt))
}

func TestCurrentRejectsGarbage(t *testing.T) {
	kv := memKV{"skald/releases/svc/dev/eu-west-1": []byte("not json")}
	_, err := NewWithKV(kv).Current(context.Background(), model.Target{Service: "svc", Stage: "dev", Region: "eu-west-1"})
	assert.Error(t, err)
}
