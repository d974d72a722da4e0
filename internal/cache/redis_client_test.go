package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopClientAlwaysMisses(t *testing.T) {
	var c Client = NoopClient{}

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))

	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, c.Delete(context.Background(), "k"))
	assert.NoError(t, c.DeleteByPrefix(context.Background(), "k"))
	assert.NoError(t, c.Close())
}

func TestNewRedisClientFailsFastWhenUnreachable(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
