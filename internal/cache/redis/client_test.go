package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a disposable redis: TCV_TEST_REDIS_ADDR=localhost:6379. DB 15 is
// flushed before each test.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TCV_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TCV_TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, rdb.FlushDB(context.Background()).Err())

	c := NewFromClient(rdb)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetEmbedding(ctx, "mini:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetEmbedding(ctx, "mini:abc", []float32{0.25, -1, 0}, time.Minute))

	vec, ok, err := c.GetEmbedding(ctx, "mini:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.25, -1, 0}, vec)
}

func TestInvalidateEmbeddingsByModel(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetEmbedding(ctx, "mini:a", []float32{1}, time.Minute))
	require.NoError(t, c.SetEmbedding(ctx, "mini:b", []float32{1}, time.Minute))
	require.NoError(t, c.SetEmbedding(ctx, "large:a", []float32{1}, time.Minute))

	n, err := c.InvalidateEmbeddings(ctx, "mini")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := c.GetEmbedding(ctx, "large:a")
	require.NoError(t, err)
	assert.True(t, ok)
}
