package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewClientFromRedis(rdb, "foldy")

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "foldy", c.Prefix())

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}
