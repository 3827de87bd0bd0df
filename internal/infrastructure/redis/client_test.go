package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := NewClient(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "idem:k", "1", 0).Err())
	assert.True(t, srv.Exists("idem:k"))
}

func TestNewClientFailures(t *testing.T) {
	down := miniredis.RunT(t)
	downURL := "redis://" + down.Addr()
	down.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"unparseable url", "://bad-url"},
		{"wrong scheme", "http://localhost:6379"},
		{"server down", downURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tt.url, WithDialTimeout(200*time.Millisecond))
			assert.Error(t, err)
			assert.Nil(t, client)
		})
	}
}

func TestNewClientOptions(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := NewClient(context.Background(), "redis://"+srv.Addr()+"/2?dial_timeout=3s",
		WithPoolSize(3), WithDialTimeout(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	opts := client.Options()
	assert.Equal(t, 3, opts.PoolSize)
	assert.Equal(t, 3*time.Second, opts.DialTimeout, "zero keeps the url value")
	assert.Equal(t, 2, opts.DB)
}
