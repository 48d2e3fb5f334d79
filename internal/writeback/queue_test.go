package writeback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescueops-hub/internal/logging"
)

func quietContext() context.Context {
	return logging.NewContext(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQueueKeepsPerKeyOrder(t *testing.T) {
	q := New(quietContext(), Config{Workers: 4, Depth: 512})

	var mu sync.Mutex
	seen := map[string][]int{}
	for i := 0; i < 100; i++ {
		for _, key := range []string{"R1", "R2", "R3"} {
			key, i := key, i
			require.True(t, q.Submit("agents", key, func(context.Context) error {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
				return nil
			}))
		}
	}
	q.Close()

	for _, key := range []string{"R1", "R2", "R3"} {
		require.Len(t, seen[key], 100)
		for i, v := range seen[key] {
			assert.Equal(t, i, v, "key %s out of order", key)
		}
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := New(quietContext(), Config{Workers: 1, Depth: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, q.Submit("agents", "R1", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.True(t, q.Submit("agents", "R1", func(context.Context) error { return nil }))
	assert.False(t, q.Submit("agents", "R1", func(context.Context) error { return nil }))
	close(block)
	q.Close()
}

func TestQueueSwallowsErrorsAndRejectsAfterClose(t *testing.T) {
	q := New(quietContext(), Config{Workers: 2, Depth: 4})
	done := make(chan struct{})
	require.True(t, q.Submit("audit", "s1", func(context.Context) error {
		defer close(done)
		return errors.New("disk full")
	}))
	<-done
	q.Close()
	q.Close()
	assert.False(t, q.Submit("audit", "s1", func(context.Context) error { return nil }))
}

func TestQueueLogsFailuresThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.NewContext(context.Background(), logging.NewWriter(&buf, "info", "json"))
	q := New(ctx, Config{Workers: 1, Depth: 2})
	require.True(t, q.Submit("audit_events", "s1", func(context.Context) error {
		return errors.New("disk full")
	}))
	q.Close()

	assert.Contains(t, buf.String(), "durable write failed")
	assert.Contains(t, buf.String(), "disk full")
}
