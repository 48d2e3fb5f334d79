package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rescueops-hub/internal/fleet"
)

func TestRegisterDuplicateKeepsFirst(t *testing.T) {
	r := NewRegistry(nil)
	r.now = func() time.Time { return time.Unix(100, 0) }
	first, err := r.Register(context.Background(), "run-1", 3)
	require.NoError(t, err)
	assert.Equal(t, fleet.SessionActive, first.Status)

	r.now = func() time.Time { return time.Unix(200, 0) }
	_, err = r.Register(context.Background(), "run-1", 9)
	require.ErrorIs(t, err, fleet.ErrDuplicateKey)
	var dup *fleet.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "run-1", dup.Key)

	got, ok := r.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, first, got)
	assert.Equal(t, 3, got.ParticipantCount)
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register(context.Background(), "", 1)
	require.ErrorIs(t, err, fleet.ErrValidation)
	_, err = r.Register(context.Background(), "x", -1)
	require.ErrorIs(t, err, fleet.ErrValidation)
	assert.Empty(t, r.List())
}

func TestConcurrentRegisterExactlyOneWins(t *testing.T) {
	r := NewRegistry(nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register(context.Background(), "race", 1); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestLatestAndRestore(t *testing.T) {
	r := NewRegistry(nil)
	assert.Empty(t, r.Latest())
	r.Restore([]fleet.Session{
		{SessionID: "old", StartTime: time.Unix(10, 0)},
		{SessionID: "new", StartTime: time.Unix(20, 0)},
	})
	assert.Equal(t, "new", r.Latest())
	s, ok := r.Get("old")
	require.True(t, ok)
	assert.Equal(t, fleet.SessionActive, s.Status)

	_, err := r.Register(context.Background(), "old", 1)
	require.ErrorIs(t, err, fleet.ErrDuplicateKey)

	_, err = r.Register(context.Background(), "fresh", 1)
	require.NoError(t, err)
	assert.Equal(t, "fresh", r.Latest())
	assert.Len(t, r.List(), 3)
}

type failingClaimer struct{}

func (failingClaimer) Claim(context.Context, string) (bool, error) {
	return false, errors.New("unreachable")
}

func TestRegisterClaimFailure(t *testing.T) {
	r := NewRegistry(failingClaimer{})
	_, err := r.Register(context.Background(), "s", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, fleet.ErrDuplicateKey)
	_, ok := r.Get("s")
	assert.False(t, ok)
}

func TestRedisClaimerSharedAcrossRegistries(t *testing.T) {
	mr := miniredis.RunT(t)
	claimer := &RedisClaimer{client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = claimer.Close() })

	a := NewRegistry(claimer)
	b := NewRegistry(claimer)

	_, err := a.Register(context.Background(), "shared", 2)
	require.NoError(t, err)
	_, err = b.Register(context.Background(), "shared", 2)
	require.ErrorIs(t, err, fleet.ErrDuplicateKey)
	assert.True(t, mr.Exists(keyPrefix+"shared"))
}

func TestNewRedisClaimerPings(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisClaimer(context.Background(), RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.Claim(context.Background(), "ttl")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+"ttl"))
}
