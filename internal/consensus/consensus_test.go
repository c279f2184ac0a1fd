package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allReduce runs one round on every reducer concurrently and returns each
// rank's result.
func allReduce(t *testing.T, reducers []Reducer, round int, votes []bool) []bool {
	t.Helper()
	results := make([]bool, len(reducers))
	errs := make([]error, len(reducers))
	var wg sync.WaitGroup
	for i, r := range reducers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.AnyTrue(context.Background(), round, votes[i])
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
	return results
}

func TestLocal(t *testing.T) {
	var r Reducer = Local{}
	assert.Equal(t, 1, r.Size())

	got, err := r.AnyTrue(context.Background(), 0, true)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = r.AnyTrue(context.Background(), 1, false)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestGroup(t *testing.T) {
	g := NewGroup(3)
	reducers := []Reducer{g.Member(0), g.Member(1), g.Member(2)}
	assert.Equal(t, 2, reducers[2].Rank())
	assert.Equal(t, 3, reducers[0].Size())

	assert.Equal(t, []bool{false, false, false}, allReduce(t, reducers, 0, []bool{false, false, false}))
	assert.Equal(t, []bool{true, true, true}, allReduce(t, reducers, 1, []bool{false, true, false}))
	assert.Equal(t, []bool{false, false, false}, allReduce(t, reducers, 2, []bool{false, false, false}), "rounds do not leak votes")
	for round := 3; round < 50; round++ {
		assert.Equal(t, []bool{true, true, true}, allReduce(t, reducers, round, []bool{true, true, true}))
	}
}

func TestGroup_MissingRankTimesOut(t *testing.T) {
	g := NewGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Member(0).AnyTrue(ctx, 0, true)
	require.ErrorIs(t, err, ErrTimeout)

	_, err = g.Member(1).AnyTrue(context.Background(), 0, false)
	assert.ErrorIs(t, err, ErrTimeout, "an abandoned group stays broken")
}

func TestGroup_DivergedRounds(t *testing.T) {
	g := NewGroup(2)
	errs := make(chan error, 2)
	go func() {
		_, err := g.Member(0).AnyTrue(context.Background(), 4, false)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_, err := g.Member(1).AnyTrue(context.Background(), 5, false)
	require.Error(t, err)
	assert.ErrorContains(t, <-errs, "diverged")
}

func newRedisGroup(t *testing.T, size int, opts ...RedisOption) []Reducer {
	t.Helper()
	return launchRedisGroup(t, miniredis.RunT(t), size, opts...)
}

// launchRedisGroup starts one launch of a size-rank run against mr.
func launchRedisGroup(t *testing.T, mr *miniredis.Miniredis, size int, opts ...RedisOption) []Reducer {
	t.Helper()
	reducers := make([]Reducer, size)
	for i := range size {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		r := NewRedis(client, "run-1", i, size, append([]RedisOption{WithPollInterval(5 * time.Millisecond)}, opts...)...)
		t.Cleanup(func() { r.Close() })
		reducers[i] = r
	}
	return reducers
}

func TestRedis(t *testing.T) {
	reducers := newRedisGroup(t, 3)

	assert.Equal(t, []bool{false, false, false}, allReduce(t, reducers, 0, []bool{false, false, false}))
	assert.Equal(t, []bool{true, true, true}, allReduce(t, reducers, 1, []bool{false, false, true}))
	assert.Equal(t, []bool{false, false, false}, allReduce(t, reducers, 2, []bool{false, false, false}))
}

func TestRedis_RelaunchStartsFresh(t *testing.T) {
	t.Run("single rank does not see the previous vote", func(t *testing.T) {
		mr := miniredis.RunT(t)
		first := launchRedisGroup(t, mr, 1)
		assert.Equal(t, []bool{true}, allReduce(t, first, 0, []bool{true}))

		second := launchRedisGroup(t, mr, 1)
		assert.Equal(t, []bool{false}, allReduce(t, second, 0, []bool{false}))
	})

	t.Run("relaunched ranks wait for each other", func(t *testing.T) {
		mr := miniredis.RunT(t)
		first := launchRedisGroup(t, mr, 2)
		assert.Equal(t, []bool{true, true}, allReduce(t, first, 0, []bool{false, true}))

		second := launchRedisGroup(t, mr, 2)
		type result struct {
			v   bool
			err error
		}
		done := make(chan result, 1)
		go func() {
			v, err := second[0].AnyTrue(context.Background(), 0, false)
			done <- result{v, err}
		}()

		select {
		case <-done:
			t.Fatal("rank 0 returned before rank 1 arrived")
		case <-time.After(100 * time.Millisecond):
		}

		got, err := second[1].AnyTrue(context.Background(), 0, false)
		require.NoError(t, err)
		assert.False(t, got)
		res := <-done
		require.NoError(t, res.err)
		assert.False(t, res.v)
	})
}

func TestRedis_Launch(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	r := launchRedisGroup(t, mr, 2)[1].(*Redis)
	n, err := r.Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = r.Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a reducer registers its launch once")

	again := launchRedisGroup(t, mr, 2)[1].(*Redis)
	n, err = again.Launch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedis_Timeout(t *testing.T) {
	reducers := newRedisGroup(t, 2, WithRoundTimeout(50*time.Millisecond))

	_, err := reducers[0].AnyTrue(context.Background(), 0, true)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = OpenRedis(context.Background(), "not a url")
	assert.Error(t, err)
}
