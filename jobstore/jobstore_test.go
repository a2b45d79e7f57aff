package jobstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test", ttl)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func stores(t *testing.T, c *clock) map[string]Store {
	mem := NewMemoryStore()
	mem.now = c.now
	rs, _ := newRedisStore(t, 0)
	rs.now = c.now
	return map[string]Store{"memory": mem, "redis": rs}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	for name, s := range stores(t, c) {
		t.Run(name, func(t *testing.T) {
			job, err := s.Create(ctx, Request{Source: `page.goto("https://example.com")`, Variables: map[string]string{"a": "1"}})
			require.NoError(t, err)
			assert.NotEmpty(t, job.ID)
			assert.Equal(t, StatusPending, job.Status)

			got, err := s.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, job.Request, got.Request)
			assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

			got.SetStatus(StatusRunning, c.t)
			require.NoError(t, s.Update(ctx, got))
			got.SetStatus(StatusCompleted, c.t.Add(time.Second))
			got.Result = &Result{Code: "pass\n", Actions: 1, Kinds: map[string]int{"critical": 1}}
			require.NoError(t, s.Update(ctx, got))

			final, err := s.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, final.Status)
			require.NotNil(t, final.StartedAt)
			require.NotNil(t, final.CompletedAt)
			assert.Equal(t, "pass\n", final.Result.Code)

			_, err = s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Update(ctx, &Job{ID: "missing"}), ErrNotFound)
		})
	}
}

func TestStoreListAndCleanup(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &clock{t: start}

	for name, s := range stores(t, c) {
		t.Run(name, func(t *testing.T) {
			c.t = start
			var ids []string
			for i := 0; i < 3; i++ {
				job, err := s.Create(ctx, Request{Source: "x"})
				require.NoError(t, err)
				ids = append(ids, job.ID)
				c.t = c.t.Add(time.Minute)
			}

			jobs, err := s.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, jobs, 3)
			assert.Equal(t, ids[2], jobs[0].ID)
			assert.Equal(t, ids[0], jobs[2].ID)

			jobs, err = s.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, jobs, 2)

			// finish the oldest two; only the first finished long ago
			for i, at := range []time.Time{start.Add(time.Minute), start.Add(time.Hour)} {
				job, err := s.Get(ctx, ids[i])
				require.NoError(t, err)
				job.SetStatus(StatusFailed, at)
				require.NoError(t, s.Update(ctx, job))
			}

			removed, err := s.CleanupOld(ctx, start.Add(30*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			_, err = s.Get(ctx, ids[0])
			assert.ErrorIs(t, err, ErrNotFound)
			jobs, err = s.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, jobs, 2)
		})
	}
}

func TestRedisStoreDropsExpiredFromIndex(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, time.Minute)

	job, err := s.Create(ctx, Request{Source: "x"})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("test:job:"+job.ID))

	mr.FastForward(2 * time.Minute)
	jobs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	removed, err := s.CleanupOld(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	members, _ := mr.ZMembers("test:jobs")
	assert.Empty(t, members)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job, err := s.Create(ctx, Request{Source: "x"})
	require.NoError(t, err)

	job.Status = StatusRunning
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}
