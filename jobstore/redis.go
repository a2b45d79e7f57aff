package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps jobs as JSON documents in Redis, indexed by a sorted set
// scored on creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
	// ttl expires job documents on their own; zero keeps them until
	// CleanupOld removes them.
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedisStoreWithClient(client, prefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "formflow"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) keyJob(id string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, id)
}

func (s *RedisStore) keyIndex() string {
	return s.prefix + ":jobs"
}

func (s *RedisStore) Create(ctx context.Context, req Request) (*Job, error) {
	job := newJob(req, s.now())
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}
	if err := s.client.ZAdd(ctx, s.keyIndex(), redis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	}).Err(); err != nil {
		return nil, fmt.Errorf("index job %s: %w", job.ID, err)
	}
	return job, nil
}

func (s *RedisStore) save(ctx context.Context, job *Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, s.keyJob(job.ID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	v, err := s.client.Get(ctx, s.keyJob(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return decode(v)
}

func decode(v string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(v), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Update(ctx context.Context, job *Job) error {
	n, err := s.client.Exists(ctx, s.keyJob(job.ID)).Result()
	if err != nil {
		return fmt.Errorf("check job %s: %w", job.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.save(ctx, job)
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.keyIndex(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, _, err := s.load(ctx, ids)
	return jobs, err
}

// load fetches ids in order and reports the ids whose documents are gone.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*Job, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyJob(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load jobs: %w", err)
	}

	var (
		jobs    []*Job
		missing []string
	)
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		job, err := decode(str)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, missing, nil
}

func (s *RedisStore) CleanupOld(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRange(ctx, s.keyIndex(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	jobs, missing, err := s.load(ctx, ids)
	if err != nil {
		return 0, err
	}

	stale := missing
	for _, job := range jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			stale = append(stale, job.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([]string, len(stale))
	members := make([]interface{}, len(stale))
	for i, id := range stale {
		keys[i] = s.keyJob(id)
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.keyIndex(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return len(stale) - len(missing), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
