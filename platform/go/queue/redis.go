package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// NewRedisClient parses redisURL and verifies connectivity, pinging up to retries extra times.
func NewRedisClient(ctx context.Context, redisURL string, retries uint64) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}

	client := redis.NewClient(opts)
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, retry.WithCappedDuration(5*time.Second, backoff), func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

type RedisConfig struct {
	// LeaseTimeout is how long a dequeued job may run before PromoteDue hands it to another worker.
	LeaseTimeout time.Duration `env:"QUEUE_LEASE_TIMEOUT" envDefault:"2m"`
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"250ms"`
	DedupeTTL    time.Duration `env:"QUEUE_DEDUPE_TTL" envDefault:"24h"`
	DeadMax      int64         `env:"QUEUE_DEAD_MAX" envDefault:"1000"`
}

// RedisQueue stores each logical queue under the {q:<name>} hash tag:
//
//	:jobs        HASH  id -> job JSON
//	:ready       LIST  ids waiting for a worker
//	:delayed     ZSET  ids scored by due time (ms)
//	:processing  ZSET  ids scored by lease deadline (ms)
//	:dead        LIST  job JSON, newest first
//	:dedupe:<k>  STRING id of the job holding the key
type RedisQueue struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedisQueue(client *redis.Client, cfg RedisConfig) *RedisQueue {
	if client == nil {
		panic("redis queue requires client")
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	if cfg.DeadMax <= 0 {
		cfg.DeadMax = 1000
	}
	return &RedisQueue{client: client, cfg: cfg}
}

// LeaseTimeout is the effective lease after defaults.
func (q *RedisQueue) LeaseTimeout() time.Duration {
	return q.cfg.LeaseTimeout
}

func key(queueName, suffix string) string {
	return "{q:" + queueName + "}:" + suffix
}

var enqueueScript = redis.NewScript(`
if #KEYS == 3 then
	local existing = redis.call('GET', KEYS[3])
	if existing then
		return existing
	end
	redis.call('SET', KEYS[3], ARGV[1], 'PX', ARGV[3])
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
return ARGV[1]
`)

var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[2])
if not id then
	return false
end
local payload = redis.call('HGET', KEYS[1], id)
if not payload then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[1], id)
return payload
`)

var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], ARGV[1])
if #KEYS == 3 and redis.call('GET', KEYS[3]) == ARGV[1] then
	redis.call('DEL', KEYS[3])
end
return 1
`)

var retryScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

var deadLetterScript = redis.NewScript(`
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[2])
redis.call('LTRIM', KEYS[3], 0, tonumber(ARGV[3]) - 1)
if #KEYS == 4 and redis.call('GET', KEYS[4]) == ARGV[1] then
	redis.call('DEL', KEYS[4])
end
return 1
`)

var promoteScript = redis.NewScript(`
local moved = 0
for i = 1, 2 do
	local ids = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	for _, id in ipairs(ids) do
		redis.call('ZREM', KEYS[i], id)
		redis.call('RPUSH', KEYS[3], id)
		moved = moved + 1
	end
end
return moved
`)

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (EnqueueResult, error) {
	if job.Queue == "" || job.ID == "" {
		return EnqueueResult{}, fmt.Errorf("job id and queue are required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("encode job: %w", err)
	}

	keys := []string{key(job.Queue, "jobs"), key(job.Queue, "ready")}
	if job.DedupeKey != "" {
		keys = append(keys, key(job.Queue, "dedupe:"+job.DedupeKey))
	}

	owner, err := enqueueScript.Run(ctx, q.client, keys, job.ID, payload, q.cfg.DedupeTTL.Milliseconds()).Text()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue %s job: %w", job.Queue, err)
	}
	return EnqueueResult{JobID: owner, Deduplicated: owner != job.ID}, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, queueName string, wait time.Duration) (Job, bool, error) {
	deadline := time.Now().Add(wait)
	keys := []string{key(queueName, "jobs"), key(queueName, "ready"), key(queueName, "processing")}

	for {
		lease := time.Now().Add(q.cfg.LeaseTimeout).UnixMilli()
		payload, err := dequeueScript.Run(ctx, q.client, keys, lease).Text()
		switch {
		case err == nil:
			var job Job
			if err := json.Unmarshal([]byte(payload), &job); err != nil {
				return Job{}, false, fmt.Errorf("decode %s job: %w", queueName, err)
			}
			return job, true, nil
		case errors.Is(err, redis.Nil):
		default:
			return Job{}, false, fmt.Errorf("dequeue %s: %w", queueName, err)
		}

		if !time.Now().Before(deadline) {
			return Job{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, false, ctx.Err()
		case <-time.After(q.cfg.PollInterval):
		}
	}
}

func (q *RedisQueue) Ack(ctx context.Context, job Job) error {
	keys := []string{key(job.Queue, "jobs"), key(job.Queue, "processing")}
	if job.DedupeKey != "" {
		keys = append(keys, key(job.Queue, "dedupe:"+job.DedupeKey))
	}
	if err := ackScript.Run(ctx, q.client, keys, job.ID).Err(); err != nil {
		return fmt.Errorf("ack %s job %s: %w", job.Queue, job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	keys := []string{key(job.Queue, "jobs"), key(job.Queue, "processing"), key(job.Queue, "delayed")}
	due := time.Now().Add(delay).UnixMilli()
	if err := retryScript.Run(ctx, q.client, keys, job.ID, payload, due).Err(); err != nil {
		return fmt.Errorf("retry %s job %s: %w", job.Queue, job.ID, err)
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	keys := []string{key(job.Queue, "jobs"), key(job.Queue, "processing"), key(job.Queue, "dead")}
	if job.DedupeKey != "" {
		keys = append(keys, key(job.Queue, "dedupe:"+job.DedupeKey))
	}
	if err := deadLetterScript.Run(ctx, q.client, keys, job.ID, payload, q.cfg.DeadMax).Err(); err != nil {
		return fmt.Errorf("dead-letter %s job %s: %w", job.Queue, job.ID, err)
	}
	return nil
}

// PromoteDue also reclaims running jobs whose lease expired, so a crashed worker does not
// strand its job.
func (q *RedisQueue) PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error) {
	keys := []string{key(queueName, "delayed"), key(queueName, "processing"), key(queueName, "ready")}
	moved, err := promoteScript.Run(ctx, q.client, keys, now.UnixMilli(), 500).Int()
	if err != nil {
		return 0, fmt.Errorf("promote %s jobs: %w", queueName, err)
	}
	return moved, nil
}

// DeadJobs returns up to limit dead-lettered jobs, newest first.
func (q *RedisQueue) DeadJobs(ctx context.Context, queueName string, limit int64) ([]Job, error) {
	raw, err := q.client.LRange(ctx, key(queueName, "dead"), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead %s jobs: %w", queueName, err)
	}
	jobs := make([]Job, 0, len(raw))
	for _, item := range raw {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			return nil, fmt.Errorf("decode dead %s job: %w", queueName, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

var _ Queue = (*RedisQueue)(nil)
