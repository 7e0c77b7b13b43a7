package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nekazari/intelligence/pkg/models"
)

// transitionScript atomically moves a job between statuses. It succeeds only
// if the current status is one of the allowed "from" statuses (ARGV[3],
// comma-separated), which is what guarantees that exactly one worker can
// claim a pending job and that terminal states are final.
//
// KEYS[1] job hash, KEYS[2] pending set.
// ARGV[1] job id, ARGV[2] new status, ARGV[3] allowed-from CSV,
// ARGV[4] updated_at, ARGV[5..] extra hash field/value pairs.
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return 'missing'
end
local allowed = false
for from in string.gmatch(ARGV[3], '([^,]+)') do
  if status == from then allowed = true end
end
if not allowed then
  return status
end
local fields = {'status', ARGV[2], 'updated_at', ARGV[4]}
for i = 5, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], unpack(fields))
if ARGV[2] ~= 'pending' then
  redis.call('SREM', KEYS[2], ARGV[1])
end
return 'ok'
`)

// cancelScript flags a pending job for cancellation, enforcing tenant
// ownership. Returns 'missing' for unknown or foreign-tenant jobs.
var cancelScript = redis.NewScript(`
local vals = redis.call('HMGET', KEYS[1], 'status', 'tenant_id')
if not vals[1] then
  return 'missing'
end
if vals[2] ~= ARGV[1] then
  return 'missing'
end
if vals[1] ~= 'pending' then
  return vals[1]
end
redis.call('HSET', KEYS[1], 'cancel_requested', '1', 'updated_at', ARGV[2])
return 'ok'
`)

// NewClient creates a Redis client from a Redis URL.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// RedisStore implements Store using go-redis/v9. Each job is a Redis hash
// with a retention TTL; pending job IDs are tracked in a side set so
// ListPending does not scan the keyspace.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. ttl bounds job record retention;
// zero disables expiry.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, job *models.Job) error {
	fields, err := jobToFields(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	key := JobKey(job.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, pendingSetKey, job.ID.String())
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID, tenantID string) (*models.Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *RedisStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	vals, err := s.client.HGetAll(ctx, JobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return fieldsToJob(vals)
}

func (s *RedisStore) MarkRunning(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, models.JobStatusRunning, []string{models.JobStatusPending})
}

func (s *RedisStore) Reclaim(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, models.JobStatusRunning, []string{models.JobStatusRunning})
}

func (s *RedisStore) Complete(ctx context.Context, id uuid.UUID, result models.Forecast) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.transition(ctx, id, models.JobStatusCompleted,
		[]string{models.JobStatusRunning},
		"result", string(encoded))
}

func (s *RedisStore) Fail(ctx context.Context, id uuid.UUID, jobErr models.JobError) error {
	err := s.transition(ctx, id, models.JobStatusFailed,
		[]string{models.JobStatusPending, models.JobStatusRunning},
		"error_kind", jobErr.Kind,
		"error_message", jobErr.Message)
	if err != nil {
		return err
	}
	// Only the transition winner reaches this point, so the bump is safe
	// outside the script.
	return s.client.HIncrBy(ctx, JobKey(id), "retry_count", 1).Err()
}

func (s *RedisStore) RequestCancel(ctx context.Context, id uuid.UUID, tenantID string) error {
	res, err := cancelScript.Run(ctx, s.client,
		[]string{JobKey(id)},
		tenantID, time.Now().UTC().Format(time.RFC3339Nano),
	).Text()
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return ErrNotFound
	default:
		return fmt.Errorf("%w: cannot cancel %s job", ErrInvalidTransition, res)
	}
}

func (s *RedisStore) ListPending(ctx context.Context, tenantID string) ([]*models.Job, error) {
	ids, err := s.client.SMembers(ctx, pendingSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))
	for _, raw := range ids {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			continue
		}
		job, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			// Record expired out from under the set; drop the stale member.
			s.client.SRem(ctx, pendingSetKey, raw)
			continue
		}
		if job.Status != models.JobStatusPending {
			continue
		}
		if tenantID != "" && job.TenantID != tenantID {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisStore) transition(ctx context.Context, id uuid.UUID, to string, from []string, extra ...string) error {
	args := []any{id.String(), to, strings.Join(from, ","), time.Now().UTC().Format(time.RFC3339Nano)}
	for _, v := range extra {
		args = append(args, v)
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{JobKey(id), pendingSetKey}, args...).Text()
	if err != nil {
		return fmt.Errorf("transition job to %s: %w", to, err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, res, to)
	}
}

// --- hash <-> model conversion ---

func jobToFields(job *models.Job) (map[string]string, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{
		"id":               job.ID.String(),
		"tenant_id":        job.TenantID,
		"kind":             job.Kind,
		"plugin":           job.Plugin,
		"status":           job.Status,
		"payload":          string(payload),
		"cancel_requested": boolField(job.CancelRequested),
		"retry_count":      strconv.Itoa(job.RetryCount),
		"created_at":       job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":       job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.Result != nil {
		encoded, err := json.Marshal(job.Result)
		if err != nil {
			return nil, err
		}
		fields["result"] = string(encoded)
	}
	if job.Error != nil {
		fields["error_kind"] = job.Error.Kind
		fields["error_message"] = job.Error.Message
	}
	return fields, nil
}

func fieldsToJob(vals map[string]string) (*models.Job, error) {
	id, err := uuid.Parse(vals["id"])
	if err != nil {
		return nil, fmt.Errorf("decode job id: %w", err)
	}

	job := &models.Job{
		ID:              id,
		TenantID:        vals["tenant_id"],
		Kind:            vals["kind"],
		Plugin:          vals["plugin"],
		Status:          vals["status"],
		CancelRequested: vals["cancel_requested"] == "1",
	}
	if v := vals["retry_count"]; v != "" {
		job.RetryCount, _ = strconv.Atoi(v)
	}
	if v := vals["payload"]; v != "" {
		if err := json.Unmarshal([]byte(v), &job.Payload); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
	}
	if v := vals["result"]; v != "" {
		var result models.Forecast
		if err := json.Unmarshal([]byte(v), &result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &result
	}
	if vals["error_kind"] != "" || vals["error_message"] != "" {
		job.Error = &models.JobError{
			Kind:    vals["error_kind"],
			Message: vals["error_message"],
		}
	}
	if v := vals["created_at"]; v != "" {
		job.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := vals["updated_at"]; v != "" {
		job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return job, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
