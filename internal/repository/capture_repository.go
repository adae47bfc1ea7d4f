package repository

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/captureq/pkg/domain"
)

// CaptureRepository is the shared Redis state producers, consumers and the
// reconciler coordinate through. Claim and Cleanup are single Lua scripts so
// they stay atomic across processes.
type CaptureRepository interface {
	Enqueue(ctx context.Context, uuid string, fields map[string]string, priority float64, bucket string) error
	HasPending(ctx context.Context) (bool, error)
	Claim(ctx context.Context) (*domain.Claim, bool, error)
	Fields(ctx context.Context, uuid string) (map[string]string, error)
	Cleanup(ctx context.Context, claim domain.Claim) (bool, error)
	RecordError(ctx context.Context, uuid, message string) error
	RegisterDirectory(ctx context.Context, uuid, dir string) error

	PendingIDs(ctx context.Context) ([]string, error)
	IsNotQueued(ctx context.Context, uuid string) (bool, error)
	ClearNotQueued(ctx context.Context, uuid string) error

	Status(ctx context.Context, uuid string) (*domain.CaptureStatus, error)
	QueueStats(ctx context.Context) (*domain.QueueStats, error)
}

const (
	errorTTL       = 36000 * time.Second
	queuesIdleTTL  = 600
	notQueuedField = "not_queued"
)

type captureRedisRepo struct {
	rdb *redis.Client
	now func() time.Time
}

func NewCaptureRepository(rdb *redis.Client, tz *time.Location) CaptureRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &captureRedisRepo{rdb: rdb, now: func() time.Time { return time.Now().In(tz) }}
}

// Key names are shared with producers and must not change.
func (r *captureRedisRepo) keyPending() string        { return "to_capture" }
func (r *captureRedisRepo) keyOngoing() string        { return "ongoing" }
func (r *captureRedisRepo) keyQueues() string         { return "queues" }
func (r *captureRedisRepo) keyLookupDirs() string     { return "lookup_dirs" }
func (r *captureRedisRepo) keyJob(id string) string   { return id }
func (r *captureRedisRepo) keyMgmt(id string) string  { return id + "_mgmt" }
func (r *captureRedisRepo) keyError(id string) string { return "error_" + id }

func (r *captureRedisRepo) Enqueue(ctx context.Context, uuid string, fields map[string]string, priority float64, bucket string) error {
	if len(fields) == 0 {
		return errors.New("enqueue: empty job record")
	}
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.keyJob(uuid), values...)
	if bucket != "" {
		pipe.ZIncrBy(ctx, r.keyQueues(), 1, bucket)
		pipe.Set(ctx, r.keyMgmt(uuid), bucket, 0)
	}
	pipe.ZAdd(ctx, r.keyPending(), &redis.Z{Score: priority, Member: uuid})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis enqueue %s", uuid)
	}
	return nil
}

func (r *captureRedisRepo) HasPending(ctx context.Context) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.keyPending()).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis EXISTS to_capture")
	}
	return n > 0, nil
}

// claimScript pops the highest priority job, detaches its bucket token and
// marks it ongoing in one step.
var claimScript = redis.NewScript(`
local popped = redis.call("ZPOPMAX", KEYS[1])
if not popped or #popped == 0 then
  return false
end
local id = popped[1]
local mgmt = id .. ARGV[1]
local bucket = redis.call("GET", mgmt)
if bucket then
  redis.call("DEL", mgmt)
else
  bucket = ""
end
redis.call("SADD", KEYS[2], id)
return {id, bucket}
`)

func (r *captureRedisRepo) Claim(ctx context.Context) (*domain.Claim, bool, error) {
	res, err := claimScript.Run(ctx, r.rdb, []string{r.keyPending(), r.keyOngoing()}, "_mgmt").Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis claim script")
	}
	parts, ok := res.([]any)
	if !ok || len(parts) != 2 {
		return nil, false, errors.Newf("redis claim script: unexpected reply %T", res)
	}
	id, _ := parts[0].(string)
	bucket, _ := parts[1].(string)
	return &domain.Claim{UUID: id, Bucket: bucket, ClaimedAt: r.now()}, true, nil
}

func (r *captureRedisRepo) Fields(ctx context.Context, uuid string) (map[string]string, error) {
	m, err := r.rdb.HGetAll(ctx, r.keyJob(uuid)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis HGETALL %s", uuid)
	}
	return m, nil
}

// cleanupScript only decrements the bucket when it is the call that removed
// the job from ongoing, so replaying it is harmless.
var cleanupScript = redis.NewScript(`
local removed = redis.call("SREM", KEYS[1], ARGV[1])
if removed == 1 and ARGV[2] ~= "" then
  local score = redis.call("ZSCORE", KEYS[2], ARGV[2])
  if score and tonumber(score) > 0 then
    redis.call("ZINCRBY", KEYS[2], -1, ARGV[2])
  end
end
redis.call("DEL", KEYS[3])
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[3]))
return removed
`)

// Cleanup reports whether this call was the one that released the job.
func (r *captureRedisRepo) Cleanup(ctx context.Context, claim domain.Claim) (bool, error) {
	keys := []string{r.keyOngoing(), r.keyQueues(), r.keyJob(claim.UUID)}
	n, err := cleanupScript.Run(ctx, r.rdb, keys, claim.UUID, claim.Bucket, queuesIdleTTL).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "redis cleanup %s", claim.UUID)
	}
	return n == 1, nil
}

func (r *captureRedisRepo) RecordError(ctx context.Context, uuid, message string) error {
	if err := r.rdb.SetEX(ctx, r.keyError(uuid), message, errorTTL).Err(); err != nil {
		return errors.Wrapf(err, "redis SETEX error_%s", uuid)
	}
	return nil
}

func (r *captureRedisRepo) RegisterDirectory(ctx context.Context, uuid, dir string) error {
	if err := r.rdb.HSet(ctx, r.keyLookupDirs(), uuid, dir).Err(); err != nil {
		return errors.Wrapf(err, "redis HSET lookup_dirs %s", uuid)
	}
	return nil
}

func (r *captureRedisRepo) PendingIDs(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.ZRevRangeByScore(ctx, r.keyPending(), &redis.ZRangeBy{Max: "+inf", Min: "-inf"}).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "redis ZREVRANGEBYSCORE to_capture")
	}
	return ids, nil
}

func (r *captureRedisRepo) IsNotQueued(ctx context.Context, uuid string) (bool, error) {
	ok, err := r.rdb.HExists(ctx, r.keyJob(uuid), notQueuedField).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis HEXISTS %s", uuid)
	}
	return ok, nil
}

func (r *captureRedisRepo) ClearNotQueued(ctx context.Context, uuid string) error {
	if err := r.rdb.HDel(ctx, r.keyJob(uuid), notQueuedField).Err(); err != nil {
		return errors.Wrapf(err, "redis HDEL %s", uuid)
	}
	return nil
}

// Status resolves where a capture is. A registered directory wins over an
// error entry, which wins over the queues.
func (r *captureRedisRepo) Status(ctx context.Context, uuid string) (*domain.CaptureStatus, error) {
	pipe := r.rdb.Pipeline()
	dirCmd := pipe.HGet(ctx, r.keyLookupDirs(), uuid)
	errCmd := pipe.Get(ctx, r.keyError(uuid))
	ongoingCmd := pipe.SIsMember(ctx, r.keyOngoing(), uuid)
	pendingCmd := pipe.ZScore(ctx, r.keyPending(), uuid)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "redis status %s", uuid)
	}

	st := &domain.CaptureStatus{UUID: uuid, State: domain.StateUnknown}
	if dir, err := dirCmd.Result(); err == nil {
		st.State = domain.StateDone
		st.Directory = dir
		return st, nil
	}
	if msg, err := errCmd.Result(); err == nil {
		st.State = domain.StateError
		st.Error = msg
		return st, nil
	}
	if ongoingCmd.Val() {
		st.State = domain.StateOngoing
		return st, nil
	}
	if _, err := pendingCmd.Result(); err == nil {
		st.State = domain.StatePending
	}
	return st, nil
}

func (r *captureRedisRepo) QueueStats(ctx context.Context) (*domain.QueueStats, error) {
	pipe := r.rdb.Pipeline()
	pending := pipe.ZCard(ctx, r.keyPending())
	ongoing := pipe.SCard(ctx, r.keyOngoing())
	buckets := pipe.ZRangeWithScores(ctx, r.keyQueues(), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "redis queue stats")
	}
	stats := &domain.QueueStats{
		Pending: pending.Val(),
		Ongoing: ongoing.Val(),
		Buckets: map[string]int64{},
	}
	for _, z := range buckets.Val() {
		name, _ := z.Member.(string)
		stats.Buckets[name] = int64(z.Score)
	}
	return stats, nil
}
