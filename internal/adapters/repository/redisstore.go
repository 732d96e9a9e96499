package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-redis/redis"

	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/pkg/logger"
	"github.com/okian/staffrate/pkg/metrics"
)

const redisBackend = "redis"

// Hash fields of a staff member key.
const (
	fieldName        = "name"
	fieldPhotoRef    = "photo_ref"
	fieldDescription = "description"
	fieldRatingSum   = "rating_sum"
	fieldVoteCount   = "vote_count"
)

// applyVoteScript increments both counters and the store version in one step.
// Returns the new version, or 0 when the entity does not exist.
var applyVoteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'rating_sum', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'vote_count', 1)
return redis.call('INCR', KEYS[2])
`)

// snapshotScript returns version followed by (id, name, photo_ref,
// description, rating_sum, vote_count) for every member.
var snapshotScript = redis.NewScript(`
local out = { redis.call('GET', KEYS[2]) or '0' }
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
  local h = redis.call('HMGET', ARGV[1] .. id, 'name', 'photo_ref', 'description', 'rating_sum', 'vote_count')
  table.insert(out, id)
  for i = 1, 5 do
    table.insert(out, h[i] or '')
  end
end
return out
`)

const snapshotRecordLen = 6

// RedisStore keeps aggregates in Redis hashes and announces commits over pub/sub.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	healthCheck time.Duration
	log         logger.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:      client,
		prefix:      defaultKeyPrefix,
		healthCheck: defaultHealthCheck,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("redis_store")
	}
	return s
}

func (s *RedisStore) idsKey() string            { return s.prefix + "staff" }
func (s *RedisStore) versionKey() string        { return s.prefix + "version" }
func (s *RedisStore) channel() string           { return s.prefix + "changes" }
func (s *RedisStore) staffPrefix() string       { return s.prefix + "staff:" }
func (s *RedisStore) staffKey(id string) string { return s.staffPrefix() + id }

// ApplyVote runs the increment script and publishes the new version.
func (s *RedisStore) ApplyVote(ctx context.Context, id string, value int) error {
	start := time.Now()
	defer func() { s.observe("apply_vote", start) }()

	client := s.client.WithContext(ctx)
	version, err := applyVoteScript.Run(client, []string{s.staffKey(id), s.versionKey()}, value).Int64()
	if err != nil {
		metrics.RecordStoreError(redisBackend, "apply_vote")
		return fmt.Errorf("apply vote to %s: %w: %w", id, ErrStoreUnavailable, err)
	}
	if version == 0 {
		return ErrNotFound
	}

	// The vote is committed; a lost notification only delays listeners until
	// their next resync.
	if err := client.Publish(s.channel(), version).Err(); err != nil {
		s.log.Warn(ctx, "publish change failed", logger.String("id", id), logger.Error(err))
	}
	return nil
}

// Snapshot reads all members and the version atomically.
func (s *RedisStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	start := time.Now()
	defer func() { s.observe("snapshot", start) }()

	raw, err := snapshotScript.Run(s.client.WithContext(ctx),
		[]string{s.idsKey(), s.versionKey()}, s.staffPrefix()).Result()
	if err != nil {
		metrics.RecordStoreError(redisBackend, "snapshot")
		return model.Snapshot{}, fmt.Errorf("snapshot: %w: %w", ErrStoreUnavailable, err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		metrics.RecordStoreError(redisBackend, "snapshot")
		return model.Snapshot{}, fmt.Errorf("snapshot: %w: %w", ErrStoreUnavailable, err)
	}
	return snap, nil
}

// Watch subscribes to the change channel and emits a fresh snapshot after
// every notification. The channel closes when the subscription breaks.
func (s *RedisStore) Watch(ctx context.Context) (<-chan model.Snapshot, error) {
	pubsub := s.client.Subscribe(s.channel())
	if _, err := pubsub.Receive(); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w: %w", ErrStoreUnavailable, err)
	}

	// Subscribe before the first read so no commit falls in between.
	initial, err := s.Snapshot(ctx)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan model.Snapshot, 1)
	offer(out, initial)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = pubsub.Close()
	}()

	go func() {
		defer close(out)
		defer close(done)
		for {
			if err := awaitChange(pubsub, s.healthCheck); err != nil {
				if ctx.Err() == nil {
					s.log.Warn(ctx, "subscription lost", logger.Error(err))
				}
				return
			}
			snap, err := s.Snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn(ctx, "snapshot after change failed", logger.Error(err))
				}
				return
			}
			offer(out, snap)
		}
	}()
	return out, nil
}

// changeFeed is the part of *redis.PubSub the watch loop reads from.
type changeFeed interface {
	ReceiveTimeout(timeout time.Duration) (interface{}, error)
	Ping(payload ...string) error
}

// awaitChange blocks until a change message arrives. A feed idle for one
// interval is sent a PING; if nothing arrives during the next interval either,
// the connection is considered dead.
func awaitChange(feed changeFeed, interval time.Duration) error {
	pinged := false
	for {
		msg, err := feed.ReceiveTimeout(interval)
		if err != nil {
			var nerr net.Error
			if !errors.As(err, &nerr) || !nerr.Timeout() {
				return err
			}
			if pinged {
				return fmt.Errorf("%w: no reply to ping within %s", ErrStoreUnavailable, interval)
			}
			if err := feed.Ping(); err != nil {
				return err
			}
			pinged = true
			continue
		}
		pinged = false
		if _, ok := msg.(*redis.Message); ok {
			return nil
		}
	}
}

// Provision upserts member metadata in a MULTI/EXEC block. Counters are only
// initialized when missing.
func (s *RedisStore) Provision(ctx context.Context, entities []model.Entity) error {
	if err := validateEntities(entities); err != nil {
		return err
	}
	start := time.Now()
	defer func() { s.observe("provision", start) }()

	client := s.client.WithContext(ctx)
	var incr *redis.IntCmd
	_, err := client.TxPipelined(func(pipe redis.Pipeliner) error {
		for _, e := range entities {
			key := s.staffKey(e.ID)
			pipe.SAdd(s.idsKey(), e.ID)
			pipe.HMSet(key, map[string]interface{}{
				fieldName:        e.Name,
				fieldPhotoRef:    e.PhotoRef,
				fieldDescription: e.Description,
			})
			pipe.HSetNX(key, fieldRatingSum, 0)
			pipe.HSetNX(key, fieldVoteCount, 0)
		}
		incr = pipe.Incr(s.versionKey())
		return nil
	})
	if err != nil {
		metrics.RecordStoreError(redisBackend, "provision")
		return fmt.Errorf("provision: %w: %w", ErrStoreUnavailable, err)
	}
	if err := client.Publish(s.channel(), incr.Val()).Err(); err != nil {
		s.log.Warn(ctx, "publish change failed", logger.Error(err))
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) observe(op string, start time.Time) {
	metrics.RecordStoreLatency(redisBackend, op, float64(time.Since(start).Microseconds())/1000)
}

func decodeSnapshot(raw interface{}) (model.Snapshot, error) {
	items, ok := raw.([]interface{})
	if !ok || len(items) == 0 || (len(items)-1)%snapshotRecordLen != 0 {
		return model.Snapshot{}, fmt.Errorf("unexpected snapshot reply %T", raw)
	}

	version, err := strconv.ParseUint(replyString(items[0]), 10, 64)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("parse version: %w", err)
	}

	entities := make([]model.Entity, 0, (len(items)-1)/snapshotRecordLen)
	for i := 1; i < len(items); i += snapshotRecordLen {
		e := model.Entity{
			ID:          replyString(items[i]),
			Name:        replyString(items[i+1]),
			PhotoRef:    replyString(items[i+2]),
			Description: replyString(items[i+3]),
		}
		if e.RatingSum, err = parseCounter(items[i+4]); err != nil {
			return model.Snapshot{}, fmt.Errorf("parse %s of %s: %w", fieldRatingSum, e.ID, err)
		}
		if e.VoteCount, err = parseCounter(items[i+5]); err != nil {
			return model.Snapshot{}, fmt.Errorf("parse %s of %s: %w", fieldVoteCount, e.ID, err)
		}
		entities = append(entities, e)
	}
	model.SortEntities(entities)
	return model.Snapshot{Version: version, Entities: entities}, nil
}

func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func parseCounter(v interface{}) (int64, error) {
	s := replyString(v)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
