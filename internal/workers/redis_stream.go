// Package workers consumes points events that other services (the Telegram
// bot, admin tooling) publish to a Redis stream.
package workers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/open-builders/points-backend/internal/common/logger"
	"github.com/open-builders/points-backend/internal/platform/redis"
	"github.com/open-builders/points-backend/internal/service/bonus"
	"github.com/open-builders/points-backend/internal/service/recovery"
)

const (
	StreamKey     = "points:events"
	ConsumerGroup = "points_backend_consumers"

	// A founding member was added; grant the bonus without waiting for login.
	EventEnforceBonus = "enforce_bonus"
	// Recompute one user's total.
	EventRecoverUser = "recover_user"
)

type Bonus interface {
	EnforceBonusOnce(ctx context.Context, userID int64, handle string) (bonus.Result, error)
}

type Recovery interface {
	RecoverUser(ctx context.Context, handle string, dryRun bool) (*recovery.Log, error)
}

// Options tune the stream reader.
type Options struct {
	Consumer string
	Block    time.Duration
	Count    int64
	// Pending events idle this long are claimed and retried.
	MinIdle time.Duration
}

type RedisStreamWorker struct {
	rdb      *redis.Client
	bonus    Bonus
	recovery Recovery
	opts     Options
	log      zerolog.Logger
}

func NewRedisStreamWorker(rdb *redis.Client, b Bonus, r Recovery, opts Options) *RedisStreamWorker {
	if opts.Consumer == "" {
		opts.Consumer = "points_worker_1"
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = 30 * time.Second
	}
	return &RedisStreamWorker{rdb: rdb, bonus: b, recovery: r, opts: opts, log: logger.Component("stream_worker")}
}

// Start reads the stream until ctx is done.
func (w *RedisStreamWorker) Start(ctx context.Context) {
	if err := w.ensureGroup(ctx); err != nil {
		w.log.Error().Err(err).Msg("failed to create consumer group")
		return
	}
	w.log.Info().Str("stream", StreamKey).Str("consumer", w.opts.Consumer).Msg("stream worker started")

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("stream worker stopped")
			return
		}
		if _, err := w.reclaim(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("pending reclaim failed")
		}
		if _, err := w.readOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("stream read failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *RedisStreamWorker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// readOnce handles one batch and returns how many messages were acknowledged.
// Messages whose handler failed with a retryable error stay pending.
func (w *RedisStreamWorker) readOnce(ctx context.Context) (int, error) {
	entries, err := w.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.opts.Consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    w.opts.Count,
		Block:    w.opts.Block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range entries {
		n, err := w.handle(ctx, stream.Messages)
		acked += n
		if err != nil {
			return acked, err
		}
	}
	return acked, nil
}

// reclaim takes over events that stayed pending for at least MinIdle, either
// after a retryable failure here or on a consumer that went away, and runs
// them again.
func (w *RedisStreamWorker) reclaim(ctx context.Context) (int, error) {
	msgs, _, err := w.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.opts.Consumer,
		MinIdle:  w.opts.MinIdle,
		Start:    "0-0",
		Count:    w.opts.Count,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(msgs) > 0 {
		w.log.Info().Int("count", len(msgs)).Msg("retrying pending events")
	}
	return w.handle(ctx, msgs)
}

func (w *RedisStreamWorker) handle(ctx context.Context, msgs []goredis.XMessage) (int, error) {
	acked := 0
	for _, msg := range msgs {
		if err := w.processMessage(ctx, msg.Values); err != nil {
			w.log.Warn().Err(err).Str("id", msg.ID).Msg("event left pending for retry")
			continue
		}
		if err := w.rdb.XAck(ctx, StreamKey, ConsumerGroup, msg.ID).Err(); err != nil {
			return acked, err
		}
		acked++
	}
	return acked, nil
}

// processMessage returns an error only when the event should be retried.
// Malformed events are logged and dropped.
func (w *RedisStreamWorker) processMessage(ctx context.Context, values map[string]interface{}) error {
	eventType, _ := values["type"].(string)
	handle, _ := values["handle"].(string)

	switch eventType {
	case EventEnforceBonus:
		userID, err := strconv.ParseInt(str(values["user_id"]), 10, 64)
		if err != nil || handle == "" {
			w.log.Warn().Interface("values", values).Msg("invalid enforce_bonus event")
			return nil
		}
		res, err := w.bonus.EnforceBonusOnce(ctx, userID, handle)
		if err != nil {
			return retryable(err)
		}
		w.log.Info().Int64("user_id", userID).Bool("granted", res.Granted).Msg("enforce_bonus event processed")
	case EventRecoverUser:
		if handle == "" {
			w.log.Warn().Interface("values", values).Msg("invalid recover_user event")
			return nil
		}
		dryRun := true
		if v := str(values["dry_run"]); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				w.log.Warn().Interface("values", values).Msg("invalid dry_run in recover_user event")
				return nil
			}
			dryRun = parsed
		}
		l, err := w.recovery.RecoverUser(ctx, handle, dryRun)
		if err != nil {
			return retryable(err)
		}
		w.log.Info().Str("handle", handle).Str("status", string(l.Status)).Int("delta", l.Delta).Msg("recover_user event processed")
	default:
		w.log.Debug().Str("type", eventType).Msg("ignoring unknown event")
	}
	return nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
