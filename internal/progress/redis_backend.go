package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
)

const redisKeyPrefix = "homecoach:progress:"

var _ Backend = (*RedisBackend)(nil)

// RedisBackend keeps the whole progress snapshot under a single key per profile.
type RedisBackend struct {
	redisClient *redis.Client
	key         string
	clock       calendar.Clock
}

func NewRedisBackend(redisClient *redis.Client, profile string, clock calendar.Clock) *RedisBackend {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	return &RedisBackend{
		redisClient: redisClient,
		key:         RedisKey(profile),
		clock:       clock,
	}
}

func RedisKey(profile string) string {
	return redisKeyPrefix + profile
}

func (b *RedisBackend) Load(ctx context.Context) (_ Store, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.backend.redis.load")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", b.key))

	cmd := b.redisClient.Get(ctx, b.key)
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("%w: get %s: %w", ErrStorageRead, b.key, err)
	}

	store, err := Import([]byte(cmd.Val()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageRead, b.key, err)
	}
	return store, nil
}

func (b *RedisBackend) Save(ctx context.Context, store Store) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.backend.redis.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("key", b.key))

	data, err := Export(store, b.clock.Now())
	if err != nil {
		return err
	}

	if err := b.redisClient.Set(ctx, b.key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", b.key, err)
	}
	return nil
}
