package kv

import (
	"context"
	"fmt"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// compareAndDelete borra la clave solo si su valor coincide (release del lock).
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configura la conexión a redis
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implementa Store sobre go-redis.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}))
}

func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func ttlArg(ttl time.Duration) time.Duration {
	// go-redis interpreta -1 como KEEPTTL
	if ttl < 0 {
		return 0
	}
	return ttl
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if cr.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", unavailable("get", key, err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return unavailable("set", key, s.client.Set(ctx, key, value, ttlArg(ttl)).Err())
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttlArg(ttl)).Result()
	if err != nil {
		return false, unavailable("setnx", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return unavailable("del", key, s.client.Del(ctx, key).Err())
}

func (s *RedisStore) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, unavailable("compare-and-delete", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return n, nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return unavailable("zadd", key, s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *RedisStore) ZIncrBy(ctx context.Context, key string, incr float64, member string) (float64, error) {
	v, err := s.client.ZIncrBy(ctx, key, incr, member).Result()
	if err != nil {
		return 0, unavailable("zincrby", key, err)
	}
	return v, nil
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]ZMember, error) {
	var (
		zs  []redis.Z
		err error
	)
	if rev {
		zs, err = s.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	} else {
		zs, err = s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, unavailable("zrange", key, err)
	}

	out := make([]ZMember, 0, len(zs))
	for _, z := range zs {
		out = append(out, ZMember{Member: fmt.Sprint(z.Member), Score: z.Score})
	}
	return out, nil
}

func (s *RedisStore) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return unavailable("zremrangebyrank", key, s.client.ZRemRangeByRank(ctx, key, start, stop).Err())
}

func (s *RedisStore) LPush(ctx context.Context, key, value string) error {
	return unavailable("lpush", key, s.client.LPush(ctx, key, value).Err())
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, unavailable("lrange", key, err)
	}
	return v, nil
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return unavailable("ltrim", key, s.client.LTrim(ctx, key, start, stop).Err())
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (b redisBatch) Incr(key string) { b.pipe.Incr(b.ctx, key) }

func (b redisBatch) LPush(key, value string) { b.pipe.LPush(b.ctx, key, value) }

func (b redisBatch) LTrim(key string, start, stop int64) { b.pipe.LTrim(b.ctx, key, start, stop) }

func (b redisBatch) ZIncrBy(key string, incr float64, member string) {
	b.pipe.ZIncrBy(b.ctx, key, incr, member)
}

// Batch envía todas las escrituras en un único MULTI/EXEC.
func (s *RedisStore) Batch(ctx context.Context, fn func(b Batch)) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(redisBatch{ctx: ctx, pipe: pipe})
		return nil
	})
	return unavailable("batch", "", err)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return unavailable("ping", "", s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
