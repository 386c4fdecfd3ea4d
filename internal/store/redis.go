package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	retry "github.com/sethvargo/go-retry"
)

// KindRedis is the Redis backend.
const KindRedis = "redis"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces every key this service writes.
	Prefix string
}

// RedisStore keeps each record in a hash and the key order in a sorted set.
// Writes run in MULTI/EXEC so a batch is applied whole; queries scan every record.
type RedisStore struct {
	client *redis.Client
	opts   Options
	ns     string
}

var _ VectorStore = (*RedisStore)(nil)

// NewRedisStore opens the store under namespace opts.Location on client.
// The client is owned by the caller.
func NewRedisStore(ctx context.Context, client *redis.Client, opts Options) (*RedisStore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Location == "" {
		return nil, fmt.Errorf("redis store: location (key namespace) is empty")
	}
	s := &RedisStore{client: client, opts: opts, ns: opts.Location}

	want := map[string]string{
		"dimensions": strconv.Itoa(opts.Dimensions),
		"metric":     string(opts.Metric),
	}
	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range want {
				pipe.HSetNX(ctx, s.infoKey(), k, v)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis store info: %w", err)
	}

	var got map[string]string
	err = withRetry(ctx, func(ctx context.Context) error {
		var err error
		got, err = client.HGetAll(ctx, s.infoKey()).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis store info: %w", err)
	}
	for k, v := range want {
		if got[k] != v {
			return nil, fmt.Errorf("redis store %s has %s=%s, index expects %s", s.ns, k, got[k], v)
		}
	}
	return s, nil
}

func (s *RedisStore) infoKey() string           { return s.ns + ":info" }
func (s *RedisStore) orderKey() string          { return s.ns + ":keys" }
func (s *RedisStore) recordKey(k string) string { return s.ns + ":rec:" + k }

// Upsert writes every record in one MULTI/EXEC.
func (s *RedisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkRecords(s.opts.Dimensions, records); err != nil {
		return err
	}

	type encoded struct {
		key, text, meta string
		vec             []byte
	}
	rows := make([]encoded, 0, len(records))
	for _, r := range records {
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return err
		}
		rows = append(rows, encoded{key: r.Key, text: r.Text, meta: meta, vec: encodeVector(r.Vector)})
	}

	// ZADD NX keeps a replaced key at its first position.
	base := float64(time.Now().UnixMicro())
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, row := range rows {
				pipe.HSet(ctx, s.recordKey(row.key),
					"text", row.text,
					"metadata", row.meta,
					"vector", row.vec)
				pipe.ZAddNX(ctx, s.orderKey(), redis.Z{Score: base + float64(i), Member: row.key})
			}
			return nil
		})
		return err
	})
}

// Query loads every record in insertion order and ranks them.
func (s *RedisStore) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if err := checkQuery(s.opts.Dimensions, vector, k); err != nil {
		return nil, err
	}

	var keys []string
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		keys, err = s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list redis keys: %w", err)
	}

	matches := make([]Match, 0, len(keys))
	const chunk = 256
	for lo := 0; lo < len(keys); lo += chunk {
		hi := min(lo+chunk, len(keys))
		var cmds []*redis.MapStringStringCmd
		err := withRetry(ctx, func(ctx context.Context) error {
			cmds = cmds[:0]
			_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, key := range keys[lo:hi] {
					cmds = append(cmds, pipe.HGetAll(ctx, s.recordKey(key)))
				}
				return nil
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("load redis records: %w", err)
		}

		for i, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				// Deleted between ZRANGE and HGETALL.
				continue
			}
			vec, err := decodeVector([]byte(fields["vector"]), s.opts.Dimensions)
			if err != nil {
				return nil, fmt.Errorf("record %q: %w", keys[lo+i], err)
			}
			meta, err := decodeMetadata(fields["metadata"])
			if err != nil {
				return nil, fmt.Errorf("record %q: %w", keys[lo+i], err)
			}
			matches = append(matches, Match{
				Key:      keys[lo+i],
				Text:     fields["text"],
				Metadata: meta,
				Score:    s.opts.Metric.Score(vector, vec),
			})
		}
	}
	return rank(s.opts.Metric, matches, k), nil
}

// Delete removes records in one MULTI/EXEC.
func (s *RedisStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	hashes := make([]string, len(keys))
	for i, k := range keys {
		members[i] = k
		hashes[i] = s.recordKey(k)
	}
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, hashes...)
			pipe.ZRem(ctx, s.orderKey(), members...)
			return nil
		})
		return err
	})
}

// Count returns the size of the key set.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.client.ZCard(ctx, s.orderKey()).Result()
		return err
	})
	return int(n), err
}

// Has checks every record hash in one pipeline.
func (s *RedisStore) Has(ctx context.Context, keys []string) ([]bool, error) {
	out := make([]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	err := withRetry(ctx, func(ctx context.Context) error {
		cmds := make([]*redis.IntCmd, len(keys))
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, k := range keys {
				cmds[i] = pipe.Exists(ctx, s.recordKey(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i, cmd := range cmds {
			out[i] = cmd.Val() > 0
		}
		return nil
	})
	return out, err
}

func (s *RedisStore) Dimensions() int { return s.opts.Dimensions }
func (s *RedisStore) Metric() Metric  { return s.opts.Metric }

// Close is a no-op; the factory owns the client.
func (s *RedisStore) Close() error { return nil }

// drop deletes every key of the store.
func (s *RedisStore) drop(ctx context.Context) error {
	var keys []string
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		keys, err = s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
		return err
	})
	if err != nil {
		return err
	}
	all := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		all = append(all, s.recordKey(k))
	}
	all = append(all, s.orderKey(), s.infoKey())
	return withRetry(ctx, func(ctx context.Context) error {
		return s.client.Del(ctx, all...).Err()
	})
}

// withRetry retries transient Redis failures with exponential backoff.
func withRetry(ctx context.Context, op func(context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if isTransientRedis(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransientRedis(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "connection pool timeout") {
		return true
	}
	return strings.HasPrefix(msg, "LOADING") || strings.HasPrefix(msg, "TRYAGAIN") || strings.HasPrefix(msg, "BUSY")
}

// RedisFactory opens stores on one shared client.
type RedisFactory struct {
	client *redis.Client
	prefix string
}

// NewRedisFactory connects lazily; the first command dials.
func NewRedisFactory(opts RedisOptions) *RedisFactory {
	if opts.Prefix == "" {
		opts.Prefix = "indexify"
	}
	return &RedisFactory{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Address,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		prefix: opts.Prefix,
	}
}

func (f *RedisFactory) Kind() string { return KindRedis }

func (f *RedisFactory) Location(index string) string {
	return f.prefix + ":idx:" + index
}

func (f *RedisFactory) Open(ctx context.Context, opts Options) (VectorStore, error) {
	return NewRedisStore(ctx, f.client, opts)
}

func (f *RedisFactory) Remove(ctx context.Context, opts Options) error {
	if opts.Location == "" {
		return nil
	}
	s := &RedisStore{client: f.client, opts: opts, ns: opts.Location}
	return s.drop(ctx)
}

// Ping checks connectivity.
func (f *RedisFactory) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close closes the shared client.
func (f *RedisFactory) Close() error {
	return f.client.Close()
}
