package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis keeps each collection in one hash under "<prefix>:<collection>".
// Pattern keys come from an INCR counter.
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedis(opts RedisOptions) *Redis {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "momentum"
	}
	return &Redis{
		rdb: goredis.NewClient(&goredis.Options{
			Addr:        opts.Addr,
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: 5 * time.Second,
		}),
		prefix: prefix,
	}
}

func (r *Redis) key(c Collection) string { return r.prefix + ":" + string(c) }
func (r *Redis) seqKey() string          { return r.prefix + ":" + string(Patterns) + ":seq" }

func (r *Redis) Init(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, c Collection, key string) (json.RawMessage, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	doc, err := r.rdb.HGet(ctx, r.key(c), key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

func (r *Redis) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	all, err := r.rdb.HGetAll(ctx, r.key(c)).Result()
	if err != nil {
		return nil, err
	}
	res := make([]Record, 0, len(all))
	for k, v := range all {
		res = append(res, Record{Key: k, Value: json.RawMessage(v)})
	}
	if c.AutoKey() {
		sort.Slice(res, func(i, j int) bool {
			a, _ := strconv.ParseInt(res[i].Key, 10, 64)
			b, _ := strconv.ParseInt(res[j].Key, 10, 64)
			return a < b
		})
	} else {
		sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	}
	return res, nil
}

func (r *Redis) Add(ctx context.Context, c Collection, key string, value json.RawMessage) (string, error) {
	if err := c.valid(); err != nil {
		return "", err
	}
	if c.AutoKey() {
		id, err := r.rdb.Incr(ctx, r.seqKey()).Result()
		if err != nil {
			return "", fmt.Errorf("next pattern id: %w", err)
		}
		key = strconv.FormatInt(id, 10)
	}
	ok, err := r.rdb.HSetNX(ctx, r.key(c), key, string(value)).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrExists
	}
	return key, nil
}

func (r *Redis) Update(ctx context.Context, c Collection, key string, value json.RawMessage) error {
	if err := c.valid(); err != nil {
		return err
	}
	return r.rdb.HSet(ctx, r.key(c), key, string(value)).Err()
}

func (r *Redis) Delete(ctx context.Context, c Collection, key string) error {
	if err := c.valid(); err != nil {
		return err
	}
	return r.rdb.HDel(ctx, r.key(c), key).Err()
}

func (r *Redis) Clear(ctx context.Context, c Collection) error {
	if err := c.valid(); err != nil {
		return err
	}
	return r.rdb.Del(ctx, r.key(c)).Err()
}

func (r *Redis) DeleteDatabase(ctx context.Context) error {
	keys := []string{r.seqKey()}
	for _, c := range Collections {
		keys = append(keys, r.key(c))
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *Redis) Close() error { return r.rdb.Close() }
