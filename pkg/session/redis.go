package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
	"github.com/matzehuels/pipescope/pkg/graph"
)

// RedisOptions configures a [RedisStore].
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "pipescope:"
	TTL      time.Duration // expiration of saved sessions, 0 keeps them forever
}

// RedisStore keeps sessions in redis. Each session is one JSON value; a set
// indexes the names so List does not need SCAN.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "pipescope:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: opts.TTL}, nil
}

func (s *RedisStore) sessionKey(name string) string { return s.prefix + "session:" + name }
func (s *RedisStore) indexKey() string              { return s.prefix + "sessions" }

func (s *RedisStore) Save(ctx context.Context, name string, doc graph.Document) error {
	if err := perrors.ValidateSessionName(name); err != nil {
		return err
	}
	data, err := json.Marshal(newRecord(name, doc))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(name), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %q to redis: %w", name, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, name string) (graph.Document, error) {
	if err := perrors.ValidateSessionName(name); err != nil {
		return graph.Document{}, err
	}
	data, err := s.client.Get(ctx, s.sessionKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return graph.Document{}, notFound(name)
		}
		return graph.Document{}, fmt.Errorf("load session %q from redis: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return graph.Document{}, perrors.Wrap(perrors.ErrCodeInvalidFormat, err, "parse session %q", name)
	}
	return rec.Document, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Info, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	slices.Sort(names)

	infos := []Info{}
	if len(names) == 0 {
		return infos, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.sessionKey(n)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var expired []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Expired by TTL; drop it from the index.
			expired = append(expired, names[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		infos = append(infos, rec.Info)
	}
	if len(expired) > 0 {
		s.client.SRem(ctx, s.indexKey(), expired...)
	}
	slices.SortFunc(infos, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := perrors.ValidateSessionName(name); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(name))
	pipe.SRem(ctx, s.indexKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %q: %w", name, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

var _ Store = (*RedisStore)(nil)
