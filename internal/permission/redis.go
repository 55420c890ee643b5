package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mattjoyce/telbridge/internal/dispatch"
	backend "github.com/redis/go-redis/v9"
)

// RedisStore keeps grants as fields of one hash, so a device-management system can
// flip them with a single HSET.
type RedisStore struct {
	client *backend.Client
	prefix string
}

type Option func(*RedisStore)

// WithPrefix sets the key prefix for the grants hash.
func WithPrefix(prefix string) Option {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore creates a store connected to address.
func NewRedisStore(address, password string, db int, opts ...Option) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(rdb, opts...)
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...Option) *RedisStore {
	s := &RedisStore{client: client, prefix: "telbridge:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key() string {
	return s.prefix + "grants"
}

func (s *RedisStore) Granted(ctx context.Context, p dispatch.Permission) (bool, error) {
	val, err := s.client.HGet(ctx, s.key(), string(p)).Result()
	if errors.Is(err, backend.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query permission %s: %w", p, err)
	}
	return parseGranted(val), nil
}

func (s *RedisStore) Set(ctx context.Context, p dispatch.Permission, granted bool) error {
	if err := s.client.HSet(ctx, s.key(), string(p), strconv.FormatBool(granted)).Err(); err != nil {
		return fmt.Errorf("set permission %s: %w", p, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Grant, error) {
	all, err := s.client.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	out := make([]Grant, 0, len(all))
	for name, val := range all {
		out = append(out, Grant{Permission: dispatch.Permission(name), Granted: parseGranted(val)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Permission < out[j].Permission })
	return out, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseGranted(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "granted", "yes":
		return true
	default:
		return false
	}
}
