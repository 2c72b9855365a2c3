// Package redisstore backs the provider's outstanding request and session
// binding stores with Redis, so replicated deployments share one view of
// which requests are in flight and which sessions are bound.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peopledoc/samlsp"
)

const defaultKeyPrefix = "samlsp:"

// Config configures the Redis connection and key layout.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password authenticates the connection when set.
	Password string

	// DB selects the Redis database.
	DB int

	// KeyPrefix namespaces every key this store writes. It defaults to
	// "samlsp:".
	KeyPrefix string

	// OutstandingTTL bounds how long an unanswered request stays
	// correlatable. It defaults to samlsp.DefaultOutstandingTTL.
	OutstandingTTL time.Duration
}

// Store implements samlsp.OutstandingRequestStore and
// samlsp.SessionBindingStore on a shared Redis instance.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var (
	_ samlsp.OutstandingRequestStore = (*Store)(nil)
	_ samlsp.SessionBindingStore     = (*Store)(nil)
)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	const op = "redisstore.New"

	if cfg.Addr == "" {
		return nil, fmt.Errorf("%s: no address provided: %w", op, samlsp.ErrInvalidParameter)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to reach redis: %w", op, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	ttl := cfg.OutstandingTTL
	if ttl <= 0 {
		ttl = samlsp.DefaultOutstandingTTL
	}

	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) requestKey(requestID string) string {
	return s.prefix + "req:" + requestID
}

func (s *Store) bindingKey(sessionID string) string {
	return s.prefix + "bind:" + sessionID
}

// Put registers an outstanding request. The entry expires on its own after
// the configured TTL.
func (s *Store) Put(ctx context.Context, requestID, cameFrom string) error {
	const op = "redisstore.Store.Put"

	if requestID == "" {
		return fmt.Errorf("%s: no request ID provided: %w", op, samlsp.ErrInvalidParameter)
	}

	if err := s.client.Set(ctx, s.requestKey(requestID), cameFrom, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Take consumes an outstanding request. GETDEL keeps lookup and removal a
// single command, so replicas racing for the same response see exactly one
// winner.
func (s *Store) Take(ctx context.Context, requestID string) (string, error) {
	const op = "redisstore.Store.Take"

	cameFrom, err := s.client.GetDel(ctx, s.requestKey(requestID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", fmt.Errorf("%s: request %q: %w", op, requestID, samlsp.ErrUnknownRequest)
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return cameFrom, nil
}

// Set stores the binding keyed by its session ID. Bindings do not expire;
// they live until Delete removes them with the session.
func (s *Store) Set(ctx context.Context, binding *samlsp.SessionBinding) error {
	const op = "redisstore.Store.Set"

	if binding == nil || binding.SessionID == "" {
		return fmt.Errorf("%s: missing session ID: %w", op, samlsp.ErrInvalidParameter)
	}

	raw, err := json.Marshal(binding)
	if err != nil {
		return fmt.Errorf("%s: failed to encode binding: %w", op, err)
	}

	if err := s.client.Set(ctx, s.bindingKey(binding.SessionID), raw, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Get returns the binding recorded for sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (*samlsp.SessionBinding, error) {
	const op = "redisstore.Store.Get"

	raw, err := s.client.Get(ctx, s.bindingKey(sessionID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: session %q: %w", op, sessionID, samlsp.ErrNoSessionBinding)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	binding := &samlsp.SessionBinding{}
	if err := json.Unmarshal(raw, binding); err != nil {
		return nil, fmt.Errorf("%s: failed to decode binding: %w", op, err)
	}

	return binding, nil
}

// Delete removes the binding for sessionID. Deleting an absent binding is
// not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	const op = "redisstore.Store.Delete"

	if err := s.client.Del(ctx, s.bindingKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
