package samlsp

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/peopledoc/samlsp/models/core"
)

// OutstandingRequestStore tracks the IDs of requests this service provider
// has issued and not yet seen answered. Entries expire on their own after
// the configured TTL.
//
// Take must be atomic: when several responses carry the same InResponseTo,
// exactly one Take succeeds and the rest report ErrUnknownRequest.
type OutstandingRequestStore interface {
	// Put registers an issued request ID together with the local return
	// target recorded at login time.
	Put(ctx context.Context, requestID, cameFrom string) error

	// Take consumes the entry for requestID and returns its return target.
	// Unknown, expired, or already consumed IDs report ErrUnknownRequest.
	Take(ctx context.Context, requestID string) (string, error)
}

// SessionBinding ties a local application session to the SAML subject it
// was established for. It carries what single logout needs later.
type SessionBinding struct {
	SessionID    string
	UserID       string
	NameID       string
	NameIDFormat core.NameIDFormat
	SessionIndex string
	IdPEntityID  string
}

// SessionBindingStore persists session bindings for the lifetime of the
// local session.
type SessionBindingStore interface {
	// Set stores the binding keyed by its session ID.
	Set(ctx context.Context, binding *SessionBinding) error

	// Get returns the binding for sessionID, or ErrNoSessionBinding.
	Get(ctx context.Context, sessionID string) (*SessionBinding, error)

	// Delete removes the binding for sessionID. Deleting an absent binding
	// is not an error.
	Delete(ctx context.Context, sessionID string) error
}

var (
	_ OutstandingRequestStore = (*MemoryOutstandingRequestStore)(nil)
	_ SessionBindingStore     = (*MemorySessionBindingStore)(nil)
)

// MemoryOutstandingRequestStore keeps outstanding requests in process
// memory with automatic expiry. Suitable for single-instance deployments;
// replicated deployments should use the redisstore package instead.
type MemoryOutstandingRequestStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryOutstandingRequestStore creates a store whose entries expire
// after ttl.
func NewMemoryOutstandingRequestStore(ttl time.Duration) *MemoryOutstandingRequestStore {
	return &MemoryOutstandingRequestStore{
		c: gocache.New(ttl, time.Minute),
	}
}

func (s *MemoryOutstandingRequestStore) Put(ctx context.Context, requestID, cameFrom string) error {
	s.c.SetDefault(requestID, cameFrom)
	return nil
}

// Take consumes the entry under a lock, so concurrent takers of the same
// request ID see exactly one winner.
func (s *MemoryOutstandingRequestStore) Take(ctx context.Context, requestID string) (string, error) {
	const op = "samlsp.MemoryOutstandingRequestStore.Take"

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.c.Get(requestID)
	if !ok {
		return "", fmt.Errorf("%s: request %q: %w", op, requestID, ErrUnknownRequest)
	}
	s.c.Delete(requestID)

	cameFrom, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected entry type %T: %w", op, v, ErrInternal)
	}

	return cameFrom, nil
}

// MemorySessionBindingStore keeps session bindings in process memory.
type MemorySessionBindingStore struct {
	c *gocache.Cache
}

func NewMemorySessionBindingStore() *MemorySessionBindingStore {
	return &MemorySessionBindingStore{
		c: gocache.New(gocache.NoExpiration, 0),
	}
}

func (s *MemorySessionBindingStore) Set(ctx context.Context, binding *SessionBinding) error {
	const op = "samlsp.MemorySessionBindingStore.Set"

	if binding == nil || binding.SessionID == "" {
		return fmt.Errorf("%s: missing session ID: %w", op, ErrInvalidParameter)
	}

	b := *binding // store a copy, callers may reuse the struct
	s.c.SetDefault(binding.SessionID, &b)

	return nil
}

func (s *MemorySessionBindingStore) Get(ctx context.Context, sessionID string) (*SessionBinding, error) {
	const op = "samlsp.MemorySessionBindingStore.Get"

	v, ok := s.c.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("%s: session %q: %w", op, sessionID, ErrNoSessionBinding)
	}
	b, ok := v.(*SessionBinding)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected entry type %T: %w", op, v, ErrInternal)
	}

	cp := *b
	return &cp, nil
}

func (s *MemorySessionBindingStore) Delete(ctx context.Context, sessionID string) error {
	s.c.Delete(sessionID)
	return nil
}
