// Package profilecache wraps the backend profile client with a
// request-deduplicating cache keyed by subject id.
package profilecache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"agenthq/gateway/internal/backend"
)

// Store is a cache backend for profile records. Only successful lookups are
// cached; absence is never cached so provisioning always sees fresh state.
type Store interface {
	Get(ctx context.Context, subjectID string) (backend.ProfileRecord, bool, error)
	Set(ctx context.Context, subjectID string, record backend.ProfileRecord) error
	Delete(ctx context.Context, subjectID string) error
}

// ProfileClient is the upstream the cache delegates to.
type ProfileClient interface {
	FindProfile(ctx context.Context, subjectID string) (backend.ProfileRecord, error)
	CreateProfile(ctx context.Context, req backend.CreateProfileRequest) (backend.ProfileRecord, error)
}

// Client is a caching decorator around a profile client. Concurrent lookups
// for the same subject share one upstream call.
type Client struct {
	inner ProfileClient
	store Store
	group singleflight.Group
}

func New(inner ProfileClient, store Store) *Client {
	return &Client{inner: inner, store: store}
}

// FindProfile consults the cache first, then the backend. Cache failures are
// logged and ignored: the backend answer still flows to the caller.
func (c *Client) FindProfile(ctx context.Context, subjectID string) (backend.ProfileRecord, error) {
	if record, ok, err := c.store.Get(ctx, subjectID); err == nil && ok {
		return record, nil
	} else if err != nil {
		log.Printf("profilecache: get %s: %v", subjectID, err)
	}

	value, err, _ := c.group.Do(subjectID, func() (any, error) {
		record, err := c.inner.FindProfile(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, subjectID, record); err != nil {
			log.Printf("profilecache: set %s: %v", subjectID, err)
		}
		return record, nil
	})
	if err != nil {
		return backend.ProfileRecord{}, err
	}
	return value.(backend.ProfileRecord), nil
}

// CreateProfile passes through to the backend and, on success, drops the
// cached entry so the next lookup returns the server-assigned record.
func (c *Client) CreateProfile(ctx context.Context, req backend.CreateProfileRequest) (backend.ProfileRecord, error) {
	record, err := c.inner.CreateProfile(ctx, req)
	if err != nil {
		return backend.ProfileRecord{}, err
	}
	if err := c.Invalidate(ctx, req.SubID); err != nil {
		log.Printf("profilecache: invalidate %s: %v", req.SubID, err)
	}
	return record, nil
}

// Invalidate drops the cached record for subjectID.
func (c *Client) Invalidate(ctx context.Context, subjectID string) error {
	return c.store.Delete(ctx, subjectID)
}

// MemoryStore is the default in-process cache backend.
type MemoryStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	record    backend.ProfileRecord
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Get(ctx context.Context, subjectID string) (backend.ProfileRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[subjectID]
	if !ok {
		return backend.ProfileRecord{}, false, nil
	}
	if m.ttl > 0 && time.Now().After(entry.expiresAt) {
		delete(m.entries, subjectID)
		return backend.ProfileRecord{}, false, nil
	}
	return entry.record, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, subjectID string, record backend.ProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[subjectID] = memoryEntry{
		record:    record,
		expiresAt: time.Now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, subjectID)
	return nil
}
