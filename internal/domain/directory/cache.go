package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/hms/hms/internal/platform/db"
)

// CachedStore keeps successful lookups for a TTL. Entries are keyed by
// tenant so hospitals never see each other's records. Errors are not cached.
type CachedStore struct {
	next  Store
	cache *cache.Cache
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, cache: cache.New(ttl, 2*ttl)}
}

func key(ctx context.Context, kind string, id uuid.UUID) string {
	return db.TenantFromContext(ctx) + "/" + kind + "/" + id.String()
}

func lookup[T any](ctx context.Context, c *cache.Cache, kind string, id uuid.UUID, load func(context.Context, uuid.UUID) (*T, error)) (*T, error) {
	k := key(ctx, kind, id)
	if v, ok := c.Get(k); ok {
		return v.(*T), nil
	}
	v, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.SetDefault(k, v)
	return v, nil
}

func (s *CachedStore) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return lookup(ctx, s.cache, "patient", id, s.next.Patient)
}

func (s *CachedStore) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return lookup(ctx, s.cache, "doctor", id, s.next.Doctor)
}

func (s *CachedStore) Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return lookup(ctx, s.cache, "appointment", id, s.next.Appointment)
}

// Flush drops every cached entry.
func (s *CachedStore) Flush() { s.cache.Flush() }
