// Package sequence issues human-readable identifiers of the form
// PREFIX-YYYYMM-NNNN whose numeric part restarts every calendar month.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Store hands out the next value of a named counter. Implementations must be
// safe for concurrent use and never return the same value twice for a scope.
type Store interface {
	Next(ctx context.Context, scope string) (int64, error)
}

// SeedFunc reports the highest value already in use for scope. It is
// consulted the first time a store sees a scope.
type SeedFunc func(ctx context.Context, scope string) (int64, error)

// Allocator formats counter values for a fixed prefix and width.
type Allocator struct {
	prefix string
	width  int
	store  Store
}

func NewAllocator(prefix string, width int, store Store) *Allocator {
	if width < 1 {
		width = 1
	}
	return &Allocator{prefix: prefix, width: width, store: store}
}

// Prefix returns the identifier prefix, e.g. "INV".
func (a *Allocator) Prefix() string { return a.prefix }

func (a *Allocator) Width() int { return a.width }

// Scope returns the counter scope for the month containing t.
func (a *Allocator) Scope(t time.Time) string {
	return Scope(a.prefix, t)
}

// Next allocates the next identifier for the month containing t.
func (a *Allocator) Next(ctx context.Context, t time.Time) (string, error) {
	scope := a.Scope(t)
	seq, err := a.store.Next(ctx, scope)
	if err != nil {
		return "", errors.Wrapf(err, "allocate %s", scope)
	}
	return Format(a.prefix, t, seq, a.width), nil
}

// Scope returns "PREFIX-YYYYMM".
func Scope(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, t.Format("200601"))
}

// Format renders seq zero-padded to width within the month of t.
func Format(prefix string, t time.Time, seq int64, width int) string {
	return fmt.Sprintf("%s-%0*d", Scope(prefix, t), width, seq)
}

// Parse splits an identifier into its scope and sequence.
func Parse(id string) (scope string, seq int64, ok bool) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}

// MaxSequence returns the largest sequence among ids that belong to scope,
// or 0 when none do.
func MaxSequence(scope string, ids []string) int64 {
	var max int64
	for _, id := range ids {
		s, n, ok := Parse(id)
		if ok && s == scope && n > max {
			max = n
		}
	}
	return max
}

// MemoryStore keeps counters in process. Suitable for a single instance and
// for tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]int64
	seed   SeedFunc
}

func NewMemoryStore(seed SeedFunc) *MemoryStore {
	return &MemoryStore{values: make(map[string]int64), seed: seed}
}

func (s *MemoryStore) Next(ctx context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.values[scope]
	if !ok && s.seed != nil {
		start, err := s.seed(ctx, scope)
		if err != nil {
			return 0, errors.Wrapf(err, "seed %s", scope)
		}
		current = start
	}
	current++
	s.values[scope] = current
	return current, nil
}
