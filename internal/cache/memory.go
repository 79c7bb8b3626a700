package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/meditrek-engine/internal/domain"
)

// DefaultMaxItems bounds the in-process cache.
const DefaultMaxItems = 1000

// MemoryCache is an expiring LRU of adherence states for single-process use.
type MemoryCache struct {
	lru *expirable.LRU[string, *domain.AdherenceState]
}

// NewMemoryCache creates a cache of at most size entries, each living for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultMaxItems
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[string, *domain.AdherenceState](size, nil, ttl)}
}

// Get returns a copy of the cached state.
func (c *MemoryCache) Get(ctx context.Context, patientID string) (*domain.AdherenceState, bool, error) {
	state, ok := c.lru.Get(patientID)
	if !ok {
		return nil, false, nil
	}
	return copyState(state), true, nil
}

// Set stores a copy of state.
func (c *MemoryCache) Set(ctx context.Context, state *domain.AdherenceState) error {
	c.lru.Add(state.PatientID, copyState(state))
	return nil
}

// Invalidate drops the patient's entry.
func (c *MemoryCache) Invalidate(ctx context.Context, patientID string) error {
	c.lru.Remove(patientID)
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

func copyState(s *domain.AdherenceState) *domain.AdherenceState {
	cp := *s
	cp.Badges = make([]domain.BadgeAward, len(s.Badges))
	copy(cp.Badges, s.Badges)
	if s.TimeOfDay != nil {
		cp.TimeOfDay = make(map[string]domain.TimeOfDayStats, len(s.TimeOfDay))
		for k, v := range s.TimeOfDay {
			cp.TimeOfDay[k] = v
		}
	}
	return &cp
}
