package store

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/rainbot/rainbot/internal/models"
)

// CachedStore fronts another ConfigStore with an expiring LRU. Updates
// replace the cached document with the one the backend returns.
//
// Every write bumps a per-guild generation. A fill or update only caches its
// document if no other write started after it did, so a slow read can never
// replace a newer document.
type CachedStore struct {
	inner ConfigStore
	data  *expirable.LRU[string, *models.GuildConfig]
	group singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

func NewCachedStore(inner ConfigStore, capacity int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner: inner,
		data:  expirable.NewLRU[string, *models.GuildConfig](capacity, nil, ttl),
		gen:   map[string]uint64{},
	}
}

func (s *CachedStore) GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	if cfg, ok := s.data.Get(guildID); ok {
		return cfg, nil
	}
	// concurrent first reads share one load so the default document is
	// only materialised once
	v, err, _ := s.group.Do(guildID, func() (any, error) {
		gen := s.generation(guildID)
		cfg, err := s.inner.GetGuildConfig(ctx, guildID)
		if err != nil {
			return nil, err
		}
		s.store(guildID, gen, cfg)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.GuildConfig), nil
}

func (s *CachedStore) UpdateGuildConfig(ctx context.Context, guildID string, ops ...Op) (*models.GuildConfig, error) {
	gen := s.bump(guildID)
	cfg, err := s.inner.UpdateGuildConfig(ctx, guildID, ops...)
	if err != nil {
		s.data.Remove(guildID)
		return nil, err
	}
	s.store(guildID, gen, cfg)
	return cfg, nil
}

func (s *CachedStore) AllGuildConfigs(ctx context.Context) ([]*models.GuildConfig, error) {
	return s.inner.AllGuildConfigs(ctx)
}

// Purge drops a guild from the cache, e.g. when the bot leaves it.
func (s *CachedStore) Purge(guildID string) {
	s.bump(guildID)
	s.data.Remove(guildID)
}

func (s *CachedStore) generation(guildID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[guildID]
}

func (s *CachedStore) bump(guildID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[guildID]++
	return s.gen[guildID]
}

// store caches cfg only if gen is still the latest generation.
func (s *CachedStore) store(guildID string, gen uint64, cfg *models.GuildConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[guildID] == gen {
		s.data.Add(guildID, cfg)
	}
}
