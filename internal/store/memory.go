package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rainbot/rainbot/internal/models"
)

// MemStore keeps documents in process memory. Used for tests and DEV_MODE.
type MemStore struct {
	mu   sync.Mutex
	docs map[string]*models.GuildConfig
}

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]*models.GuildConfig)}
}

func (s *MemStore) GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.getLocked(guildID))
}

func (s *MemStore) UpdateGuildConfig(ctx context.Context, guildID string, ops ...Op) (*models.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working, err := clone(s.getLocked(guildID))
	if err != nil {
		return nil, err
	}
	if _, err := ApplyOps(working, ops...); err != nil {
		return nil, err
	}
	s.docs[guildID] = working
	return clone(working)
}

func (s *MemStore) AllGuildConfigs(ctx context.Context) ([]*models.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*models.GuildConfig, 0, len(ids))
	for _, id := range ids {
		c, err := clone(s.docs[id])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemStore) getLocked(guildID string) *models.GuildConfig {
	doc, ok := s.docs[guildID]
	if !ok {
		doc = models.DefaultGuildConfig(guildID)
		s.docs[guildID] = doc
	}
	return doc
}

func clone(cfg *models.GuildConfig) (*models.GuildConfig, error) {
	buf, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var out models.GuildConfig
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
