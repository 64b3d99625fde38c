package auth

import (
	"context"
	"sync"
)

// Storage is the persistence port for API keys and their usage stats.
// Lookups return nil, nil when the key is unknown.
type Storage interface {
	SaveKey(ctx context.Context, info *ApiKeyInfo) error
	GetKey(ctx context.Context, key string) (*ApiKeyInfo, error)
	SaveStats(ctx context.Context, key string, stats *ApiKeyStats) error
	GetStats(ctx context.Context, key string) (*ApiKeyStats, error)
	Close() error
}

// MemoryStorage keeps keys and stats in maps. Default backend when no
// Redis address is configured.
type MemoryStorage struct {
	mu    sync.RWMutex
	keys  map[string]*ApiKeyInfo
	stats map[string]*ApiKeyStats
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		keys:  make(map[string]*ApiKeyInfo),
		stats: make(map[string]*ApiKeyStats),
	}
}

func (s *MemoryStorage) SaveKey(ctx context.Context, info *ApiKeyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *info
	s.keys[info.Key] = &c
	return nil
}

func (s *MemoryStorage) GetKey(ctx context.Context, key string) (*ApiKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.keys[key]
	if !ok {
		return nil, nil
	}
	c := *info
	return &c, nil
}

func (s *MemoryStorage) SaveStats(ctx context.Context, key string, stats *ApiKeyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *stats
	c.DailyRequests = make(map[string]int64, len(stats.DailyRequests))
	for d, n := range stats.DailyRequests {
		c.DailyRequests[d] = n
	}
	s.stats[key] = &c
	return nil
}

func (s *MemoryStorage) GetStats(ctx context.Context, key string) (*ApiKeyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[key]
	if !ok {
		return nil, nil
	}
	c := *stats
	c.DailyRequests = make(map[string]int64, len(stats.DailyRequests))
	for d, n := range stats.DailyRequests {
		c.DailyRequests[d] = n
	}
	return &c, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
