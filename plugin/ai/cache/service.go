package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/clock"
)

// Config configures a Service.
type Config struct {
	Capacity        int           // maximum number of entries (default: 1000)
	DefaultTTL      time.Duration // default entry lifetime (default: 5m)
	CleanupInterval time.Duration // expired entry sweep interval (default: 1m)
}

func DefaultConfig() Config {
	return Config{
		Capacity:        1000,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Service is a Cache backed by an LRU with a background expiry sweep.
type Service struct {
	lru *LRU

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Cache = (*Service)(nil)

// NewService starts the sweep goroutine; call Close to stop it.
func NewService(cfg Config, c clock.Clock) *Service {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		lru:    NewLRU(cfg.Capacity, cfg.DefaultTTL, c),
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.sweep(ctx, cfg.CleanupInterval)
	return s
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Get(_ context.Context, key string) ([]byte, bool) {
	return s.lru.Get(key)
}

func (s *Service) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.lru.Set(key, value, ttl)
	return nil
}

func (s *Service) Invalidate(_ context.Context, pattern string) error {
	s.lru.Invalidate(pattern)
	return nil
}

func (s *Service) Len() int {
	return s.lru.Len()
}

func (s *Service) sweep(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.lru.RemoveExpired()
		}
	}
}
