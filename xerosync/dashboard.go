package xerosync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
)

const (
	summaryCacheTTL  = 60 * time.Second
	detailedCacheTTL = 30 * time.Second
)

type cache interface {
	Get(key string, dest interface{}) bool
	Set(key string, value interface{}, ttl time.Duration)
	Invalidate(prefix string)
}

// redisCache caches through the shared Redis client and keeps a small local
// map as a fallback so the dashboard stays usable when Redis is down.
type redisCache struct {
	local *memoryCache
}

func newDashboardCache() cache {
	return &redisCache{local: newMemoryCache()}
}

func (c *redisCache) Get(key string, dest interface{}) bool {
	if config.GetRedisDB() != nil {
		found, err := config.GetRedisObject(key, dest)
		if err == nil && found {
			return true
		}
		return false
	}
	return c.local.Get(key, dest)
}

func (c *redisCache) Set(key string, value interface{}, ttl time.Duration) {
	if config.GetRedisDB() != nil {
		_ = config.SetRedisObject(key, value, ttl)
		return
	}
	c.local.Set(key, value, ttl)
}

func (c *redisCache) Invalidate(prefix string) {
	c.local.Invalidate(prefix)
	rdb := config.GetRedisDB()
	if rdb == nil {
		return
	}
	ctx := context.Background()
	iter := rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		_ = config.RemoveRedisKey(keys...)
	}
}

// memoryCache is a lazy-expiry map: entries past their deadline are dropped
// on read.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(key string, dest interface{}) bool {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(entry.data, dest) == nil
}

func (c *memoryCache) Set(key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) Invalidate(prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (s *Service) dashboardCachePrefix() string {
	return "XeroSyncDashboard:" + s.businessID + ":"
}

// dashboardCacheKey folds every filter into the key so two different filter
// sets never share a cache entry.
func (s *Service) dashboardCacheKey(f DashboardFilters) string {
	raw, _ := json.Marshal(f)
	sum := sha256.Sum256(raw)
	return s.dashboardCachePrefix() + hex.EncodeToString(sum[:16])
}

// normalizeView translates the view token into the underlying filters.
// Unknown tokens are rejected rather than silently served as "all".
func normalizeView(f DashboardFilters) (DashboardFilters, error) {
	switch f.View {
	case "", ViewAll:
	case ViewSummary:
		f.SummaryOnly = true
	case ViewErrors:
		if f.Status == "" {
			f.Status = models.SyncLogStatusError
		}
	case ViewConflicts:
	default:
		return f, &ValidationError{Reason: "unknown view " + f.View}
	}
	return f, nil
}

// Dashboard aggregates the audit log into the sync health view. Summary-only
// responses cache for a minute; detailed responses for thirty seconds.
func (s *Service) Dashboard(ctx context.Context, f DashboardFilters) (*DashboardResponse, error) {
	f, err := normalizeView(f)
	if err != nil {
		return nil, err
	}

	key := s.dashboardCacheKey(f)
	var cached DashboardResponse
	if s.cache.Get(key, &cached) {
		return &cached, nil
	}

	summary, err := s.logs.Summary(ctx, f)
	if err != nil {
		return nil, err
	}
	pendingConflicts, err := s.conflicts.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	summary.PendingConflicts = pendingConflicts

	resp := &DashboardResponse{Summary: summary}
	ttl := summaryCacheTTL

	if f.View == ViewConflicts {
		// Conflicts-focused view: summary plus the pending conflicts,
		// without the log listing.
		ttl = detailedCacheTTL
		conflicts, err := s.PendingConflicts(ctx, 100)
		if err != nil {
			return nil, err
		}
		resp.Conflicts = conflicts
		s.cache.Set(key, resp, ttl)
		return resp, nil
	}

	if !f.SummaryOnly {
		ttl = detailedCacheTTL

		breakdown, err := s.logs.EntityBreakdown(ctx, f)
		if err != nil {
			return nil, err
		}
		resp.EntityBreakdown = breakdown

		entries, total, err := s.logs.List(ctx, f)
		if err != nil {
			return nil, err
		}
		logs := make([]LogEntryResponse, 0, len(entries))
		for _, entry := range entries {
			logs = append(logs, LogEntryResponse{
				ID:               entry.ID,
				Timestamp:        entry.Timestamp.Format(time.RFC3339),
				Direction:        entry.Direction,
				Entity:           entry.Entity,
				Status:           entry.Status,
				RecordsProcessed: entry.RecordsProcessed,
				RecordsSucceeded: entry.RecordsSucceeded,
				RecordsSkipped:   entry.RecordsSkipped,
				RecordsFailed:    entry.RecordsFailed,
				Message:          entry.Message,
				DurationMs:       entry.DurationMs,
				TriggeredBy:      entry.TriggeredBy,
			})
		}
		resp.Logs = logs

		conflicts, err := s.PendingConflicts(ctx, 20)
		if err != nil {
			return nil, err
		}
		resp.Conflicts = conflicts

		page := f.Page
		if page <= 0 {
			page = 1
		}
		limit := f.Limit
		if limit <= 0 {
			limit = 20
		}
		totalPages := int(total) / limit
		if int(total)%limit != 0 {
			totalPages++
		}
		resp.Pagination = &Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
	}

	s.cache.Set(key, resp, ttl)
	return resp, nil
}

// InvalidateDashboard drops cached dashboard entries after a run or a
// resolution so the next read reflects the new state.
func (s *Service) InvalidateDashboard() {
	s.cache.Invalidate(s.dashboardCachePrefix())
}
