package movelog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/blundrbot/internal/domain"
)

// memrepo keeps served moves in memory when no database is configured. It
// holds at most capacity records, dropping the oldest.
type memrepo struct {
	mu       sync.RWMutex
	nextID   int64
	capacity int
	records  []*domain.MoveRecord
	byReq    map[string]struct{}
}

const defaultMemoryCapacity = 1000

func NewMemoryRepository(capacity int) Repository {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &memrepo{capacity: capacity, byReq: make(map[string]struct{})}
}

func (m *memrepo) EnsureSchema(context.Context) error { return nil }

func (m *memrepo) Insert(_ context.Context, rec *domain.MoveRecord) (int64, error) {
	if rec == nil {
		return 0, ErrDuplicateRequest
	}
	key := strings.TrimSpace(rec.RequestID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byReq[key]; exists && key != "" {
		return 0, ErrDuplicateRequest
	}
	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	cp.RecentMoves = append([]string(nil), rec.RecentMoves...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	rec.ID = cp.ID
	rec.CreatedAt = cp.CreatedAt

	m.records = append(m.records, &cp)
	if key != "" {
		m.byReq[key] = struct{}{}
	}
	if len(m.records) > m.capacity {
		evicted := m.records[0]
		delete(m.byReq, strings.TrimSpace(evicted.RequestID))
		m.records = m.records[1:]
	}
	return cp.ID, nil
}

func (m *memrepo) Recent(_ context.Context, limit int) ([]*domain.MoveRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	m.mu.RLock()
	items := make([]*domain.MoveRecord, 0, len(m.records))
	for _, r := range m.records {
		cp := *r
		items = append(items, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) Stats(context.Context) (*domain.MoveStats, error) {
	stats := &domain.MoveStats{ByBackend: map[string]int64{}, ByStatus: map[string]int64{}}
	var latency time.Duration

	m.mu.RLock()
	for _, r := range m.records {
		stats.Total++
		if r.Fallback {
			stats.Fallbacks++
		}
		if !r.Scored {
			stats.Unscored++
		}
		stats.ByBackend[r.Backend]++
		stats.ByStatus[r.GameStatus]++
		latency += r.Latency
	}
	m.mu.RUnlock()

	if stats.Total > 0 {
		stats.AvgLatency = latency / time.Duration(stats.Total)
	}
	return stats, nil
}
