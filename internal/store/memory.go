package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"jobchommie/listing-service/internal/model"
)

// ErrUnitClosed is returned when a committed or rolled back unit is reused.
var ErrUnitClosed = errors.New("unit of work already closed")

// Memory is an in-process store used for local runs (STORE_DRIVER=memory)
// and tests. Units of work stage their writes privately and publish them
// under the store lock on Commit.
type Memory struct {
	mu       sync.RWMutex
	listings []model.Listing
	byKey    map[model.DedupKey]int
	runs     []model.Run
	nextJob  int64
	nextRun  int64
}

func NewMemory() *Memory {
	return &Memory{byKey: make(map[model.DedupKey]int)}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Begin(context.Context) (UnitOfWork, error) {
	return &memUnit{m: m, staged: make(map[model.DedupKey]int)}, nil
}

// Listings returns a copy of every committed listing in insertion order.
func (m *Memory) Listings() []model.Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Listing(nil), m.listings...)
}

// Runs returns a copy of the committed run ledger in insertion order.
func (m *Memory) Runs() []model.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Run(nil), m.runs...)
}

func (m *Memory) ListListings(_ context.Context, q model.ListingQuery) (model.ListingPage, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	matched := make([]model.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		if needle == "" || strings.Contains(strings.ToLower(l.Title), needle) {
			matched = append(matched, l)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := model.ListingPage{Total: len(matched), Items: []model.Listing{}}
	start := q.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := len(matched)
	if q.Limit < end-start {
		end = start + q.Limit
	}
	page.Items = append(page.Items, matched[start:end]...)
	return page, nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]model.Run, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, m.runs[i])
	}
	return runs, nil
}

type memUnit struct {
	m        *Memory
	listings []model.Listing
	staged   map[model.DedupKey]int
	runs     []model.Run
	closed   bool
}

func (u *memUnit) FindByKey(_ context.Context, key model.DedupKey) (model.Listing, bool, error) {
	if u.closed {
		return model.Listing{}, false, ErrUnitClosed
	}
	if i, ok := u.staged[key]; ok {
		return u.listings[i], true, nil
	}

	u.m.mu.RLock()
	defer u.m.mu.RUnlock()
	if i, ok := u.m.byKey[key]; ok {
		return u.m.listings[i], true, nil
	}
	return model.Listing{}, false, nil
}

func (u *memUnit) InsertListing(_ context.Context, l *model.Listing) error {
	if u.closed {
		return ErrUnitClosed
	}
	if strings.TrimSpace(l.Title) == "" {
		return errors.New("listing title is required")
	}
	key := l.Key()
	if _, ok := u.staged[key]; ok {
		return errors.Wrapf(ErrDuplicateKey, "insert %q", l.Title)
	}

	u.m.mu.Lock()
	u.m.nextJob++
	l.ID = u.m.nextJob
	u.m.mu.Unlock()

	u.staged[key] = len(u.listings)
	u.listings = append(u.listings, *l)
	return nil
}

func (u *memUnit) InsertRun(_ context.Context, r *model.Run) error {
	if u.closed {
		return ErrUnitClosed
	}
	u.m.mu.Lock()
	u.m.nextRun++
	r.ID = u.m.nextRun
	u.m.mu.Unlock()

	u.runs = append(u.runs, *r)
	return nil
}

// Commit publishes every staged write at once, or none of them when a
// staged listing collides with one committed in the meantime.
func (u *memUnit) Commit(context.Context) error {
	if u.closed {
		return ErrUnitClosed
	}
	u.closed = true

	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	for key := range u.staged {
		if _, ok := u.m.byKey[key]; ok {
			return errors.Wrapf(ErrDuplicateKey, "commit %q", key.Title)
		}
	}
	for _, l := range u.listings {
		u.m.byKey[l.Key()] = len(u.m.listings)
		u.m.listings = append(u.m.listings, l)
	}
	u.m.runs = append(u.m.runs, u.runs...)
	return nil
}

func (u *memUnit) Rollback(context.Context) error {
	u.closed = true
	u.listings = nil
	u.runs = nil
	u.staged = map[model.DedupKey]int{}
	return nil
}
