package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is the in-process arena backing both the "memory" driver and
// (with a persist hook) the "file" driver.
//
// The persist hook runs after every state change while the lock is
// held. When it fails the mutation stays applied: in-memory state is
// authoritative until the next successful write.
type memStore struct {
	mu          sync.RWMutex
	items       map[int64]*Item
	nextID      int64
	campaign    *Campaign
	publishMark time.Time

	persist func() error
}

// NewMemory returns a non-durable store.
func NewMemory() Store {
	return newMem()
}

func newMem() *memStore {
	return &memStore{items: map[int64]*Item{}, nextID: 1}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) commit() error {
	if m.persist == nil {
		return nil
	}
	return m.persist()
}

func (m *memStore) sortedLocked() []Item {
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) Items(ctx context.Context) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked(), nil
}

func (m *memStore) Item(ctx context.Context, id int64) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return *it, nil
}

func (m *memStore) NextDue(ctx context.Context) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Item
	for _, it := range m.items {
		if it.Posted || it.Skipped || it.Error != "" {
			continue
		}
		if best == nil || it.ID < best.ID {
			best = it
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) MarkPosted(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.Skipped {
		return ErrItemSkipped
	}
	it.Posted = true
	postedAt := at
	it.PostedAt = &postedAt
	it.Error = ""
	return m.commit()
}

func (m *memStore) MarkFailed(ctx context.Context, id int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Error = msg
	it.Posted = false
	it.PostedAt = nil
	return m.commit()
}

func (m *memStore) MarkSkipped(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if it.Posted {
		return ErrItemPosted
	}
	it.Skipped = true
	it.ScheduledAt = nil
	it.Error = ""
	return m.commit()
}

func (m *memStore) SkipAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Posted || it.Skipped {
			continue
		}
		it.Skipped = true
		it.ScheduledAt = nil
		it.Error = ""
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, m.commit()
}

func (m *memStore) ClearErrors(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Error != "" {
			it.Error = ""
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, m.commit()
}

func (m *memStore) Ingest(ctx context.Context, drafts []Draft) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	added := make([]Item, 0, len(drafts))
	for _, d := range drafts {
		it := &Item{
			ID:            m.nextID,
			Name:          d.Name,
			Category:      d.Category,
			Location:      d.Location,
			Revenue:       d.Revenue,
			MonthlyProfit: d.MonthlyProfit,
			ProfitMargin:  d.ProfitMargin,
			PromoText:     d.PromoText,
		}
		m.nextID++
		m.items[it.ID] = it
		added = append(added, *it)
	}
	return added, m.commit()
}

func (m *memStore) ApplySchedule(ctx context.Context, plan map[int64]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if at, ok := plan[id]; ok {
			slot := at
			it.ScheduledAt = &slot
		} else {
			it.ScheduledAt = nil
		}
	}
	return m.commit()
}

func (m *memStore) Campaign(ctx context.Context) (*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.campaign == nil {
		return nil, nil
	}
	cp := *m.campaign
	return &cp, nil
}

func (m *memStore) SaveCampaign(ctx context.Context, c Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaign = &c
	return m.commit()
}

func (m *memStore) PublishMark(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publishMark, nil
}

func (m *memStore) SavePublishMark(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishMark = at
	return m.commit()
}
