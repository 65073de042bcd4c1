package pricestore

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// State is the per-holding staleness state.
type State int

const (
	StateEmpty State = iota
	StateFresh
	StateStale
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "empty"
	}
}

// Entry is the latest normalized quote for one holding.
type Entry struct {
	Holding   string          `json:"holding"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Status is an entry with its staleness metadata, for status queries.
type Status struct {
	Entry
	State State         `json:"state"`
	Age   time.Duration `json:"age"`
}

// Store is the shared price cache. Failed resolutions never evict: readers
// always see the last-known value until a newer one lands.
type Store interface {
	Get(holding string) (Entry, State, bool)
	// Put writes the entry unless a newer one is already present.
	// Returns whether the write happened.
	Put(e Entry) bool
	Snapshot() []Status
}

// Memory is the in-process store. Entries are replaced whole under the
// write lock, so readers never observe a half-written quote.
type Memory struct {
	threshold time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory(threshold time.Duration) *Memory {
	if threshold <= 0 {
		threshold = 15 * time.Minute
	}
	return &Memory{threshold: threshold, now: time.Now, entries: make(map[string]Entry)}
}

func (m *Memory) state(e Entry) State {
	if m.now().Sub(e.FetchedAt) >= m.threshold {
		return StateStale
	}
	return StateFresh
}

func (m *Memory) Get(holding string) (Entry, State, bool) {
	m.mu.RLock()
	e, ok := m.entries[holding]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, StateEmpty, false
	}
	return e, m.state(e), true
}

func (m *Memory) Put(e Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e.Holding]; ok && cur.FetchedAt.After(e.FetchedAt) {
		return false
	}
	m.entries[e.Holding] = e
	return true
}

func (m *Memory) Snapshot() []Status {
	m.mu.RLock()
	now := m.now()
	out := make([]Status, 0, len(m.entries))
	for _, e := range m.entries {
		st := StateFresh
		if now.Sub(e.FetchedAt) >= m.threshold {
			st = StateStale
		}
		out = append(out, Status{Entry: e, State: st, Age: now.Sub(e.FetchedAt)})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Holding < out[j].Holding })
	return out
}
