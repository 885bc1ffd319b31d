package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lukasbauer/callguard/internal/lang"
)

var (
	ErrMissingID        = errors.New("conversation: missing session id")
	ErrNotFound         = errors.New("conversation: session not found")
	ErrHistoryRewritten = errors.New("conversation: turn history may only be appended to")
)

// Store is the session registry shared by every webhook turn.
//
// Update runs fn with exclusive access to one session; updates to different
// sessions proceed in parallel. Readers only ever observe committed sessions.
type Store interface {
	// Create registers a session for id unless one already exists. created is
	// false when the existing session was returned untouched.
	Create(ctx context.Context, id, caller string, l lang.Language) (s Session, created bool, err error)
	Get(id string) (Session, bool)
	// Update applies fn to a working copy of the session and commits it when fn
	// returns nil. fn may append turns but never edit or drop them.
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)
	List() []Session
	Len() int
	// Active counts sessions that have not terminated.
	Active() int
	// Sweep evicts sessions idle since before now minus the idle TTL and
	// returns how many were removed. Sessions with an update in flight stay.
	Sweep(now time.Time) int
}

type entry struct {
	// sem serializes updates; a buffered channel so waiters can give up on ctx.
	sem     chan struct{}
	session Session
	touched time.Time
}

// MemoryStore is an in-process Store. Sessions do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	idleTTL time.Duration
	now     func() time.Time
}

// NewMemoryStore returns an empty store. idleTTL <= 0 disables eviction.
func NewMemoryStore(idleTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (m *MemoryStore) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	m.now = now
}

func (m *MemoryStore) Create(ctx context.Context, id, caller string, l lang.Language) (Session, bool, error) {
	if id == "" {
		return Session{}, false, ErrMissingID
	}
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		return e.session.Clone(), false, nil
	}

	if !l.Valid() {
		l = lang.Default
	}
	now := m.now()
	s := Session{
		ID:        id,
		Caller:    caller,
		Turns:     []Turn{},
		Language:  l,
		State:     StateNew,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.entries[id] = &entry{sem: make(chan struct{}, 1), session: s, touched: now}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Session{}, false
	}
	return e.session.Clone(), true
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	if id == "" {
		return Session{}, ErrMissingID
	}

	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return Session{}, fmt.Errorf("conversation: waiting for session %s: %w", id, ctx.Err())
	}
	defer func() { <-e.sem }()

	m.mu.RLock()
	current, stillThere := m.entries[id]
	before := e.session.Clone()
	m.mu.RUnlock()
	if !stillThere || current != e {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	working := before.Clone()
	if err := fn(&working); err != nil {
		return Session{}, err
	}
	if !isPrefixOf(before.Turns, working.Turns) {
		return Session{}, fmt.Errorf("%w: %s", ErrHistoryRewritten, id)
	}
	working.ID = before.ID
	working.CreatedAt = before.CreatedAt
	working.Version = before.Version + 1

	m.mu.Lock()
	now := m.now()
	working.UpdatedAt = now
	e.session = working
	e.touched = now
	m.mu.Unlock()

	return working.Clone(), nil
}

// List returns every session, oldest first.
func (m *MemoryStore) List() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.session.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !e.session.State.IsTerminal() {
			n++
		}
	}
	return n
}

func (m *MemoryStore) Sweep(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, e := range m.entries {
		if now.Sub(e.touched) <= m.idleTTL {
			continue
		}
		// Non-blocking: a session mid-update is busy, not idle.
		select {
		case e.sem <- struct{}{}:
			delete(m.entries, id)
			<-e.sem
			evicted++
		default:
		}
	}
	return evicted
}

var _ Store = (*MemoryStore)(nil)
