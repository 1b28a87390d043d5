package game

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a single-process Store used by tests and by the API when
// CLICKER_STORE=memory. Updates for one user are serialized by a per-user
// mutex; different users never contend on it.
type MemoryStore struct {
	clock Clock

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	users    map[string]User
	states   map[string]State
	upgrades []Upgrade
	owned    map[string]map[string]Ownership
	sessions map[string]memSession
	idem     map[string]map[string]string
}

type memSession struct {
	userID    string
	expiresAt time.Time
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = RealClock{}
	}
	return &MemoryStore{
		clock:    clock,
		locks:    make(map[string]*sync.Mutex),
		users:    make(map[string]User),
		states:   make(map[string]State),
		owned:    make(map[string]map[string]Ownership),
		sessions: make(map[string]memSession),
		idem:     make(map[string]map[string]string),
	}
}

func (m *MemoryStore) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

func (m *MemoryStore) GetState(_ context.Context, userID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (m *MemoryStore) CreateState(_ context.Context, st State) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.states[st.UserID]; ok {
		return existing.Clone(), nil
	}
	st = st.Clone()
	st.Normalize()
	st.UpdatedAt = m.clock.Now()
	m.states[st.UserID] = st
	return st.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx, st *State) error) (State, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	cur, ok := m.states[userID]
	m.mu.Unlock()
	if !ok {
		return State{}, ErrStateNotFound
	}

	work := cur.Clone()
	tx := &memTx{store: m, userID: userID}
	if err := fn(ctx, tx, &work); err != nil {
		return cur.Clone(), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	work.UserID = userID
	work.UpdatedAt = m.clock.Now()
	m.states[userID] = work
	if len(tx.claims) > 0 {
		keys := m.idem[userID]
		if keys == nil {
			keys = make(map[string]string)
			m.idem[userID] = keys
		}
		for k, action := range tx.claims {
			keys[k] = action
		}
	}
	for _, p := range tx.purchases {
		owned := m.owned[userID]
		if owned == nil {
			owned = make(map[string]Ownership)
			m.owned[userID] = owned
		}
		o, ok := owned[p.UpgradeID]
		if ok {
			o.TimesUsed++
			o.PurchasedAt = p.PurchasedAt
		} else {
			o = p
		}
		owned[p.UpgradeID] = o
	}
	return work.Clone(), nil
}

type memTx struct {
	store     *MemoryStore
	userID    string
	claims    map[string]string
	purchases []Ownership
}

func (t *memTx) ClaimIdempotency(_ context.Context, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if _, ok := t.claims[key]; ok {
		return ErrDuplicateIdempotency
	}
	t.store.mu.Lock()
	_, seen := t.store.idem[t.userID][key]
	t.store.mu.Unlock()
	if seen {
		return ErrDuplicateIdempotency
	}
	if t.claims == nil {
		t.claims = make(map[string]string)
	}
	t.claims[key] = action
	return nil
}

func (t *memTx) Upgrade(_ context.Context, upgradeID string) (Upgrade, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, u := range t.store.upgrades {
		if u.ID == upgradeID {
			return u, nil
		}
	}
	return Upgrade{}, ErrUpgradeNotFound
}

func (t *memTx) Owns(_ context.Context, upgradeID string) (bool, error) {
	for _, p := range t.purchases {
		if p.UpgradeID == upgradeID {
			return true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.owned[t.userID][upgradeID]
	return ok, nil
}

func (t *memTx) RecordPurchase(_ context.Context, upgradeID string, at time.Time) error {
	t.purchases = append(t.purchases, Ownership{
		UserID:      t.userID,
		UpgradeID:   upgradeID,
		PurchasedAt: at,
		TimesUsed:   1,
	})
	return nil
}

func (m *MemoryStore) SeedUpgrades(_ context.Context, upgrades []Upgrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.upgrades) > 0 {
		return nil
	}
	m.upgrades = append([]Upgrade(nil), upgrades...)
	return nil
}

func (m *MemoryStore) Upgrades(_ context.Context) ([]Upgrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Upgrade(nil), m.upgrades...), nil
}

func (m *MemoryStore) Owned(_ context.Context, userID string) ([]Ownership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Ownership, 0, len(m.owned[userID]))
	for _, o := range m.owned[userID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpgradeID < out[j].UpgradeID })
	return out, nil
}

func (m *MemoryStore) EnsureUser(_ context.Context, in LoginInput, newID string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if in.TelegramID != "" && u.TelegramID == in.TelegramID {
			return u, false, nil
		}
		if in.TelegramID == "" && u.TelegramID == "" && strings.EqualFold(u.Username, in.Username) {
			return u, false, nil
		}
	}
	u := User{
		ID:         newID,
		Username:   in.Username,
		TelegramID: in.TelegramID,
		Platform:   normalizePlatform(in.Platform),
		CreatedAt:  m.clock.Now(),
	}
	m.users[u.ID] = u
	return u, true, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	m.sessions[token] = memSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) SessionUser(_ context.Context, token string, now time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok || !now.Before(s.expiresAt) {
		return User{}, ErrUnauthorized
	}
	u, ok := m.users[s.userID]
	if !ok {
		return User{}, ErrUnauthorized
	}
	return u, nil
}

func (m *MemoryStore) AutoClickerUsers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, st := range m.states {
		if st.AutoClickerActive() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Leaderboard(_ context.Context, metric LeaderboardMetric, limit int) ([]LeaderboardRow, error) {
	m.mu.Lock()
	states := make([]State, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	names := make(map[string]string, len(m.users))
	for id, u := range m.users {
		names[id] = u.Username
	}
	m.mu.Unlock()

	sort.Slice(states, func(i, j int) bool {
		a, b := MetricValue(states[i], metric), MetricValue(states[j], metric)
		if a != b {
			return a > b
		}
		if metric == MetricPrestige && states[i].PrestigePoints != states[j].PrestigePoints {
			return states[i].PrestigePoints > states[j].PrestigePoints
		}
		return states[i].UserID < states[j].UserID
	})
	if limit > 0 && len(states) > limit {
		states = states[:limit]
	}
	out := make([]LeaderboardRow, 0, len(states))
	for i, st := range states {
		out = append(out, LeaderboardRow{
			Rank:          int64(i + 1),
			UserID:        st.UserID,
			Username:      names[st.UserID],
			Value:         MetricValue(st, metric),
			PrestigeLevel: st.PrestigeLevel,
		})
	}
	return out, nil
}
