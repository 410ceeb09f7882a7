package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrkniai/backend/internal/models"
)

type recordKey struct {
	kind  models.GenerationKind
	jobID string
}

// MemoryStore implements the generation, credit and subscription repositories in memory
// for tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	generations   map[recordKey]models.GenerationRecord
	credits       map[string]models.CreditBalance
	subscriptions []models.Subscription
	now           func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		generations: make(map[recordKey]models.GenerationRecord),
		credits:     make(map[string]models.CreditBalance),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Save(_ context.Context, rec models.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{kind: rec.Kind(), jobID: rec.JobID()}
	switch g := rec.(type) {
	case *models.ImageGeneration:
		next := *g
		if prev, ok := s.generations[key].(*models.ImageGeneration); ok {
			if prev.UserID != g.UserID {
				return ErrConflict
			}
			if next.Assets == nil {
				next.Assets = prev.Assets
			}
			next.CreatedAt = prev.CreatedAt
		}
		next.Assets = copyAssets(next.Assets, &next)
		s.generations[key] = &next
	case *models.VideoGeneration:
		next := *g
		if prev, ok := s.generations[key].(*models.VideoGeneration); ok {
			if prev.UserID != g.UserID {
				return ErrConflict
			}
			next.ID = prev.ID
			next.CreatedAt = prev.CreatedAt
		}
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		s.generations[key] = &next
	default:
		return fmt.Errorf("save generation: unsupported record %T", rec)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string, kind models.GenerationKind, jobID string) (models.GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.generations[recordKey{kind: kind, jobID: jobID}]
	if !ok || rec.OwnerID() != userID {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]models.GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.GenerationRecord
	for _, rec := range s.generations {
		if rec.OwnerID() == userID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created().After(out[j].Created()) })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string, kind models.GenerationKind, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{kind: kind, jobID: jobID}
	rec, ok := s.generations[key]
	if !ok || rec.OwnerID() != userID {
		return ErrNotFound
	}
	delete(s.generations, key)
	return nil
}

func (s *MemoryStore) getCredits(userID string) (models.CreditBalance, error) {
	b, ok := s.credits[userID]
	if !ok {
		return models.CreditBalance{}, ErrNotFound
	}
	return b, nil
}

// Credits returns a CreditRepository view of the store.
func (s *MemoryStore) Credits() CreditRepository { return memoryCredits{s} }

// Subscriptions returns a SubscriptionRepository view of the store.
func (s *MemoryStore) Subscriptions() SubscriptionRepository { return memorySubscriptions{s} }

type memoryCredits struct{ s *MemoryStore }

func (m memoryCredits) Get(_ context.Context, userID string) (models.CreditBalance, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.s.getCredits(userID)
}

func (m memoryCredits) Init(_ context.Context, balance models.CreditBalance) (models.CreditBalance, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if existing, ok := m.s.credits[balance.UserID]; ok {
		return existing, nil
	}
	balance.UpdatedAt = m.s.now()
	m.s.credits[balance.UserID] = balance
	return balance, nil
}

func (m memoryCredits) Set(_ context.Context, balance models.CreditBalance) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	balance.UpdatedAt = m.s.now()
	m.s.credits[balance.UserID] = balance
	return nil
}

func (m memoryCredits) Decrement(_ context.Context, userID string, kind models.GenerationKind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("decrement credits: unknown kind %q", kind)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	b, ok := m.s.credits[userID]
	if !ok {
		return 0, ErrInsufficientCredits
	}
	counter := &b.ImageCredits
	if kind == models.KindVideo {
		counter = &b.VideoCredits
	}
	if *counter <= 0 {
		return 0, ErrInsufficientCredits
	}
	*counter--
	b.UpdatedAt = m.s.now()
	m.s.credits[userID] = b
	return *counter, nil
}

type memorySubscriptions struct{ s *MemoryStore }

func (m memorySubscriptions) GetActive(_ context.Context, userID string) (models.Subscription, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, sub := range m.s.subscriptions {
		if sub.UserID == userID && sub.Status == models.SubscriptionActive {
			return sub, nil
		}
	}
	return models.Subscription{}, ErrNotFound
}

func (m memorySubscriptions) Activate(_ context.Context, sub models.Subscription) (models.Subscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	now := m.s.now()
	m.s.cancelActiveLocked(sub.UserID, now)

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.PeriodStart.IsZero() {
		sub.PeriodStart = now
	}
	sub.Status = models.SubscriptionActive
	sub.CreatedAt = now
	sub.UpdatedAt = now
	m.s.subscriptions = append(m.s.subscriptions, sub)
	return sub, nil
}

func (m memorySubscriptions) CancelActive(_ context.Context, userID string, at time.Time) (models.Subscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	sub, ok := m.s.cancelActiveLocked(userID, at.UTC())
	if !ok {
		return models.Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *MemoryStore) cancelActiveLocked(userID string, at time.Time) (models.Subscription, bool) {
	for i := range s.subscriptions {
		sub := &s.subscriptions[i]
		if sub.UserID != userID || sub.Status != models.SubscriptionActive {
			continue
		}
		sub.Status = models.SubscriptionCanceled
		if sub.PeriodEnd == nil {
			end := at
			sub.PeriodEnd = &end
		}
		sub.UpdatedAt = at
		return *sub, true
	}
	return models.Subscription{}, false
}

func copyAssets(assets []models.GeneratedAsset, g *models.ImageGeneration) []models.GeneratedAsset {
	if assets == nil {
		return nil
	}
	out := make([]models.GeneratedAsset, len(assets))
	for i, a := range assets {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.GenerationID = g.ID
		a.UserID = g.UserID
		out[i] = a
	}
	return out
}

func cloneRecord(rec models.GenerationRecord) models.GenerationRecord {
	switch g := rec.(type) {
	case *models.ImageGeneration:
		c := *g
		c.Assets = append([]models.GeneratedAsset(nil), g.Assets...)
		return &c
	case *models.VideoGeneration:
		c := *g
		return &c
	}
	return rec
}

var _ GenerationRepository = (*MemoryStore)(nil)
