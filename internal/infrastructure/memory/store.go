// Package memory keeps the key pool and registrants in process memory.
// It backs STORE_DRIVER=memory and the application tests; state is lost on exit.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/airdrop-bot/internal/domain"
	"github.com/airdrop-bot/internal/pkg/id"
)

// KeyRepo is an in-memory key pool. A single mutex makes ClaimOne an
// indivisible find-and-flip.
type KeyRepo struct {
	mu    sync.Mutex
	keys  []*domain.Key
	index map[string]*domain.Key
}

func NewKeyRepo() *KeyRepo {
	return &KeyRepo{index: make(map[string]*domain.Key)}
}

func (r *KeyRepo) Seed(ctx context.Context, keys []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) > 0 {
		return 0, nil
	}
	seen := make(map[string]struct{}, len(keys))
	for _, v := range keys {
		if _, ok := seen[v]; ok {
			return 0, fmt.Errorf("duplicate key %q: %w", v, domain.ErrBadRequest)
		}
		seen[v] = struct{}{}
	}
	now := time.Now().UTC()
	for _, v := range keys {
		k := &domain.Key{ID: id.New(), Value: v, CreatedAt: now}
		r.keys = append(r.keys, k)
		r.index[v] = k
	}
	return len(keys), nil
}

// ClaimOne claims the oldest unclaimed key.
func (r *KeyRepo) ClaimOne(ctx context.Context) (*domain.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.Claimed {
			continue
		}
		now := time.Now().UTC()
		k.Claimed = true
		k.ClaimedAt = &now
		out := *k
		return &out, nil
	}
	return nil, domain.ErrPoolExhausted
}

func (r *KeyRepo) Release(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.index[value]
	if !ok {
		return fmt.Errorf("key not found: %w", domain.ErrNotFound)
	}
	k.Claimed = false
	k.ClaimedAt = nil
	return nil
}

func (r *KeyRepo) Stats(ctx context.Context) (domain.PoolStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.PoolStats{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := domain.PoolStats{Total: len(r.keys)}
	for _, k := range r.keys {
		if k.Claimed {
			st.Claimed++
		}
	}
	st.Available = st.Total - st.Claimed
	return st, nil
}

// Snapshot returns copies of all key records in seed order.
func (r *KeyRepo) Snapshot() []domain.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Key, len(r.keys))
	for i, k := range r.keys {
		out[i] = *k
	}
	return out
}

// RegistrantRepo is an in-memory registrant table keyed by external user id.
type RegistrantRepo struct {
	mu          sync.RWMutex
	registrants map[string]domain.Registrant
}

func NewRegistrantRepo() *RegistrantRepo {
	return &RegistrantRepo{registrants: make(map[string]domain.Registrant)}
}

func (r *RegistrantRepo) HasClaimed(ctx context.Context, externalUserID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.registrants[externalUserID]
	return ok, nil
}

func (r *RegistrantRepo) Create(ctx context.Context, reg *domain.Registrant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registrants[reg.ExternalUserID]; ok {
		return fmt.Errorf("registrant %s: %w", reg.ExternalUserID, domain.ErrDuplicateRegistrant)
	}
	r.registrants[reg.ExternalUserID] = *reg
	return nil
}

// Get returns the registrant for an identity.
func (r *RegistrantRepo) Get(ctx context.Context, externalUserID string) (*domain.Registrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrants[externalUserID]
	if !ok {
		return nil, fmt.Errorf("registrant not found: %w", domain.ErrNotFound)
	}
	return &reg, nil
}
