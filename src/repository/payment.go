package repository

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

// IntentStore persists payment intents. Updates are compare-and-swap on Version.
type IntentStore interface {
	Create(ctx context.Context, p domain.PaymentIntent) error
	Get(ctx context.Context, id string) (domain.PaymentIntent, error)
	List(ctx context.Context, merchantID string, filter domain.IntentFilter) ([]domain.PaymentIntent, error)
	CompareAndSwap(ctx context.Context, p domain.PaymentIntent, expectedVersion int64) error
	Chain(ctx context.Context, rootID string) ([]domain.PaymentIntent, error)
	FindByProviderRef(ctx context.Context, provider domain.Provider, ref string) (domain.PaymentIntent, error)
	FindByIdempotencyKey(ctx context.Context, merchantID, key string) (domain.PaymentIntent, error)
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	intents map[string]domain.PaymentIntent
}

func NewPaymentRepository() IntentStore {
	r := &paymentRepository{}
	for i := range r.shards {
		r.shards[i] = &shard{intents: make(map[string]domain.PaymentIntent)}
	}
	return r
}

type paymentRepository struct {
	shards [shardCount]*shard

	// keyMu guards the (merchant, idempotency key) uniqueness check on Create.
	keyMu sync.Mutex
}

func (r *paymentRepository) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

func (r *paymentRepository) Create(ctx context.Context, p domain.PaymentIntent) error {
	if p.IdempotencyKey != "" {
		r.keyMu.Lock()
		defer r.keyMu.Unlock()
		if _, err := r.FindByIdempotencyKey(ctx, p.MerchantID, p.IdempotencyKey); err == nil {
			return domain.ErrDuplicateIdempotencyKey
		}
	}

	s := r.shardFor(p.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[p.ID]; ok {
		return domain.ErrVersionConflict
	}
	s.intents[p.ID] = p
	return nil
}

func (r *paymentRepository) Get(_ context.Context, id string) (domain.PaymentIntent, error) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.intents[id]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	return p, nil
}

func (r *paymentRepository) CompareAndSwap(_ context.Context, p domain.PaymentIntent, expectedVersion int64) error {
	s := r.shardFor(p.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.intents[p.ID]
	if !ok {
		return domain.ErrIntentNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	s.intents[p.ID] = p
	return nil
}

func (r *paymentRepository) List(_ context.Context, merchantID string, filter domain.IntentFilter) ([]domain.PaymentIntent, error) {
	out := r.collect(func(p domain.PaymentIntent) bool {
		return p.MerchantID == merchantID && filter.Match(p)
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *paymentRepository) Chain(_ context.Context, rootID string) ([]domain.PaymentIntent, error) {
	out := r.collect(func(p domain.PaymentIntent) bool { return p.RootID() == rootID })
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (r *paymentRepository) FindByProviderRef(_ context.Context, provider domain.Provider, ref string) (domain.PaymentIntent, error) {
	found := r.collect(func(p domain.PaymentIntent) bool {
		return p.Provider == provider && p.ProviderRef == ref && ref != ""
	})
	if len(found) == 0 {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	return found[0], nil
}

func (r *paymentRepository) FindByIdempotencyKey(_ context.Context, merchantID, key string) (domain.PaymentIntent, error) {
	found := r.collect(func(p domain.PaymentIntent) bool {
		return p.MerchantID == merchantID && p.IdempotencyKey == key && key != ""
	})
	if len(found) == 0 {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	return found[0], nil
}

func (r *paymentRepository) collect(match func(domain.PaymentIntent) bool) []domain.PaymentIntent {
	var out []domain.PaymentIntent
	for _, s := range r.shards {
		s.mu.RLock()
		for _, p := range s.intents {
			if match(p) {
				out = append(out, p)
			}
		}
		s.mu.RUnlock()
	}
	return out
}
