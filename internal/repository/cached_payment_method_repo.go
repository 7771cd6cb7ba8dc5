package repository

import (
	"context"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
)

const (
	paymentMethodKeyPrefix = "payment_method:id:"
	paymentMethodCacheTTL  = 5 * time.Minute
)

// CachedPaymentMethodRepository fronts payment method lookups with Redis.
// Settlement only reads methods, so entries are dropped by TTL alone.
type CachedPaymentMethodRepository struct {
	store domain.PaymentMethodRepository
	cache *RedisCache
}

func NewCachedPaymentMethodRepository(store domain.PaymentMethodRepository, cache *RedisCache) *CachedPaymentMethodRepository {
	return &CachedPaymentMethodRepository{
		store: store,
		cache: cache,
	}
}

func (r *CachedPaymentMethodRepository) GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	key := paymentMethodKeyPrefix + id

	var method domain.PaymentMethod
	if err := r.cache.Get(ctx, key, &method); err == nil {
		return &method, nil
	}

	result, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// cache errors never fail the lookup
	_ = r.cache.Set(ctx, key, result, paymentMethodCacheTTL)
	return result, nil
}

func (r *CachedPaymentMethodRepository) Create(ctx context.Context, method *domain.PaymentMethod) error {
	if err := r.store.Create(ctx, method); err != nil {
		return err
	}
	_ = r.cache.Delete(ctx, paymentMethodKeyPrefix+method.ID)
	return nil
}
