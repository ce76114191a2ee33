package stacks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline-backend/pkg/db/models"
	"github.com/faultline-io/faultline-backend/pkg/logger"
)

// SignatureCache is the cache surface the resolver needs.
type SignatureCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SignatureCacheKey(projectID, signatureHash, stackingVersion string) string
}

// Resolver maps (project, signature) to an existing stack, backed by a
// bounded-TTL cache in front of the store.
type Resolver struct {
	repo  Repository
	cache SignatureCache
	ttl   time.Duration
	logg  *logger.Logger
}

// NewResolver builds a resolver with the configured cache TTL.
func NewResolver(repo Repository, cache SignatureCache, ttl time.Duration, logg *logger.Logger) *Resolver {
	return &Resolver{repo: repo, cache: cache, ttl: ttl, logg: logg}
}

// Resolve returns the stack for the signature or ErrStackNotFound so the
// caller creates one. Cache errors degrade to store lookups.
func (r *Resolver) Resolve(ctx context.Context, projectID uuid.UUID, signatureHash string) (*models.Stack, error) {
	key := r.cache.SignatureCacheKey(projectID.String(), signatureHash, StackingVersion)

	if cached, err := r.cache.Get(ctx, key); err == nil && cached != "" {
		if stackID, parseErr := uuid.Parse(cached); parseErr == nil {
			stack, findErr := r.repo.FindByID(ctx, stackID)
			if findErr == nil {
				return stack, nil
			}
			if !errors.Is(findErr, ErrStackNotFound) {
				return nil, findErr
			}
			// stale cache entry, fall through to the signature lookup
			_ = r.cache.Del(ctx, key)
		}
	}

	stack, err := r.repo.FindBySignature(ctx, projectID, signatureHash)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, key, stack.ID.String(), r.ttl); err != nil {
		r.logg.Warn(r.logg.WithStackID(ctx, stack.ID.String()), "caching stack signature failed")
	}
	return stack, nil
}

// Invalidate drops the cache entry for a signature. Counter merges call this
// instead of refreshing so the next resolve reads the merged row.
func (r *Resolver) Invalidate(ctx context.Context, projectID uuid.UUID, signatureHash string) error {
	key := r.cache.SignatureCacheKey(projectID.String(), signatureHash, StackingVersion)
	return r.cache.Del(ctx, key)
}
