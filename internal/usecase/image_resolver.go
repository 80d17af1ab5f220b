package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/phenrril/pharmastore/internal/domain"
	"github.com/phenrril/pharmastore/internal/retry"
)

var errNoCandidates = errors.New("no image candidates")

// ImageResolver finds a product image URL for a free-text name, retrying the
// search collaborator with a fixed delay. Exhausted retries yield "" and no error.
type ImageResolver struct {
	Searcher domain.ImageSearcher
	Delay    time.Duration
	cache    *lru.Cache[string, string]
}

func NewImageResolver(searcher domain.ImageSearcher, delay time.Duration, cacheSize int) *ImageResolver {
	r := &ImageResolver{Searcher: searcher, Delay: delay}
	if cacheSize > 0 {
		// only fails on a non-positive size
		r.cache, _ = lru.New[string, string](cacheSize)
	}
	return r
}

func (r *ImageResolver) Resolve(ctx context.Context, query string, maxAttempts int) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", nil
	}
	key := strings.ToLower(q)
	if r.cache != nil {
		if u, ok := r.cache.Get(key); ok {
			return u, nil
		}
	}

	policy := retry.Policy{MaxAttempts: maxAttempts, Delay: r.Delay, Exhausted: retry.Soft}
	u, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		urls, err := r.Searcher.Search(ctx, q)
		if err != nil {
			log.Warn().Err(err).Str("query", q).Int("attempt", attempt).Msg("image search failed")
			return "", err
		}
		if len(urls) == 0 || strings.TrimSpace(urls[0]) == "" {
			log.Warn().Str("query", q).Int("attempt", attempt).Msg("image search returned no candidates")
			return "", errNoCandidates
		}
		return urls[0], nil
	})
	if err != nil {
		return "", err
	}
	if u != "" && r.cache != nil {
		r.cache.Add(key, u)
	}
	return u, nil
}

// Forget drops a cached URL, used when the cached image stopped being reachable.
func (r *ImageResolver) Forget(query string) {
	if r.cache != nil {
		r.cache.Remove(strings.ToLower(strings.TrimSpace(query)))
	}
}
