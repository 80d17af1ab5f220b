package imagesearch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/phenrril/pharmastore/internal/domain"
)

// Chain asks each searcher in turn and returns the first non-empty answer.
type Chain []domain.ImageSearcher

func NewChain(searchers ...domain.ImageSearcher) Chain {
	c := Chain{}
	for _, s := range searchers {
		if s == nil {
			continue
		}
		// a disabled *Client is a typed nil
		if cl, ok := s.(*Client); ok && !cl.IsEnabled() {
			continue
		}
		c = append(c, s)
	}
	return c
}

func (c Chain) Search(ctx context.Context, query string) ([]string, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("no image searcher configured")
	}
	var errs []error
	for i, s := range c {
		urls, err := s.Search(ctx, query)
		if err == nil && len(urls) > 0 {
			return urls, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			log.Debug().Err(err).Int("searcher", i).Str("query", query).Msg("image searcher failed")
			errs = append(errs, err)
		}
	}
	return nil, errors.Join(errs...)
}
