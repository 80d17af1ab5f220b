package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/phenrril/pharmastore/internal/domain"
)

const maxPageSize = 100

// ProductUC serves a pharmacy's catalog listing.
type ProductUC struct {
	Products domain.ProductRepo
}

func (uc *ProductUC) List(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int64, error) {
	if strings.TrimSpace(f.PharmacyID) == "" {
		return nil, 0, errors.New("empty pharmacy id")
	}
	if f.PageSize == 0 {
		f.PageSize = 20
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return uc.Products.List(ctx, f)
}

func (uc *ProductUC) Categories(ctx context.Context, pharmacyID string) ([]string, error) {
	if repo, ok := uc.Products.(interface {
		DistinctCategories(context.Context, string) ([]string, error)
	}); ok {
		return repo.DistinctCategories(ctx, pharmacyID)
	}
	return []string{}, nil
}
