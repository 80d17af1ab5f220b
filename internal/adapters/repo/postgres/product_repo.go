package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/phenrril/pharmastore/internal/domain"
)

type ProductRepo struct{ db *gorm.DB }

func NewProductRepo(db *gorm.DB) *ProductRepo { return &ProductRepo{db: db} }

// Append inserts a new product and returns its generated id.
func (r *ProductRepo) Append(ctx context.Context, p *domain.Product) (string, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Brand == "" {
		p.Brand = domain.DefaultBrand
	}
	if p.Category == "" {
		p.Category = domain.DefaultCategory
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return "", err
	}
	return p.ID.String(), nil
}

func (r *ProductRepo) Delete(ctx context.Context, id string) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return domain.ErrNotFound
	}
	res := r.db.WithContext(ctx).Delete(&domain.Product{}, "id = ?", pid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProductRepo) CountSince(ctx context.Context, pharmacyID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("pharmacy_id = ? AND created_at >= ?", pharmacyID, since).
		Count(&n).Error
	return n, err
}

func (r *ProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var p domain.Product
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepo) List(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int64, error) {
	var list []domain.Product
	q := r.db.WithContext(ctx).Model(&domain.Product{})
	if f.PharmacyID != "" {
		q = q.Where("pharmacy_id = ?", f.PharmacyID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if query := strings.TrimSpace(f.Query); query != "" {
		like := "%" + query + "%"
		q = q.Where("LOWER(name) LIKE LOWER(?) OR LOWER(category) LIKE LOWER(?) OR LOWER(brand) LIKE LOWER(?)", like, like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	switch f.Sort {
	case "price_desc":
		q = q.Order("price desc")
	case "price_asc":
		q = q.Order("price asc")
	case "name":
		q = q.Order("name asc")
	default:
		q = q.Order("created_at desc")
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	offset := (f.Page - 1) * f.PageSize
	if err := q.Offset(offset).Limit(f.PageSize).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *ProductRepo) DistinctCategories(ctx context.Context, pharmacyID string) ([]string, error) {
	cats := []string{}
	q := r.db.WithContext(ctx).Model(&domain.Product{}).Distinct("category").Where("category <> ''")
	if pharmacyID != "" {
		q = q.Where("pharmacy_id = ?", pharmacyID)
	}
	if err := q.Order("category asc").Pluck("category", &cats).Error; err != nil {
		return nil, err
	}
	return cats, nil
}
