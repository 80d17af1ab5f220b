package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/phenrril/pharmastore/internal/domain"
)

type PharmacyRepo struct{ db *gorm.DB }

func NewPharmacyRepo(db *gorm.DB) *PharmacyRepo { return &PharmacyRepo{db: db} }

func (r *PharmacyRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Pharmacy, error) {
	var p domain.Pharmacy
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PharmacyRepo) Save(ctx context.Context, p *domain.Pharmacy) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Email != "" {
		p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	}
	return r.db.WithContext(ctx).Save(p).Error
}
