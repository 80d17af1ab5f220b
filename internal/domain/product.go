package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBrand        = "Unknown"
	DefaultCategory     = "General"
	ExpressDeliveryTime = "90 min express"
)

type ProductSource string

const (
	SourceSheet  ProductSource = "sheet"
	SourceUpload ProductSource = "upload"
)

type Product struct {
	ID                   uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Name                 string        `gorm:"size:180;not null" json:"name" validate:"required"`
	Image                string        `gorm:"size:1024;not null" json:"image" validate:"required,url"`
	Price                float64       `gorm:"type:decimal(12,2);not null;default:0" json:"price" validate:"gte=0"`
	OriginalPrice        float64       `gorm:"type:decimal(12,2);not null;default:0" json:"originalPrice" validate:"gte=0"`
	Brand                string        `gorm:"size:100;default:Unknown" json:"brand"`
	Category             string        `gorm:"size:100;default:General;index" json:"category"`
	ExpiryDate           *string       `gorm:"size:40" json:"expiryDate"`
	ProductAmount        int           `gorm:"type:int;not null;default:1" json:"productAmount" validate:"gte=1"`
	Description          string        `gorm:"type:text" json:"description"`
	Rating               float64       `gorm:"type:decimal(3,2);default:0" json:"rating"`
	ReviewCount          int           `gorm:"type:int;default:0" json:"reviewCount"`
	InStock              bool          `gorm:"default:true" json:"inStock"`
	DeliveryTime         string        `gorm:"size:40" json:"deliveryTime"`
	Tags                 []string      `gorm:"type:jsonb;serializer:json" json:"tags"`
	PharmacyName         string        `gorm:"size:140" json:"pharmacyName" validate:"required"`
	PharmacyID           string        `gorm:"size:64;index:idx_products_pharmacy_created,priority:1" json:"pharmacyId" validate:"required"`
	PrescriptionRequired bool          `gorm:"default:false" json:"prescriptionRequired"`
	Source               ProductSource `gorm:"size:20" json:"source"`
	CreatedAt            time.Time     `gorm:"index:idx_products_pharmacy_created,priority:2" json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

type ProductFilter struct {
	PharmacyID string
	Category   string
	Query      string
	Sort       string
	Page       int
	PageSize   int
}
