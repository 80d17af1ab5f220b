package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pharmacy is the seller account products are ingested for and quotas are tracked against.
type Pharmacy struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:140;not null" json:"name"`
	Email     string    `gorm:"size:140;index" json:"email"`
	Phone     string    `gorm:"size:60" json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
}
