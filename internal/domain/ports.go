package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ProductRepo interface {
	Append(ctx context.Context, p *Product) (string, error)
	Delete(ctx context.Context, id string) error
	CountSince(ctx context.Context, pharmacyID string, since time.Time) (int64, error)
	List(ctx context.Context, f ProductFilter) ([]Product, int64, error)
}

type PharmacyRepo interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Pharmacy, error)
	Save(ctx context.Context, p *Pharmacy) error
}

type SheetFetcher interface {
	Fetch(ctx context.Context, sharingURL string) (string, error)
}

// ImageSearcher looks up candidate image URLs for a free-text product name.
type ImageSearcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

type ImageChecker interface {
	Alive(ctx context.Context, imageURL string) bool
}

type Enricher interface {
	Enrich(ctx context.Context, raw RawRecord, imageURL, model string, maxAttempts int) (NormalizedFields, error)
}

// RunLocker serializes ingestion runs of the same pharmacy.
type RunLocker interface {
	Acquire(ctx context.Context, pharmacyID string) (RunLock, error)
}

type RunLock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

type RunNotifier interface {
	RunFinished(ctx context.Context, pharmacyID string, res *IngestResult) error
}

// RowParser turns exported or uploaded sheet content into raw rows.
type RowParser interface {
	ParseCSV(text string) []RawRecord
	ParseFile(name string, data []byte) ([]RawRecord, error)
}
