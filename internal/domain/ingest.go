package domain

import (
	"fmt"
)

// RawRecord is one spreadsheet row keyed by its header cell.
type RawRecord map[string]string

// NormalizedFields is the typed product data the AI model produced for one row.
type NormalizedFields struct {
	ProductName   string
	Price         float64
	OriginalPrice float64
	Brand         *string
	Category      *string
	ExpiryDate    *string
	Quantity      int
	Description   string
	Rating        float64
	ReviewCount   int
	Tags          []string
}

type UploadFile struct {
	Name string
	Data []byte
}

type IngestRequest struct {
	PharmacyID   string
	PharmacyName string
	SheetURL     string
	File         *UploadFile
	Model        string
}

func (r IngestRequest) Source() ProductSource {
	if r.File != nil {
		return SourceUpload
	}
	return SourceSheet
}

type RunStatus string

const (
	RunCompleted     RunStatus = "completed"
	RunCancelled     RunStatus = "cancelled"
	RunFailed        RunStatus = "failed"
	RunEmpty         RunStatus = "empty"
	RunQuotaExceeded RunStatus = "quota_exceeded"
)

type FailedProduct struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type IngestResult struct {
	Success            bool            `json:"success"`
	Status             RunStatus       `json:"status"`
	ProcessedCount     int             `json:"processedCount"`
	TotalCount         int             `json:"totalCount"`
	Message            string          `json:"message"`
	TimeTakenSeconds   int             `json:"timeTakenSeconds"`
	UploadedProductIDs []string        `json:"uploadedProductIds"`
	FailedProducts     []FailedProduct `json:"failedProducts"`
}

type Progress struct {
	Current        int `json:"current"`
	Total          int `json:"total"`
	ElapsedSeconds int `json:"elapsedSeconds"`
}

// ProgressFunc is invoked once per admitted row, before the row is processed.
type ProgressFunc func(Progress)

// Admission is a pharmacy's upload quota snapshot taken before a run starts.
type Admission struct {
	CanUpload    bool  `json:"canUpload"`
	DailyCount   int64 `json:"dailyCount"`
	MonthlyCount int64 `json:"monthlyCount"`
	DailyLimit   int64 `json:"dailyLimit"`
	MonthlyLimit int64 `json:"monthlyLimit"`
}

// Cap returns how many of rows this admission lets a run process.
func (a Admission) Cap(rows int) int {
	n := int64(rows)
	if left := a.DailyLimit - a.DailyCount; left < n {
		n = left
	}
	if left := a.MonthlyLimit - a.MonthlyCount; left < n {
		n = left
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

func (a Admission) DenialMessage() string {
	if a.DailyCount >= a.DailyLimit {
		return fmt.Sprintf("Daily limit reached (%d/%d). You can upload more products tomorrow.", a.DailyCount, a.DailyLimit)
	}
	if a.MonthlyCount >= a.MonthlyLimit {
		return fmt.Sprintf("Monthly limit reached (%d/%d). You can upload more products next month.", a.MonthlyCount, a.MonthlyLimit)
	}
	return ""
}
