package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phenrril/pharmastore/internal/domain"
)

const (
	DefaultDailyLimit   = 250
	DefaultMonthlyLimit = 4000
)

// QuotaUC reports how many products a pharmacy may still upload today and this month.
type QuotaUC struct {
	Products     domain.ProductRepo
	DailyLimit   int64
	MonthlyLimit int64
	Location     *time.Location
	Now          func() time.Time
}

func (uc *QuotaUC) CheckAdmission(ctx context.Context, pharmacyID string) (domain.Admission, error) {
	if strings.TrimSpace(pharmacyID) == "" {
		return domain.Admission{}, errors.New("empty pharmacy id")
	}
	dayStart, monthStart := uc.windows()

	daily, err := uc.Products.CountSince(ctx, pharmacyID, dayStart)
	if err != nil {
		return domain.Admission{}, fmt.Errorf("count daily uploads: %w", err)
	}
	monthly, err := uc.Products.CountSince(ctx, pharmacyID, monthStart)
	if err != nil {
		return domain.Admission{}, fmt.Errorf("count monthly uploads: %w", err)
	}

	a := domain.Admission{
		DailyCount:   daily,
		MonthlyCount: monthly,
		DailyLimit:   uc.dailyLimit(),
		MonthlyLimit: uc.monthlyLimit(),
	}
	a.CanUpload = a.DailyCount < a.DailyLimit && a.MonthlyCount < a.MonthlyLimit
	return a, nil
}

// windows returns local midnight today and local midnight on the first of the month.
func (uc *QuotaUC) windows() (time.Time, time.Time) {
	loc := uc.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	t := now().In(loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return day, month
}

func (uc *QuotaUC) dailyLimit() int64 {
	if uc.DailyLimit > 0 {
		return uc.DailyLimit
	}
	return DefaultDailyLimit
}

func (uc *QuotaUC) monthlyLimit() int64 {
	if uc.MonthlyLimit > 0 {
		return uc.MonthlyLimit
	}
	return DefaultMonthlyLimit
}
