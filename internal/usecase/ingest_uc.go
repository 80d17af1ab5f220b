package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phenrril/pharmastore/internal/domain"
	"github.com/phenrril/pharmastore/internal/metrics"
)

const (
	DefaultMaxRetries = 5
	rollbackTimeout   = 30 * time.Second

	msgImageNotFound = "Image URL not found or invalid."
	msgEmptySheet    = "No products found in the sheet."
	msgRunLocked     = "Another upload is already running for this pharmacy."
	msgRolledBack    = "Upload failed unexpectedly. %d uploaded products were rolled back."

	defaultLockRefresh = 30 * time.Second
)

var errImageNotFound = errors.New(msgImageNotFound)

var validate = validator.New()

// IngestUC runs one bulk upload: admission, fetch, parse, then every admitted
// row through image resolution, enrichment and persistence, in order.
type IngestUC struct {
	Quota    *QuotaUC
	Fetcher  domain.SheetFetcher
	Parser   domain.RowParser
	Images   *ImageResolver
	Checker  domain.ImageChecker
	Enricher domain.Enricher
	Products domain.ProductRepo
	// optional
	Locker   domain.RunLocker
	Notifier domain.RunNotifier

	// LockRefresh is how often a held run lock is extended; keep it well
	// under the lock TTL.
	LockRefresh time.Duration

	MaxRetries int
	Now        func() time.Time
}

type runState struct {
	start    time.Time
	uploaded []string
	failed   []domain.FailedProduct
}

// Run never returns nil. Whole-run failures, cancellation and per-row
// failures are all reported on the result.
func (uc *IngestUC) Run(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) *domain.IngestResult {
	st := &runState{start: uc.now(), uploaded: []string{}, failed: []domain.FailedProduct{}}
	logger := log.With().Str("pharmacy_id", req.PharmacyID).Str("source", string(req.Source())).Logger()

	res := uc.run(ctx, req, progress, st, logger)

	elapsed := uc.now().Sub(st.start)
	res.TimeTakenSeconds = int(elapsed.Seconds())
	if res.UploadedProductIDs == nil {
		res.UploadedProductIDs = []string{}
	}
	if res.FailedProducts == nil {
		res.FailedProducts = []domain.FailedProduct{}
	}
	metrics.IngestRunsTotal.WithLabelValues(string(res.Status)).Inc()
	metrics.IngestRunDuration.Observe(elapsed.Seconds())
	logger.Info().
		Str("status", string(res.Status)).
		Int("processed", res.ProcessedCount).
		Int("total", res.TotalCount).
		Int("failed", len(res.FailedProducts)).
		Dur("took", elapsed).
		Msg("ingestion run finished")

	if uc.Notifier != nil && res.Status != domain.RunQuotaExceeded {
		uc.notify(ctx, req.PharmacyID, res, logger)
	}
	return res
}

func (uc *IngestUC) notify(ctx context.Context, pharmacyID string, res *domain.IngestResult, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("run summary notifier panic")
		}
	}()
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := uc.Notifier.RunFinished(nctx, pharmacyID, res); err != nil {
		logger.Warn().Err(err).Msg("run summary notification failed")
	}
}

func (uc *IngestUC) run(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc, st *runState, logger zerolog.Logger) *domain.IngestResult {
	model, err := uc.resolveModel(req.Model)
	if err != nil {
		return failed(fmt.Sprintf("Unknown AI model %q.", req.Model))
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// The lock covers admission too, so two runs cannot both pass the quota check.
	if uc.Locker != nil {
		lock, err := uc.Locker.Acquire(ctx, req.PharmacyID)
		if errors.Is(err, domain.ErrRunLocked) {
			return failed(msgRunLocked)
		}
		if err != nil {
			logger.Error().Err(err).Msg("run lock failed")
			return failed("Could not start the upload. Please try again.")
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lock.Release(rctx); err != nil {
				logger.Warn().Err(err).Msg("run lock release failed")
			}
		}()
		stop := uc.keepLock(ctx, lock, cancel, logger)
		defer stop()
	}

	adm, err := uc.Quota.CheckAdmission(ctx, req.PharmacyID)
	if err != nil {
		if ctx.Err() != nil {
			return aborted(ctx, 0, logger)
		}
		logger.Error().Err(err).Msg("quota check failed")
		return failed("Could not check your upload quota. Please try again.")
	}
	if !adm.CanUpload {
		res := failed(adm.DenialMessage())
		res.Status = domain.RunQuotaExceeded
		return res
	}

	rows, err := uc.loadRows(ctx, req)
	switch {
	case errors.Is(err, domain.ErrAborted):
		return aborted(ctx, 0, logger)
	case errors.Is(err, domain.ErrInvalidSheetURL):
		return failed("Invalid Google Sheet URL.")
	case errors.Is(err, domain.ErrSheetUnreachable):
		logger.Warn().Err(err).Msg("sheet fetch failed")
		return failed("Could not read the sheet. Make sure it is shared with anyone who has the link.")
	case err != nil:
		logger.Warn().Err(err).Msg("sheet parse failed")
		return failed("Could not read the uploaded file: " + err.Error())
	}
	if len(rows) == 0 {
		return &domain.IngestResult{Status: domain.RunEmpty, Message: msgEmptySheet}
	}

	total := adm.Cap(len(rows))
	logger.Info().Int("rows", len(rows)).Int("admitted", total).Str("model", model).Msg("ingestion run started")

	err = uc.processRows(ctx, req, model, rows[:total], progress, st)
	if err != nil {
		rolledBack := uc.rollback(ctx, st.uploaded, logger)
		var res *domain.IngestResult
		if errors.Is(err, domain.ErrAborted) {
			res = aborted(ctx, rolledBack, logger)
		} else {
			logger.Error().Err(err).Msg("ingestion run failed")
			res = failed(fmt.Sprintf(msgRolledBack, rolledBack))
		}
		res.ProcessedCount = len(st.uploaded)
		res.FailedProducts = st.failed
		return res
	}

	msg := fmt.Sprintf("Uploaded %d of %d products.", len(st.uploaded), total)
	if total < len(rows) {
		msg += fmt.Sprintf(" Only %d of the %d products in the sheet were processed because of your upload limit.", total, len(rows))
	}
	return &domain.IngestResult{
		Success:            true,
		Status:             domain.RunCompleted,
		ProcessedCount:     len(st.uploaded),
		TotalCount:         total,
		Message:            msg,
		UploadedProductIDs: st.uploaded,
		FailedProducts:     st.failed,
	}
}

func (uc *IngestUC) loadRows(ctx context.Context, req domain.IngestRequest) ([]domain.RawRecord, error) {
	if req.File != nil {
		return uc.Parser.ParseFile(req.File.Name, req.File.Data)
	}
	text, err := uc.Fetcher.Fetch(ctx, req.SheetURL)
	if err != nil {
		return nil, err
	}
	return uc.Parser.ParseCSV(text), nil
}

// processRows returns domain.ErrAborted on cancellation and any other error
// only for a panic escaping a row.
func (uc *IngestUC) processRows(ctx context.Context, req domain.IngestRequest, model string, rows []domain.RawRecord, progress domain.ProgressFunc, st *runState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("panic processing row")
			err = fmt.Errorf("panic processing row: %v", r)
		}
	}()

	for i, row := range rows {
		if ctx.Err() != nil {
			return domain.ErrAborted
		}
		if progress != nil {
			progress(domain.Progress{
				Current:        i + 1,
				Total:          len(rows),
				ElapsedSeconds: int(uc.now().Sub(st.start).Seconds()),
			})
		}

		id, outcome, err := uc.processRow(ctx, req, model, row)
		if errors.Is(err, domain.ErrAborted) {
			return err
		}
		metrics.IngestRowsTotal.WithLabelValues(outcome).Inc()
		if err != nil {
			st.failed = append(st.failed, domain.FailedProduct{Name: rowName(row, i), Error: err.Error()})
			continue
		}
		st.uploaded = append(st.uploaded, id)
	}
	return nil
}

func (uc *IngestUC) processRow(ctx context.Context, req domain.IngestRequest, model string, row domain.RawRecord) (string, string, error) {
	name := row.Field(domain.FieldName)
	imageURL, err := uc.Images.Resolve(ctx, name, uc.maxRetries())
	if err != nil {
		return "", metrics.RowImageMissing, err
	}
	if imageURL != "" && uc.Checker != nil && !uc.Checker.Alive(ctx, imageURL) {
		uc.Images.Forget(name)
		imageURL = ""
	}
	if ctx.Err() != nil {
		return "", "", domain.ErrAborted
	}
	if imageURL == "" {
		return "", metrics.RowImageMissing, errImageNotFound
	}

	fields, err := uc.Enricher.Enrich(ctx, row, imageURL, model, uc.maxRetries())
	if err != nil {
		if ctx.Err() != nil {
			return "", "", domain.ErrAborted
		}
		return "", metrics.RowEnrichFailed, err
	}

	p := assembleProduct(fields, imageURL, req)
	if err := validate.Struct(p); err != nil {
		return "", metrics.RowInvalid, fmt.Errorf("invalid product: %w", err)
	}
	id, err := uc.Products.Append(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", domain.ErrAborted
		}
		return "", metrics.RowPersistFailed, fmt.Errorf("could not save product: %w", err)
	}
	return id, metrics.RowUploaded, nil
}

// rollback deletes every id uploaded by the run and returns how many were
// attempted. Delete failures are logged and do not stop the sweep.
func (uc *IngestUC) rollback(ctx context.Context, ids []string, logger zerolog.Logger) int {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	for _, id := range ids {
		if err := uc.Products.Delete(rctx, id); err != nil {
			logger.Error().Err(err).Str("product_id", id).Msg("rollback delete failed")
			continue
		}
		metrics.IngestRollbacksTotal.Inc()
	}
	logger.Info().Int("products", len(ids)).Msg("ingestion run rolled back")
	return len(ids)
}

// keepLock extends the run lock on a ticker until stop is called. If the lock
// cannot be extended the run is cancelled with domain.ErrRunLockLost.
func (uc *IngestUC) keepLock(ctx context.Context, lock domain.RunLock, cancel context.CancelCauseFunc, logger zerolog.Logger) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(uc.lockRefresh())
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := lock.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Error().Err(err).Msg("run lock lost, stopping run")
					cancel(fmt.Errorf("%w: %w", domain.ErrRunLockLost, err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (uc *IngestUC) lockRefresh() time.Duration {
	if uc.LockRefresh > 0 {
		return uc.LockRefresh
	}
	return defaultLockRefresh
}

func (uc *IngestUC) resolveModel(model string) (string, error) {
	if r, ok := uc.Enricher.(interface {
		ResolveModel(string) (string, error)
	}); ok {
		return r.ResolveModel(model)
	}
	return model, nil
}

func (uc *IngestUC) maxRetries() int {
	if uc.MaxRetries > 0 {
		return uc.MaxRetries
	}
	return DefaultMaxRetries
}

func (uc *IngestUC) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now()
}

func assembleProduct(f domain.NormalizedFields, imageURL string, req domain.IngestRequest) *domain.Product {
	pharmacyName := req.PharmacyName
	if pharmacyName == "" {
		pharmacyName = req.PharmacyID
	}
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	qty := f.Quantity
	if qty < 1 {
		qty = 1
	}
	return &domain.Product{
		Name:          f.ProductName,
		Image:         imageURL,
		Price:         f.Price,
		OriginalPrice: f.OriginalPrice,
		Brand:         orDefault(f.Brand, domain.DefaultBrand),
		Category:      orDefault(f.Category, domain.DefaultCategory),
		ExpiryDate:    f.ExpiryDate,
		ProductAmount: qty,
		Description:   f.Description,
		InStock:       true,
		DeliveryTime:  domain.ExpressDeliveryTime,
		Tags:          tags,
		PharmacyName:  pharmacyName,
		PharmacyID:    req.PharmacyID,
		Source:        req.Source(),
	}
}

func orDefault(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func rowName(row domain.RawRecord, i int) string {
	if n := row.Field(domain.FieldName); n != "" {
		return n
	}
	return fmt.Sprintf("Row %d", i+1)
}

func failed(msg string) *domain.IngestResult {
	return &domain.IngestResult{Status: domain.RunFailed, Message: msg}
}

// aborted reports a run stopped through its context. Only a user cancel is
// reported as cancelled; shutdown or a lost lock is a failure.
func aborted(ctx context.Context, rolledBack int, logger zerolog.Logger) *domain.IngestResult {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, domain.ErrCancelledByUser) || errors.Is(cause, context.Canceled) {
		return cancelled(rolledBack)
	}
	logger.Warn().Err(cause).Msg("ingestion run stopped")
	return failed(fmt.Sprintf(msgRolledBack, rolledBack))
}

func cancelled(rolledBack int) *domain.IngestResult {
	return &domain.IngestResult{
		Status:  domain.RunCancelled,
		Message: fmt.Sprintf("Upload cancelled by user. %d uploaded products were rolled back.", rolledBack),
	}
}
