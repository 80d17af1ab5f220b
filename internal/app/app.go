package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/phenrril/pharmastore/internal/adapters/ai"
	"github.com/phenrril/pharmastore/internal/adapters/httpserver"
	"github.com/phenrril/pharmastore/internal/adapters/imagesearch"
	"github.com/phenrril/pharmastore/internal/adapters/lock"
	"github.com/phenrril/pharmastore/internal/adapters/notify"
	"github.com/phenrril/pharmastore/internal/adapters/repo/postgres"
	"github.com/phenrril/pharmastore/internal/adapters/scraper"
	"github.com/phenrril/pharmastore/internal/adapters/sheets"
	"github.com/phenrril/pharmastore/internal/config"
	"github.com/phenrril/pharmastore/internal/domain"
	"github.com/phenrril/pharmastore/internal/usecase"
)

type App struct {
	DB         *gorm.DB
	Config     *config.Config
	Pharmacies domain.PharmacyRepo
	QuotaUC    *usecase.QuotaUC
	IngestUC   *usecase.IngestUC
	ProductUC  *usecase.ProductUC
	Runs       *usecase.RunRegistry

	redis  *redis.Client
	cancel context.CancelCauseFunc
}

func NewApp(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	prodRepo := postgres.NewProductRepo(db)
	pharmRepo := postgres.NewPharmacyRepo(db)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	if creds := strings.TrimSpace(cfg.GoogleCredentialsJSON); creds != "" {
		httpClient, err = sheets.NewAuthorizedClient(ctx, []byte(creds))
		if err != nil {
			return nil, err
		}
		log.Info().Msg("google service account credentials loaded")
	}
	fetcher := sheets.NewFetcher(httpClient, cfg.SheetsExportBase)

	searchers := []domain.ImageSearcher{imagesearch.NewClient(cfg.ImageSearchURL, 0)}
	if cfg.ImageScraperEnabled {
		searchers = append(searchers, scraper.NewImageScraper())
	}
	images := imagesearch.NewChain(searchers...)
	if len(images) == 0 {
		log.Warn().Msg("no image searcher configured, every row will fail image resolution")
	}

	if cfg.AIAPIKey == "" {
		log.Warn().Msg("AI_API_KEY is empty, enrichment requests will be rejected")
	}
	enricher := ai.NewEnricher(ai.Config{
		APIKey:        cfg.AIAPIKey,
		BaseURL:       cfg.AIBaseURL,
		DefaultModel:  cfg.AIModel,
		AllowedModels: cfg.AIAllowedModels,
		RetryDelay:    cfg.RetryDelay,
	})

	a := &App{DB: db, Config: cfg, Pharmacies: pharmRepo}
	a.QuotaUC = &usecase.QuotaUC{
		Products:     prodRepo,
		DailyLimit:   cfg.QuotaDaily,
		MonthlyLimit: cfg.QuotaMonthly,
		Location:     loc,
	}
	a.ProductUC = &usecase.ProductUC{Products: prodRepo}
	a.IngestUC = &usecase.IngestUC{
		Quota:      a.QuotaUC,
		Fetcher:    fetcher,
		Parser:     sheets.Parser{},
		Images:     usecase.NewImageResolver(images, cfg.RetryDelay, cfg.ImageCacheSize),
		Checker:    imagesearch.NewChecker(cfg.LivenessTimeout),
		Enricher:   enricher,
		Products:   prodRepo,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		a.IngestUC.Locker = lock.NewRedisLocker(rdb, cfg.RunLockTTL)
		a.IngestUC.LockRefresh = cfg.RunLockTTL / 3
		log.Info().Str("addr", cfg.RedisAddr).Msg("per-pharmacy run lock enabled")
	}
	if cfg.SMTPHost != "" {
		a.IngestUC.Notifier = notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, pharmRepo)
		log.Info().Str("host", cfg.SMTPHost).Msg("run summary emails enabled")
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	a.cancel = cancel
	a.Runs = usecase.NewRunRegistry(runCtx, a.IngestUC)

	return a, nil
}

func (a *App) HTTPHandler() http.Handler {
	return httpserver.New(a.Runs, a.QuotaUC, a.ProductUC, a.Pharmacies, a.Config.MaxUploadBytes)
}

func (a *App) Migrate() error {
	if err := a.DB.AutoMigrate(&domain.Pharmacy{}, &domain.Product{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	if err := a.DB.Exec("UPDATE products SET tags = '[]' WHERE tags IS NULL").Error; err != nil {
		log.Warn().Err(err).Msg("backfill empty product tags")
	}
	return nil
}

// Shutdown cancels every in-flight run, waits for their rollbacks, then
// closes the Redis connection. Runs stopped here are reported as failed.
func (a *App) Shutdown() {
	a.cancel(domain.ErrShuttingDown)
	a.Runs.Wait()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
}
