package app

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/core"
	"github.com/joseph-ayodele/menu-allergens/internal/core/extract"
	"github.com/joseph-ayodele/menu-allergens/internal/core/menu"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
	"github.com/joseph-ayodele/menu-allergens/internal/core/ocr"
	"github.com/joseph-ayodele/menu-allergens/internal/core/upsert"
	"github.com/joseph-ayodele/menu-allergens/internal/export"
	repo "github.com/joseph-ayodele/menu-allergens/internal/repository"
	"github.com/joseph-ayodele/menu-allergens/internal/store/rest"
)

// SyncTarget selects where converted records are upserted.
type SyncTarget string

const (
	// SyncAuto uses the REST store when its credentials are set.
	SyncAuto SyncTarget = ""
	SyncREST SyncTarget = "rest"
	// SyncSQL writes into the products table of the SQL store.
	SyncSQL  SyncTarget = "sql"
	SyncNone SyncTarget = "none"
)

// Options adjust how the stack is assembled.
type Options struct {
	// InMemory opens an in-memory SQLite store instead of DB_URL.
	InMemory   bool
	SyncTarget SyncTarget
	// EngineOptions are passed to the OCR engine (tests swap the runner).
	EngineOptions []ocr.Option
}

// App is the wired conversion stack shared by the daemon and the CLIs.
type App struct {
	Config    *common.Config
	Engine    *ocr.Engine
	Adapter   *extract.Adapter
	Processor *core.Processor
	Exporter  *export.Service
	Sync      *upsert.Synchronizer
	DB        *repo.DB
	Jobs      repo.ConversionJobRepository
	Products  *repo.ProductStore

	logger *slog.Logger
}

// New builds the stack. Only an unreachable database is fatal; a missing OCR
// language or store degrades the corresponding features.
func New(ctx context.Context, cfg *common.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, logger: logger}

	dbCfg := cfg.Database
	if opts.InMemory {
		dbCfg.DSN = "sqlite::memory:"
	}
	if dbCfg.DSN != "" {
		db, err := repo.Open(ctx, repo.ConfigFrom(dbCfg), logger)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Jobs = repo.NewConversionJobRepository(db, logger)
		a.Products = repo.NewProductStore(db, logger)
	}

	a.Engine = ocr.NewEngine(ctx, ocr.Config{
		Languages:        cfg.OCR.Languages,
		DPI:              cfg.OCR.DPI,
		TessdataDir:      cfg.OCR.TessdataDir,
		HeicConverter:    cfg.OCR.HeicConverter,
		ArtifactCacheDir: cfg.OCR.ArtifactCacheDir,
		MinConfidence:    cfg.Extract.MinConfidence,
	}, logger, opts.EngineOptions...)
	if err := a.Engine.Ready(); err != nil {
		logger.Warn("app.ocr_unavailable", "error", err)
	}
	a.Adapter = extract.NewAdapter(a.Engine, extract.LimitsFromConfig(cfg.Extract), logger)

	store, err := a.store(opts.SyncTarget)
	if err != nil {
		a.Close()
		return nil, err
	}
	if store != nil {
		a.Sync = upsert.NewSynchronizer(store, upsert.Config{
			BatchSize:  cfg.Store.BatchSize,
			BatchPause: cfg.Store.BatchPause,
		}, logger)
	}

	a.Exporter = export.NewService(logger)
	a.Processor = core.NewProcessor(logger,
		a.Adapter,
		menu.NewParser(menu.WithLogger(logger)),
		normalize.New(normalize.WithLogger(logger)),
		a.Sync,
		a.Exporter,
		a.Jobs,
	)
	logger.Info("app.ready",
		"ocr_language", a.Engine.Language(),
		"database", a.DB != nil,
		"sync", a.Sync.Configured(),
	)
	return a, nil
}

func (a *App) store(target SyncTarget) (upsert.Store, error) {
	switch target {
	case SyncNone:
		return nil, nil
	case SyncSQL:
		if a.Products == nil {
			return nil, common.NewAppError(common.CodeConfig, "sql sync needs DB_URL or an in-memory store", common.ErrStoreNotConfigured)
		}
		return a.Products, nil
	case SyncREST:
		return a.restStore()
	}
	if !a.Config.Store.Configured() {
		a.logger.Info("app.store_not_configured")
		return nil, nil
	}
	return a.restStore()
}

func (a *App) restStore() (upsert.Store, error) {
	c, err := rest.New(a.Config.Store, rest.Options{IncludeAllergens: a.Config.Store.IncludeAllergens}, a.logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// OCRLanguage is the language the engine settled on, empty when none.
func (a *App) OCRLanguage() string { return a.Engine.Language() }

// Close releases the database.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close(a.logger)
		a.DB = nil
	}
}
