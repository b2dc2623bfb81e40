package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ai-food-diary/internal/catalog"
	"ai-food-diary/internal/config"
	"ai-food-diary/internal/database"
	"ai-food-diary/internal/diary"
	"ai-food-diary/internal/draft"
	"ai-food-diary/internal/food"
	"ai-food-diary/internal/llm"
	"ai-food-diary/internal/metrics"
	"ai-food-diary/internal/nutrition"
	"ai-food-diary/internal/recognizer"
	"ai-food-diary/internal/session"
	"ai-food-diary/internal/storage"
)

// Catalog is the product table behind either backend.
type Catalog interface {
	nutrition.Catalog
	SaveAll(ctx context.Context, products []food.NutritionProfile) (int, error)
	Count(ctx context.Context) (int, error)
}

// SessionStore is a durable draft store that can drop expired sessions.
type SessionStore interface {
	draft.SessionStore
	CleanupExpired(ctx context.Context) (int64, error)
}

// App holds the application's dependencies.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *database.DB
	Catalog  Catalog
	Sessions SessionStore
	Meals    *diary.MealRepository
	Metrics  *metrics.Store
	Engine   *diary.Engine

	closers []func() error
}

// NewLogger builds a production logger at the given level
// (debug, info, warn or error).
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// New opens the stores and wires the engine. Close releases everything
// New opened, also when New fails halfway.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	a.Metrics = metrics.NewStore(db.SQL, logger)
	a.Meals = diary.NewMealRepository(db.SQL)

	if err := a.openCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openSessions(); err != nil {
		a.Close()
		return nil, err
	}

	gemini, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, gemini.Close)

	var text llm.TextGenerator = gemini
	if cfg.GroqAPIKey != "" {
		text = llm.NewGroqClient(cfg, 0.2)
		logger.Info("text recognition uses Groq", zap.String("model", cfg.GroqModel))
	}

	estimator := recognizer.NewEstimator(text, a.Metrics, logger)
	resolver := nutrition.NewResolver(a.Catalog, estimator, logger,
		nutrition.WithThreshold(cfg.FuzzyThreshold),
		nutrition.WithFuzzyLimit(cfg.FuzzyLimit),
		nutrition.WithObserver(a.Metrics))

	drafts := draft.NewCache(a.Sessions, logger, draft.WithTTL(cfg.DraftTTL))

	a.Engine = diary.NewEngine(
		recognizer.NewRecognizer(text, gemini),
		resolver,
		drafts,
		a.Meals,
		logger,
		diary.WithMetaRecorder(a.Metrics),
		diary.WithRecognitionTimeout(cfg.RecognitionTimeout))

	return a, nil
}

func (a *App) openCatalog(ctx context.Context) error {
	switch a.Config.CatalogBackend {
	case "postgres":
		pg, err := catalog.OpenPostgres(ctx, a.Config.CatalogDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		repo := catalog.NewPostgresRepository(pg, a.Config.FuzzyThreshold)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Catalog = repo
	default:
		a.Catalog = catalog.NewSQLiteRepository(a.DB.SQL, a.Config.FuzzyThreshold)
	}
	a.Logger.Info("catalog ready", zap.String("backend", a.Config.CatalogBackend))
	return nil
}

func (a *App) openSessions() error {
	switch a.Config.SessionBackend {
	case "file":
		store, err := storage.NewFileSessionStore(a.Config.SessionDir, a.Config.SessionTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize session directory: %w", err)
		}
		a.Sessions = store
	default:
		a.Sessions = session.NewRepository(a.DB.SQL, a.Config.SessionTTL)
	}
	return nil
}

// Close releases resources in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
