// Package server builds the fedisync components and runs them together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/api"
	"github.com/JakeFAU/fedisync/internal/apiclient"
	"github.com/JakeFAU/fedisync/internal/clock"
	"github.com/JakeFAU/fedisync/internal/config"
	"github.com/JakeFAU/fedisync/internal/credential"
	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/logging"
	"github.com/JakeFAU/fedisync/internal/metrics"
	"github.com/JakeFAU/fedisync/internal/notify"
	"github.com/JakeFAU/fedisync/internal/policy/ratelimit"
	"github.com/JakeFAU/fedisync/internal/processor"
	memoryPublisher "github.com/JakeFAU/fedisync/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/fedisync/internal/publisher/pubsub"
	"github.com/JakeFAU/fedisync/internal/scheduler"
	"github.com/JakeFAU/fedisync/internal/settings"
	"github.com/JakeFAU/fedisync/internal/status"
	"github.com/JakeFAU/fedisync/internal/storage"
	memoryStorage "github.com/JakeFAU/fedisync/internal/storage/memory"
	pgstore "github.com/JakeFAU/fedisync/internal/storage/postgres"
)

// SettingsStore is the settings backend used by the running service.
type SettingsStore interface {
	settings.Store
	Seed(ctx context.Context, values map[string]string) error
}

// CommunityStore is the community backend used by the running service.
type CommunityStore interface {
	ListCommunities(ctx context.Context) ([]feed.Community, error)
	UpsertCommunity(ctx context.Context, community feed.Community) error
	SetRemoteID(ctx context.Context, originURL string, remoteID int64) error
}

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	apiServer  *api.Server
	scheduler  *scheduler.Scheduler
	registry   *status.Registry
	dispatcher *notify.Dispatcher

	settings    SettingsStore
	communities CommunityStore
	items       processor.ItemStore

	pool         *pgxpool.Pool
	publisher    *gcppublisher.Publisher
	events       *memoryPublisher.Publisher
	archiveClose func() error
	closeOnce    sync.Once
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("database", cfg.Database.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)

	if err := app.setupStores(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if err := app.seed(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	blobs, err := app.setupArchive(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	clk := clock.System{}
	publisher, err := app.setupPublisher(ctx, clk)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.registry = status.New()
	app.dispatcher = notify.New(app.settings, clk, logger.Named("notify"),
		notify.WithClientOptions(apiclient.WithTimeout(cfg.LemmyTimeout())),
	)

	limiter := ratelimit.New(cfg.Lemmy.RateLimit)
	crawler := feed.New(feed.Config{
		DestinationURL: cfg.Lemmy.URI,
		APIPath:        cfg.Lemmy.APIPath,
		Admin:          credential.User{Username: cfg.Lemmy.AdminUsername, Password: cfg.Lemmy.AdminPassword},
	}, app.settings, app.dispatcher, clk, logger.Named("feed"),
		apiclient.WithLimiter(limiter),
		apiclient.WithTimeout(cfg.LemmyTimeout()),
		apiclient.WithUserAgent(cfg.Lemmy.UserAgent),
	)

	proc := processor.New(crawler, app.items, blobs, publisher, app.settings, clk, logger.Named("processor"),
		processor.Config{ArchivePrefix: cfg.Archive.Prefix}, processor.WithDestination(crawler, app.communities))

	app.scheduler = scheduler.New(app.communities, proc, app.registry, app.settings, app.dispatcher, clk,
		logger.Named("scheduler"))
	apiOpts := []api.Option{api.WithReadiness(app.ready)}
	if app.events != nil {
		apiOpts = append(apiOpts, api.WithEvents(app.events))
	}
	app.apiServer = api.NewServer(app.registry, app.dispatcher, app.settings, cfg.Auth, logger.Named("api"), apiOpts...)

	return app, nil
}

func (a *App) setupStores(ctx context.Context) error {
	if a.cfg.Database.Backend != config.DatabasePostgres {
		a.logger.Info("using in-memory stores")
		a.settings = memoryStorage.NewSettingsStore(nil)
		a.communities = memoryStorage.NewCommunityStore()
		a.items = memoryStorage.NewItemStore()
		return nil
	}

	pgCfg := a.cfg.Database.Postgres
	pool, err := pgstore.Open(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	if a.cfg.Database.Migrate {
		if err := pgstore.Migrate(ctx, pool, pgCfg.Schema); err != nil {
			return err
		}
	}
	if a.settings, err = pgstore.NewSettingsStore(pool, pgCfg.Schema); err != nil {
		return fmt.Errorf("settings store init failed: %w", err)
	}
	if a.communities, err = pgstore.NewCommunityStore(pool, pgCfg.Schema); err != nil {
		return fmt.Errorf("community store init failed: %w", err)
	}
	if a.items, err = pgstore.NewItemStore(pool, pgCfg.Schema); err != nil {
		return fmt.Errorf("item store init failed: %w", err)
	}
	a.logger.Info("using postgres stores", zap.String("schema", pgCfg.Schema))
	return nil
}

// seed stores configured values that the settings store does not hold yet
// and upserts the configured communities.
func (a *App) seed(ctx context.Context) error {
	if err := a.settings.Seed(ctx, a.cfg.SettingsSeed()); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	for _, community := range a.cfg.Communities {
		if err := a.communities.UpsertCommunity(ctx, community); err != nil {
			return fmt.Errorf("seed communities: %w", err)
		}
	}
	a.logger.Debug("seeded configuration", zap.Int("communities", len(a.cfg.Communities)))
	return nil
}

func (a *App) setupArchive(ctx context.Context) (processor.BlobStore, error) {
	blobs, closeFn, err := storage.Open(ctx, a.cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	a.archiveClose = closeFn
	if blobs == nil {
		a.logger.Info("archiving disabled")
		return nil, nil
	}
	a.logger.Info("archiving batches", zap.String("backend", a.cfg.Archive.Backend), zap.String("prefix", a.cfg.Archive.Prefix))
	return blobs, nil
}

// setupPublisher opens the Pub/Sub topic, or keeps recent batch events in
// memory for GET /v1/events when Pub/Sub is disabled.
func (a *App) setupPublisher(ctx context.Context, clk clock.Clock) (processor.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.events = memoryPublisher.New(memoryPublisher.DefaultCapacity, clk)
		a.logger.Info("Pub/Sub disabled, keeping recent batch events in memory",
			zap.Int("capacity", memoryPublisher.DefaultCapacity))
		return a.events, nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.Config)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicID),
	)
	return pub, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Handler returns the operator HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Settings returns the settings store.
func (a *App) Settings() SettingsStore {
	return a.settings
}

// Communities returns the community store.
func (a *App) Communities() CommunityStore {
	return a.communities
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("scheduler started")
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	return a.Close()
}

// Close releases the infrastructure clients. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
	})
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.archiveClose != nil {
		if err := a.archiveClose(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
		a.archiveClose = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
