package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"apflow/internal/api"
	"apflow/internal/billing"
	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/extraction"
	"apflow/internal/holds"
	"apflow/internal/ingest"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/notifications"
	"apflow/internal/notify"
	"apflow/internal/parsing"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
	"apflow/internal/servicetitan"
	"apflow/internal/storage"
	"apflow/internal/summary"
	"apflow/internal/vendors"
	"apflow/internal/writeback"
)

// Daemon wires the pipeline, admin API, and summary schedule together
// and enforces single-instance execution via a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *storage.DB
	queue     *queue.Store
	manager   *pipeline.Manager
	apiServer *api.Server
	scheduler *summary.Scheduler
	extractor *extraction.DocumentAI

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New builds the full processing stack from configuration. The ERP key
// and Document AI credentials must be resolvable or construction fails.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}

	erp, err := servicetitan.NewHTTPClient(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	extractor, err := extraction.NewDocumentAI(ctx, cfg.Extraction, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	queueStore := queue.NewStore(db, logger)
	docs := documents.NewStore(db)
	results := matching.NewStore(db)
	holdStore := holds.NewStore(db)
	bills := billing.NewStore(db)
	resolver := vendors.NewResolver(db, logger, cfg.Matching.VendorPrefixLength)
	notifier := notifications.NewService(cfg)

	manager := pipeline.NewManager(cfg, queueStore, docs, results, holdStore, logger)
	manager.Register(ingest.NewSplitter(cfg, logger))
	manager.Register(parsing.NewHandler(cfg, extractor, erp, docs, holdStore, logger))
	engine := matching.NewEngine(cfg.Matching, erp, resolver, results, holdStore, logger)
	manager.Register(matching.NewHandler(engine, docs, logger))
	executor := billing.NewExecutor(cfg, erp, resolver, bills, holdStore, logger)
	manager.Register(billing.NewHandler(executor, docs, results, logger))
	manager.Register(writeback.NewHandler(cfg, docs, bills, logger))
	manager.Register(notify.NewHandler(notifier, docs, results, holdStore, logger))

	collector := summary.NewCollector(docs, bills, holdStore, queueStore, notifier, logger)
	scheduler, err := summary.NewScheduler(cfg.Notifications.DailySummary, collector, logger)
	if err != nil {
		_ = extractor.Close()
		_ = db.Close()
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "apflow.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		db:        db,
		queue:     queueStore,
		manager:   manager,
		apiServer: api.NewServer(cfg, manager, queueStore, holdStore, logger),
		scheduler: scheduler,
		extractor: extractor,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and brings up the worker pools, the
// summary schedule, and the admin API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "daemon", "start",
			"another apflow instance holds "+d.lockPath, nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.scheduler.Start()

	go func() {
		if err := d.apiServer.Start(); err != nil {
			d.logger.Error("admin api stopped", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api_bind", d.cfg.API.Bind),
		logging.String("db", d.db.Path()))
	return nil
}

// Stop shuts everything down in reverse order and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.apiServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown", logging.Error(err))
	}
	d.scheduler.Stop()
	d.manager.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and releases the database and extraction
// client.
func (d *Daemon) Close() error {
	d.Stop()
	if d.extractor != nil {
		_ = d.extractor.Close()
	}
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
