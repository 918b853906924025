// Package app assembles the FitSync components from configuration and runs
// them as one unit.
package app

import (
	"context"
	"path/filepath"
	gosync "sync"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/fitsync/internal/config"
	"github.com/kimhsiao/fitsync/internal/db"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/repository"
	fsync "github.com/kimhsiao/fitsync/internal/sync"
	"github.com/kimhsiao/fitsync/internal/sync/conflict"
	"github.com/kimhsiao/fitsync/internal/sync/queue"
	"github.com/kimhsiao/fitsync/internal/sync/remote"
	"github.com/kimhsiao/fitsync/internal/sync/s3"
	"github.com/kimhsiao/fitsync/internal/sync/scheduler"
	"github.com/kimhsiao/fitsync/internal/sync/status"
	"github.com/kimhsiao/fitsync/internal/sync/storage"
	"github.com/kimhsiao/fitsync/internal/telemetry"
)

// QueueFile is the asset journal created inside the data directory.
const QueueFile = "assets.db"

// Options replaces collaborators that New would otherwise build from
// configuration.
type Options struct {
	Remote   fsync.Remote
	Uploader queue.Uploader
	// Status defaults to status.Default(). Its writer is claimed by New.
	Status *status.Store
	Clock  clock.Clock
	// SkipLogging leaves the global logger alone.
	SkipLogging bool
}

// App owns every long-lived component.
type App struct {
	cfg *config.Config

	Store     *db.Store
	Records   *repository.Set
	Status    *status.Store
	Metrics   *telemetry.Metrics
	Manager   *fsync.Manager
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler

	staging *storage.ContentAddressedStorage
	writer  *status.Writer

	logMu  gosync.Mutex
	logger *logging.Logger

	closeOnce gosync.Once
	closeErr  error
}

// New opens the store and the asset journal and wires the sync components.
// Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.abort()
		}
	}()
	if !opts.SkipLogging {
		l, err := logging.Setup(cfg.LoggingOptions())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to set up logging", err)
		}
		a.logger = l
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}

	rem := opts.Remote
	if rem == nil {
		c, err := remote.NewClient(remote.Config{
			BaseURL:      cfg.Remote.BaseURL,
			Token:        cfg.Remote.Token,
			RetryMax:     cfg.Remote.RetryMax,
			RetryWaitMin: cfg.Remote.RetryWaitMin,
			RetryWaitMax: cfg.Remote.RetryWaitMax,
		})
		if err != nil {
			return nil, err
		}
		rem = c
	}

	uploader := opts.Uploader
	if uploader == nil {
		s3cfg, err := s3.ConfigFor(cfg.Assets.S3)
		if err != nil {
			return nil, err
		}
		u, err := s3.NewUploader(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		uploader = u
	}

	statusStore := opts.Status
	if statusStore == nil {
		statusStore = status.Default()
	}
	a.writer, err = statusStore.ClaimWriter()
	if err != nil {
		return nil, err
	}
	a.Status = statusStore

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open local store", err)
	}
	a.Store = db.NewStore(database)
	a.Records = repository.NewSet(a.Store)
	a.Metrics = telemetry.New()
	a.staging = storage.NewContentAddressedStorage(cfg.StagingDir())

	a.Queue, err = queue.Open(filepath.Join(cfg.DataDir, QueueFile), uploader, queue.Config{
		MaxRetries:    cfg.Assets.MaxRetries,
		BackoffBase:   cfg.Assets.BackoffBase,
		BackoffMax:    cfg.Assets.BackoffMax,
		UploadTimeout: cfg.Assets.UploadTimeout,
		Clock:         opts.Clock,
		OnComplete:    a.attachAsset,
		Metrics:       a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a.Manager, err = fsync.NewManager(a.Store, rem, a.writer, fsync.Config{
		PushBatchSize:  cfg.Sync.PushBatchSize,
		PullPageSize:   cfg.Sync.PullPageSize,
		NetworkTimeout: cfg.Sync.NetworkTimeout,
		Clock:          opts.Clock,
		Metrics:        a.Metrics,
		Resolver:       conflict.NewResolver(conflict.ResolutionStrategy(cfg.Sync.ConflictStrategy)),
	})
	if err != nil {
		return nil, err
	}

	a.Scheduler = scheduler.New(a.Manager, a.Queue, scheduler.Config{
		SyncInterval:  cfg.Sync.Interval,
		QueueInterval: cfg.Sync.QueueInterval,
		Clock:         opts.Clock,
	})

	logging.Info("fitsync initialized", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"remote":   cfg.Remote.BaseURL,
	})
	return a, nil
}

// abort undoes a partial New.
func (a *App) abort() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.writer != nil {
		a.writer.Release()
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

// ReloadLogging installs a logger for opts and closes the one it replaces.
func (a *App) ReloadLogging(opts logging.Options) error {
	l, err := logging.Setup(opts)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to set up logging", err)
	}
	a.logMu.Lock()
	prev := a.logger
	a.logger = l
	a.logMu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Run drives the scheduler, the asset queue and, when enabled, the metrics
// endpoint until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Queue.Run(ctx)
	})
	g.Go(func() error {
		return a.Scheduler.Run(ctx)
	})
	if a.cfg.Telemetry.Enabled {
		g.Go(func() error {
			return a.Metrics.Serve(ctx, a.cfg.Telemetry.Addr)
		})
	}
	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		logging.Error("fitsync stopped", err)
	}
	return err
}

// SyncNow runs one cycle and waits for it.
func (a *App) SyncNow(ctx context.Context) (*fsync.SyncResult, error) {
	return a.Manager.SyncNow(ctx)
}

// AddAsset copies the file into the staging area so the caller may delete
// its original, then queues the staged copy for upload.
func (a *App) AddAsset(ctx context.Context, d queue.Descriptor) (*models.QueuedAsset, error) {
	if d.LocalPath == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "asset local path is required")
	}
	_, staged, err := a.staging.StoreFile(d.LocalPath)
	if err != nil {
		return nil, err
	}
	d.LocalPath = staged
	asset, err := a.Queue.AddAsset(ctx, d)
	if err != nil {
		a.releaseStaged(staged)
		return nil, err
	}
	return asset, nil
}

// RetryAsset makes a failed or backed-off asset due again.
func (a *App) RetryAsset(ctx context.Context, id string) error {
	return a.Queue.RetryAsset(ctx, id)
}

// RemoveAsset drops an asset and its staged copy.
func (a *App) RemoveAsset(ctx context.Context, id string) error {
	asset, err := a.Queue.Get(id)
	if err != nil {
		return err
	}
	if err := a.Queue.RemoveAsset(ctx, id); err != nil {
		return err
	}
	a.releaseStaged(asset.LocalPath)
	return nil
}

// attachAsset writes the uploaded URL into the owning record. The staged
// copy is no longer needed once the URL is stored or the owner is gone.
func (a *App) attachAsset(ctx context.Context, asset models.QueuedAsset) error {
	err := repository.AttachAssetURL(ctx, a.Store, asset.OwnerCollection, asset.OwnerID, asset.OwnerField, asset.RemoteURL)
	if err == nil || apperrors.IsNotFound(err) {
		a.releaseStaged(asset.LocalPath)
	}
	if err == nil {
		a.Scheduler.Refresh()
	}
	return err
}

// releaseStaged deletes a staged file unless another queued asset still
// points at the same content.
func (a *App) releaseStaged(path string) {
	if !a.staging.Owns(path) {
		return
	}
	for _, other := range a.Queue.List() {
		if other.LocalPath == path && other.Status != models.AssetCompleted {
			return
		}
	}
	if err := a.staging.Delete(path); err != nil {
		logging.Warn("failed to delete staged asset", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}

// Close stops the sync manager and releases the store, the journal, the
// status writer and the log file. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if err := a.Manager.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.Queue.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.writer.Release()
		a.logMu.Lock()
		if a.logger != nil {
			if err := a.logger.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.logMu.Unlock()
		if len(errs) > 0 {
			a.closeErr = errs[0]
		}
	})
	return a.closeErr
}
