// Package bridge exposes FitSync to a host UI through JSON strings. It backs
// the cgo exports in cmd/mobile and keeps them free of application logic.
package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	gosync "sync"

	"github.com/kimhsiao/fitsync/internal/app"
	"github.com/kimhsiao/fitsync/internal/config"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/sync/queue"
	"github.com/kimhsiao/fitsync/internal/sync/scheduler"
	"github.com/kimhsiao/fitsync/internal/sync/status"
)

// StatusView is what Status reports to the UI.
type StatusView struct {
	Sync      status.Snapshot  `json:"sync"`
	Scheduler scheduler.Status `json:"scheduler"`
	Assets    AssetCounts      `json:"assets"`
}

// AssetCounts tallies queued assets by status.
type AssetCounts struct {
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
}

// ErrorView is the JSON shape of an error handed to the host.
type ErrorView struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

// EncodeError renders err for the host UI.
func EncodeError(err error) string {
	view := ErrorView{Code: apperrors.Code(err), Message: err.Error()}
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		view.Message = appErr.Message
	}
	data, _ := json.Marshal(view)
	return string(data)
}

// Bridge owns the running app on behalf of the host.
type Bridge struct {
	mu      gosync.Mutex
	app     *app.App
	records map[string]recordHandler
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an idle bridge.
func New() *Bridge {
	return &Bridge{}
}

// Init loads configuration from configPath and starts the app in the
// background. Calling Init on a running bridge is an error.
func (b *Bridge) Init(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(context.Background(), cfg, app.Options{})
	if err != nil {
		return err
	}
	if err := b.Start(a); err != nil {
		a.Close()
		return err
	}
	return nil
}

// Start runs an already built app.
func (b *Bridge) Start(a *app.App) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return apperrors.New(apperrors.ErrInvalid, "bridge already initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error("app stopped unexpectedly", err)
		}
	}()

	b.app = a
	b.records = handlers(a.Records)
	b.cancel = cancel
	b.done = done
	return nil
}

// Shutdown stops the background work and closes the app.
func (b *Bridge) Shutdown() error {
	b.mu.Lock()
	a, cancel, done := b.app, b.cancel, b.done
	b.app, b.records, b.cancel, b.done = nil, nil, nil, nil
	b.mu.Unlock()

	if a == nil {
		return nil
	}
	cancel()
	<-done
	return a.Close()
}

func (b *Bridge) current() (*app.App, map[string]recordHandler, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return nil, nil, apperrors.New(apperrors.ErrInvalid, "bridge not initialized")
	}
	return b.app, b.records, nil
}

func (b *Bridge) handler(collection string) (recordHandler, error) {
	_, records, err := b.current()
	if err != nil {
		return nil, err
	}
	h, ok := records[collection]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown collection %q", collection)
	}
	return h, nil
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to serialize response", err)
	}
	return string(data), nil
}

// RecordCreate inserts payload into collection and returns the stored record.
func (b *Bridge) RecordCreate(ctx context.Context, collection, payload string) (string, error) {
	h, err := b.handler(collection)
	if err != nil {
		return "", err
	}
	v, err := h.create(ctx, []byte(payload))
	if err != nil {
		return "", err
	}
	return encode(v)
}

// RecordUpdate applies a JSON patch to one record.
func (b *Bridge) RecordUpdate(ctx context.Context, collection, id, patch string) (string, error) {
	h, err := b.handler(collection)
	if err != nil {
		return "", err
	}
	v, err := h.update(ctx, id, []byte(patch))
	if err != nil {
		return "", err
	}
	return encode(v)
}

// RecordDelete tombstones one record.
func (b *Bridge) RecordDelete(ctx context.Context, collection, id string) error {
	h, err := b.handler(collection)
	if err != nil {
		return err
	}
	return h.remove(ctx, id)
}

// RecordGet returns one live record.
func (b *Bridge) RecordGet(ctx context.Context, collection, id string) (string, error) {
	h, err := b.handler(collection)
	if err != nil {
		return "", err
	}
	v, err := h.find(ctx, id)
	if err != nil {
		return "", err
	}
	return encode(v)
}

// RecordList returns the records matching filter, a JSON ListFilter. An
// empty filter lists every live record.
func (b *Bridge) RecordList(ctx context.Context, collection, filter string) (string, error) {
	h, err := b.handler(collection)
	if err != nil {
		return "", err
	}
	var f ListFilter
	if filter != "" {
		if err := json.Unmarshal([]byte(filter), &f); err != nil {
			return "", apperrors.Wrap(apperrors.ErrInvalid, "malformed list filter", err)
		}
	}
	v, err := h.list(ctx, f.options())
	if err != nil {
		return "", err
	}
	return encode(v)
}

// Refresh asks for a sync cycle without waiting for it.
func (b *Bridge) Refresh() error {
	a, _, err := b.current()
	if err != nil {
		return err
	}
	a.Scheduler.Refresh()
	return nil
}

// Reset cancels the running sync cycle and drops any queued follow-up.
func (b *Bridge) Reset() error {
	a, _, err := b.current()
	if err != nil {
		return err
	}
	a.Scheduler.Reset()
	return nil
}

// SyncNow runs a cycle and returns its result.
func (b *Bridge) SyncNow(ctx context.Context) (string, error) {
	a, _, err := b.current()
	if err != nil {
		return "", err
	}
	result, err := a.SyncNow(ctx)
	if err != nil {
		return "", err
	}
	return encode(result)
}

// SetOnline forwards a connectivity change.
func (b *Bridge) SetOnline(online bool) error {
	a, _, err := b.current()
	if err != nil {
		return err
	}
	a.Scheduler.SetOnlineStatus(online)
	return nil
}

// SetForeground forwards an app lifecycle change.
func (b *Bridge) SetForeground(foreground bool) error {
	a, _, err := b.current()
	if err != nil {
		return err
	}
	a.Scheduler.SetForeground(foreground)
	return nil
}

// Status reports sync, scheduler and upload state.
func (b *Bridge) Status() (string, error) {
	a, _, err := b.current()
	if err != nil {
		return "", err
	}
	view := StatusView{
		Sync:      a.Status.Snapshot(),
		Scheduler: a.Scheduler.GetStatus(),
		Assets:    countAssets(a.Queue.List()),
	}
	return encode(view)
}

// Conflicts returns the most recent conflict log entries.
func (b *Bridge) Conflicts(ctx context.Context, limit int) (string, error) {
	a, _, err := b.current()
	if err != nil {
		return "", err
	}
	logs, err := a.Store.Conflicts(ctx, limit)
	if err != nil {
		return "", err
	}
	if logs == nil {
		return "[]", nil
	}
	return encode(logs)
}

// AssetAdd queues a file described by a JSON queue.Descriptor.
func (b *Bridge) AssetAdd(ctx context.Context, descriptor string) (string, error) {
	a, _, err := b.current()
	if err != nil {
		return "", err
	}
	var d queue.Descriptor
	if err := json.Unmarshal([]byte(descriptor), &d); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "malformed asset descriptor", err)
	}
	asset, err := a.AddAsset(ctx, d)
	if err != nil {
		return "", err
	}
	return encode(asset)
}

// AssetRetry makes a failed asset due again.
func (b *Bridge) AssetRetry(ctx context.Context, id string) error {
	a, _, err := b.current()
	if err != nil {
		return err
	}
	return a.RetryAsset(ctx, id)
}

// AssetRemove drops an asset from the queue.
func (b *Bridge) AssetRemove(ctx context.Context, id string) error {
	a, _, err := b.current()
	if err != nil {
		return err
	}
	return a.RemoveAsset(ctx, id)
}

// AssetList returns every queued asset, oldest first.
func (b *Bridge) AssetList() (string, error) {
	a, _, err := b.current()
	if err != nil {
		return "", err
	}
	assets := a.Queue.List()
	if assets == nil {
		assets = []models.QueuedAsset{}
	}
	return encode(assets)
}

func countAssets(assets []models.QueuedAsset) AssetCounts {
	var c AssetCounts
	for _, a := range assets {
		switch a.Status {
		case models.AssetPending:
			c.Pending++
		case models.AssetUploading:
			c.Uploading++
		case models.AssetFailed:
			c.Failed++
		case models.AssetCompleted:
			c.Completed++
		}
	}
	return c
}

// Event names delivered to Subscribe callbacks.
const (
	EventSyncStatus    = "sync.status"
	EventAssetsChanged = "assets.changed"
)

// Subscribe forwards sync status snapshots and asset queue snapshots to fn.
// Both sources deliver their current state immediately.
func (b *Bridge) Subscribe(fn func(event string, payload interface{})) (unsubscribe func(), err error) {
	a, _, err := b.current()
	if err != nil {
		return nil, err
	}
	stopStatus := a.Status.Subscribe(func(s status.Snapshot) {
		fn(EventSyncStatus, s)
	})
	stopAssets := a.Queue.Subscribe(func(assets []models.QueuedAsset) {
		fn(EventAssetsChanged, assets)
	})
	return func() {
		stopStatus()
		stopAssets()
	}, nil
}
