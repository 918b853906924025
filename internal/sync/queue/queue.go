// Package queue provides the durable asset upload queue. Local files are
// uploaded in createdAt order with bounded exponential backoff, and their
// remote URLs are handed back to the owning record on completion.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/telemetry"
	"github.com/kimhsiao/fitsync/internal/uuid"
)

const (
	DefaultMaxRetries    = 5
	DefaultBackoffBase   = 2 * time.Second
	DefaultBackoffMax    = 5 * time.Minute
	DefaultUploadTimeout = 2 * time.Minute
)

// Uploader moves one local file to remote storage and returns its durable URL.
type Uploader interface {
	Upload(ctx context.Context, asset models.QueuedAsset) (string, error)
}

// CompletionFunc receives every asset that reached completed. A failure other
// than not-found is retried with backoff until it succeeds.
type CompletionFunc func(ctx context.Context, asset models.QueuedAsset) error

// Config tunes retry behaviour.
type Config struct {
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	UploadTimeout time.Duration
	Clock         clock.Clock
	OnComplete    CompletionFunc
	Metrics       *telemetry.Metrics
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = DefaultBackoffMax
		if c.BackoffMax < c.BackoffBase {
			c.BackoffMax = c.BackoffBase
		}
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
}

// Descriptor describes a file to enqueue.
type Descriptor struct {
	LocalPath       string `json:"local_path"`
	ContentType     string `json:"content_type,omitempty"`
	OwnerCollection string `json:"owner_collection"`
	OwnerID         string `json:"owner_id"`
	OwnerField      string `json:"owner_field"`
}

// Queue is the asset upload queue. Run drives processing.
type Queue struct {
	journal  *journal
	uploader Uploader
	cfg      Config
	backoff  func(time.Duration, int) time.Duration

	mu          sync.Mutex
	assets      map[string]*models.QueuedAsset
	online      bool
	lastCreated int64
	inflightID  string
	cancelUp    context.CancelFunc
	// attachFailures counts consecutive write-back failures per asset.
	attachFailures map[string]int

	notifyMu sync.Mutex
	subs     map[uint64]func([]models.QueuedAsset)
	nextSub  uint64

	wake chan struct{}
}

// Open loads the journal at path. Assets interrupted mid-upload are returned
// to pending. Uploaded assets that were never attached are attached again
// once Run starts.
func Open(path string, uploader Uploader, cfg Config) (*Queue, error) {
	cfg.setDefaults()
	j, err := openJournal(path)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		journal:  j,
		uploader: uploader,
		cfg:      cfg,
		backoff:  retry.ExpBackoff(cfg.BackoffBase, cfg.BackoffMax, 2.0, false),
		assets:   make(map[string]*models.QueuedAsset),
		online:   true,

		attachFailures: make(map[string]int),
		subs:     make(map[uint64]func([]models.QueuedAsset)),
		wake:     make(chan struct{}, 1),
	}

	loaded, err := j.load()
	if err != nil {
		j.close()
		return nil, err
	}
	for _, a := range loaded {
		if a.Status == models.AssetUploading {
			a.Status = models.AssetPending
			a.NextAttemptAt = 0
			if err := j.put(a); err != nil {
				j.close()
				return nil, err
			}
			logging.Warn("asset upload interrupted, requeued", map[string]interface{}{"asset_id": a.ID})
		}
		if a.CreatedAt > q.lastCreated {
			q.lastCreated = a.CreatedAt
		}
		q.assets[a.ID] = a
	}
	return q, nil
}

// Close releases the journal. Run must have returned.
func (q *Queue) Close() error {
	return q.journal.close()
}

func (q *Queue) now() int64 {
	return q.cfg.Clock.Now().UnixMilli()
}

// AddAsset persists a new pending asset and schedules processing.
func (q *Queue) AddAsset(ctx context.Context, d Descriptor) (*models.QueuedAsset, error) {
	if d.LocalPath == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "asset requires a local path")
	}
	c, ok := models.LookupCollection(d.OwnerCollection)
	if !ok || !c.HasAssetField(d.OwnerField) || d.OwnerID == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid asset owner %s/%s.%s", d.OwnerCollection, d.OwnerID, d.OwnerField)
	}

	q.mu.Lock()
	now := q.now()
	created := now
	if created <= q.lastCreated {
		created = q.lastCreated + 1
	}
	a := &models.QueuedAsset{
		ID:              uuid.New(),
		LocalPath:       d.LocalPath,
		ContentType:     d.ContentType,
		OwnerCollection: d.OwnerCollection,
		OwnerID:         d.OwnerID,
		OwnerField:      d.OwnerField,
		CreatedAt:       created,
		UpdatedAt:       now,
		Status:          models.AssetPending,
	}
	if err := q.journal.put(a); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.lastCreated = created
	q.assets[a.ID] = a
	out := *a
	q.mu.Unlock()

	logging.Info("asset enqueued", map[string]interface{}{"asset_id": a.ID, "owner": d.OwnerCollection + "/" + d.OwnerID})
	q.notify()
	q.Kick()
	return &out, nil
}

// RetryAsset returns a failed asset to pending without resetting its retry
// count. A pending asset waiting out its backoff becomes due immediately.
func (q *Queue) RetryAsset(ctx context.Context, id string) error {
	q.mu.Lock()
	a, ok := q.assets[id]
	if !ok {
		q.mu.Unlock()
		return apperrors.Newf(apperrors.ErrNotFound, "asset %s not found", id)
	}
	switch a.Status {
	case models.AssetFailed, models.AssetPending:
		next := *a
		next.Status = models.AssetPending
		next.NextAttemptAt = 0
		next.UpdatedAt = q.now()
		if err := q.journal.put(&next); err != nil {
			q.mu.Unlock()
			return err
		}
		*a = next
	case models.AssetCompleted:
		if a.Attached || a.NextAttemptAt == 0 {
			q.mu.Unlock()
			return nil
		}
		next := *a
		next.NextAttemptAt = 0
		next.UpdatedAt = q.now()
		if err := q.journal.put(&next); err != nil {
			q.mu.Unlock()
			return err
		}
		*a = next
	default:
		q.mu.Unlock()
		return nil
	}
	retries := a.RetryCount
	q.mu.Unlock()

	logging.Info("asset retry requested", map[string]interface{}{"asset_id": id, "retry_count": retries})
	q.notify()
	q.Kick()
	return nil
}

// RemoveAsset drops an asset in any status, cancelling its upload if one is
// in flight.
func (q *Queue) RemoveAsset(ctx context.Context, id string) error {
	q.mu.Lock()
	if _, ok := q.assets[id]; !ok {
		q.mu.Unlock()
		return apperrors.Newf(apperrors.ErrNotFound, "asset %s not found", id)
	}
	if err := q.journal.delete(id); err != nil {
		q.mu.Unlock()
		return err
	}
	delete(q.assets, id)
	delete(q.attachFailures, id)
	if q.inflightID == id && q.cancelUp != nil {
		q.cancelUp()
	}
	q.mu.Unlock()

	logging.Info("asset removed", map[string]interface{}{"asset_id": id})
	q.notify()
	return nil
}

// Get returns a copy of one asset.
func (q *Queue) Get(id string) (*models.QueuedAsset, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.assets[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "asset %s not found", id)
	}
	out := *a
	return &out, nil
}

// List returns every asset ordered by createdAt ascending.
func (q *Queue) List() []models.QueuedAsset {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []models.QueuedAsset {
	out := make([]models.QueuedAsset, 0, len(q.assets))
	for _, a := range q.assets {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscribe delivers the full queue snapshot now and after every mutation.
func (q *Queue) Subscribe(fn func([]models.QueuedAsset)) (unsubscribe func()) {
	q.notifyMu.Lock()
	q.nextSub++
	id := q.nextSub
	q.subs[id] = fn
	fn(q.List())
	q.notifyMu.Unlock()

	return func() {
		q.notifyMu.Lock()
		delete(q.subs, id)
		q.notifyMu.Unlock()
	}
}

func (q *Queue) notify() {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	if len(q.subs) == 0 {
		return
	}
	snap := q.List()
	ids := make([]uint64, 0, len(q.subs))
	for id := range q.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		q.subs[id](snap)
	}
}

// SetOnline pauses processing while offline.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	q.mu.Unlock()
	if changed && online {
		q.Kick()
	}
}

// Kick wakes the processing loop.
func (q *Queue) Kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run processes the queue until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	logging.Info("asset queue started", nil)
	defer logging.Info("asset queue stopped", nil)

	for ctx.Err() == nil {
		asset, wait := q.next()
		if asset != nil {
			if asset.AwaitingAttach() {
				q.attach(ctx, asset)
			} else {
				q.process(ctx, asset)
			}
			continue
		}

		var timer <-chan time.Time
		if wait > 0 {
			timer = q.cfg.Clock.After(wait)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		case <-timer:
		}
	}
	return nil
}

// next claims the oldest due asset, or reports how long until one is due.
// Uploaded assets whose write-back is due are returned unclaimed. A zero
// wait means sleep until kicked.
func (q *Queue) next() (*models.QueuedAsset, time.Duration) {
	q.mu.Lock()
	if !q.online {
		q.mu.Unlock()
		return nil, 0
	}

	now := q.now()
	var due *models.QueuedAsset
	var soonest int64
	for _, a := range q.assets {
		attach := a.AwaitingAttach() && q.cfg.OnComplete != nil
		if a.Status != models.AssetPending && !attach {
			continue
		}
		if a.Due(now) || (attach && a.NextAttemptAt <= now) {
			if due == nil || a.CreatedAt < due.CreatedAt || (a.CreatedAt == due.CreatedAt && a.ID < due.ID) {
				due = a
			}
			continue
		}
		if soonest == 0 || a.NextAttemptAt < soonest {
			soonest = a.NextAttemptAt
		}
	}

	if due == nil {
		q.mu.Unlock()
		if soonest == 0 {
			return nil, 0
		}
		return nil, time.Duration(soonest-now) * time.Millisecond
	}

	if due.AwaitingAttach() {
		out := *due
		q.mu.Unlock()
		return &out, 0
	}

	claimed := *due
	claimed.Status = models.AssetUploading
	claimed.UpdatedAt = now
	if err := q.journal.put(&claimed); err != nil {
		q.mu.Unlock()
		logging.Error("failed to claim asset", err, map[string]interface{}{"asset_id": due.ID})
		return nil, q.cfg.BackoffBase
	}
	*due = claimed
	q.inflightID = claimed.ID
	q.mu.Unlock()

	q.notify()
	return &claimed, 0
}

func (q *Queue) process(ctx context.Context, asset *models.QueuedAsset) {
	uploadCtx, cancel := context.WithTimeout(ctx, q.cfg.UploadTimeout)
	q.mu.Lock()
	q.cancelUp = cancel
	q.mu.Unlock()

	url, err := q.uploader.Upload(uploadCtx, *asset)
	cancel()

	q.mu.Lock()
	q.inflightID = ""
	q.cancelUp = nil
	current, ok := q.assets[asset.ID]
	if !ok {
		q.mu.Unlock()
		q.cfg.Metrics.AssetAttempt("removed")
		return
	}

	next := *current
	next.UpdatedAt = q.now()
	outcome := ""
	switch {
	case err == nil:
		next.Status = models.AssetCompleted
		next.RemoteURL = url
		next.Attached = false
		next.LastError = ""
		next.NextAttemptAt = 0
		outcome = "completed"
	case ctx.Err() != nil:
		// Shutdown is not a failed attempt.
		next.Status = models.AssetPending
		outcome = "interrupted"
	default:
		next.RetryCount++
		next.LastError = err.Error()
		if next.RetryCount >= q.cfg.MaxRetries {
			next.Status = models.AssetFailed
			next.NextAttemptAt = 0
			outcome = "failed"
		} else {
			next.Status = models.AssetPending
			next.NextAttemptAt = next.UpdatedAt + q.backoff(0, next.RetryCount-1).Milliseconds()
			outcome = "retry"
		}
	}

	if perr := q.journal.put(&next); perr != nil {
		// The in-memory state still moves on; the journal catches up on the
		// next successful write.
		next.LastError = "failed to persist asset state: " + perr.Error()
		logging.Error("failed to persist asset state", perr, map[string]interface{}{"asset_id": next.ID})
	}
	*current = next
	q.mu.Unlock()

	q.cfg.Metrics.AssetAttempt(outcome)
	fields := map[string]interface{}{
		"asset_id":    next.ID,
		"status":      string(next.Status),
		"retry_count": next.RetryCount,
	}
	switch outcome {
	case "completed":
		logging.Info("asset uploaded", fields)
	case "retry", "failed":
		logging.Warn("asset upload failed: "+next.LastError, fields)
	}
	q.notify()

	if outcome == "completed" && q.cfg.OnComplete != nil {
		q.attach(ctx, &next)
	}
}

// attach hands an uploaded asset to OnComplete and records the outcome. A
// failed write-back stays on the asset as lastError and is retried with
// backoff.
func (q *Queue) attach(ctx context.Context, asset *models.QueuedAsset) {
	err := q.cfg.OnComplete(ctx, *asset)
	if err != nil && ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	current, ok := q.assets[asset.ID]
	if !ok || !current.AwaitingAttach() {
		q.mu.Unlock()
		return
	}
	next := *current
	next.UpdatedAt = q.now()
	fields := map[string]interface{}{"asset_id": next.ID}
	switch {
	case err == nil:
		next.Attached = true
		next.LastError = ""
		next.NextAttemptAt = 0
		delete(q.attachFailures, next.ID)
	case apperrors.IsNotFound(err):
		next.Attached = true
		next.LastError = err.Error()
		next.NextAttemptAt = 0
		delete(q.attachFailures, next.ID)
		logging.Warn("asset owner no longer exists", fields)
	default:
		n := q.attachFailures[next.ID]
		q.attachFailures[next.ID] = n + 1
		next.LastError = "attach failed: " + err.Error()
		next.NextAttemptAt = next.UpdatedAt + q.backoff(0, n).Milliseconds()
		fields["attempt"] = n + 1
		logging.Error("failed to attach asset URL", err, fields)
	}
	if perr := q.journal.put(&next); perr != nil {
		next.LastError = "failed to persist asset state: " + perr.Error()
		logging.Error("failed to persist asset state", perr, fields)
	}
	*current = next
	q.mu.Unlock()

	if err == nil {
		q.cfg.Metrics.AssetAttempt("attached")
	} else if !apperrors.IsNotFound(err) {
		q.cfg.Metrics.AssetAttempt("attach_failed")
	}
	q.notify()
}
