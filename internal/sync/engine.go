package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	gosync "sync"
	"time"

	"github.com/juju/clock"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kimhsiao/fitsync/internal/db"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/sync/conflict"
	"github.com/kimhsiao/fitsync/internal/sync/status"
	"github.com/kimhsiao/fitsync/internal/telemetry"
)

const (
	DefaultPushBatchSize  = 50
	DefaultPullPageSize   = 100
	DefaultNetworkTimeout = 30 * time.Second
)

// Config tunes the Manager. Zero values take the defaults.
type Config struct {
	PushBatchSize  int
	PullPageSize   int
	NetworkTimeout time.Duration
	// Collections defaults to models.Collections().
	Collections []models.Collection
	Clock       clock.Clock
	Metrics     *telemetry.Metrics
	Resolver    *conflict.Resolver
}

func (c *Config) setDefaults() {
	if c.PushBatchSize <= 0 {
		c.PushBatchSize = DefaultPushBatchSize
	}
	if c.PullPageSize <= 0 {
		c.PullPageSize = DefaultPullPageSize
	}
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = DefaultNetworkTimeout
	}
	if c.Collections == nil {
		c.Collections = models.Collections()
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Resolver == nil {
		c.Resolver = conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins)
	}
}

// SyncResult represents the result of a sync cycle.
type SyncResult struct {
	Reason    TriggerReason `json:"reason"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`
	Pushed    int           `json:"pushed"`
	Rejected  int           `json:"rejected"`
	Pulled    int           `json:"pulled"`
	Conflicts int           `json:"conflicts"`
	Error     string        `json:"error,omitempty"`
}

// Manager runs push-then-pull cycles against a Remote. At most one cycle is
// active at a time.
type Manager struct {
	store  *db.Store
	remote Remote
	status *status.Writer
	cfg    Config
	order  []models.Collection

	ctx  context.Context
	stop context.CancelFunc
	wg   gosync.WaitGroup

	mu      gosync.Mutex
	online  bool
	running bool
	pending bool
	closed  bool
	cancel  context.CancelCauseFunc
	idle    chan struct{}
	last    *SyncResult
	lastErr error
}

// NewManager creates a Manager. w must be the claimed status writer.
func NewManager(store *db.Store, remote Remote, w *status.Writer, cfg Config) (*Manager, error) {
	if store == nil || remote == nil || w == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "sync manager requires a store, a remote and a status writer")
	}
	cfg.setDefaults()
	order, err := topoSort(cfg.Collections)
	if err != nil {
		return nil, err
	}

	idle := make(chan struct{})
	close(idle)
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		store:  store,
		remote: remote,
		status: w,
		cfg:    cfg,
		order:  order,
		ctx:    ctx,
		stop:   stop,
		online: true,
		idle:   idle,
	}, nil
}

// Trigger requests a cycle. While a cycle runs, any number of triggers
// collapse into a single follow-up cycle. While offline the request only
// refreshes the offline status.
func (m *Manager) Trigger(reason TriggerReason) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !m.online {
		m.mu.Unlock()
		m.status.SetError(status.StateOffline, errOffline())
		return
	}
	if m.running {
		m.pending = true
		m.mu.Unlock()
		return
	}
	m.running = true
	m.idle = make(chan struct{})
	m.wg.Add(1)
	m.mu.Unlock()

	go m.loop(reason)
}

func (m *Manager) loop(reason TriggerReason) {
	defer m.wg.Done()
	for {
		m.runCycle(reason)

		m.mu.Lock()
		if m.pending && m.online && !m.closed {
			m.pending = false
			m.mu.Unlock()
			reason = TriggerRefresh
			continue
		}
		m.pending = false
		m.running = false
		close(m.idle)
		m.mu.Unlock()
		return
	}
}

// SyncNow triggers a cycle and waits until the manager is idle.
func (m *Manager) SyncNow(ctx context.Context) (*SyncResult, error) {
	m.mu.Lock()
	online, closed := m.online, m.closed
	m.mu.Unlock()
	if closed {
		return nil, apperrors.New(apperrors.ErrSyncCancelled, "sync manager closed")
	}
	if !online {
		m.status.SetError(status.StateOffline, errOffline())
		return nil, errOffline()
	}

	m.Trigger(TriggerRefresh)
	if err := m.WaitIdle(ctx); err != nil {
		return nil, err
	}
	return m.LastResult()
}

// WaitIdle blocks until no cycle is running or pending.
func (m *Manager) WaitIdle(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastResult returns the most recent cycle result and its error.
func (m *Manager) LastResult() (*SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastErr
}

// SetOnline reports connectivity. Losing it cancels the running cycle;
// regaining it starts a new one.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	cancel := m.cancel
	closed := m.closed
	if !online {
		m.pending = false
	}
	m.mu.Unlock()

	if closed || was == online {
		return
	}
	if !online {
		if cancel != nil {
			cancel(apperrors.New(apperrors.ErrConnectivity, "connection lost"))
		}
		m.status.SetError(status.StateOffline, errOffline())
		return
	}
	m.Trigger(TriggerConnectivity)
}

// Reset cancels the running cycle and drops any pending follow-up.
func (m *Manager) Reset() {
	m.mu.Lock()
	cancel := m.cancel
	m.pending = false
	m.mu.Unlock()
	if cancel != nil {
		cancel(apperrors.New(apperrors.ErrSyncCancelled, "sync cancelled"))
	}
}

// Close cancels any running cycle and waits for it to unwind.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.pending = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel(apperrors.New(apperrors.ErrSyncCancelled, "sync manager closed"))
	}
	m.stop()
	m.wg.Wait()
	return nil
}

func (m *Manager) runCycle(reason TriggerReason) {
	ctx, cancel := context.WithCancelCause(m.ctx)
	m.mu.Lock()
	m.cancel = cancel
	if !m.online {
		cancel(errOffline())
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		cancel(nil)
	}()

	m.status.SetState(status.StateSyncing)
	result := &SyncResult{Reason: reason, StartTime: m.cfg.Clock.Now()}
	logging.Debug("sync cycle started", map[string]interface{}{"reason": reason})

	err := m.push(ctx, result)
	if err == nil {
		err = m.pull(ctx, result)
	}
	if err != nil && ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
	}

	result.EndTime = m.cfg.Clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	m.finish(result, err)
}

func (m *Manager) finish(result *SyncResult, err error) {
	fields := map[string]interface{}{
		"reason":    result.Reason,
		"pushed":    result.Pushed,
		"rejected":  result.Rejected,
		"pulled":    result.Pulled,
		"conflicts": result.Conflicts,
		"duration":  result.Duration.String(),
	}

	outcome := status.StateIdle
	switch {
	case err != nil:
		outcome = status.StateError
		if apperrors.IsConnectivity(err) {
			outcome = status.StateOffline
		}
		result.Error = err.Error()
		m.status.SetError(outcome, err)
		logging.ErrorWithCode("sync cycle failed", err, apperrors.Code(err), fields)
	case result.Rejected > 0:
		outcome = status.StateError
		err = apperrors.Newf(apperrors.ErrServerRejection, "%d item(s) rejected by server: %s", result.Rejected, result.Error)
		result.Error = err.Error()
		m.status.SetError(outcome, err)
		logging.Warn("sync cycle finished with rejections", fields)
	default:
		m.status.SetLastSyncedAt(result.EndTime)
		logging.Info("sync cycle finished", fields)
	}
	m.cfg.Metrics.CycleFinished(string(outcome), result.Duration)

	m.mu.Lock()
	m.last = result
	m.lastErr = err
	m.mu.Unlock()
}

func errOffline() error {
	return apperrors.New(apperrors.ErrConnectivity, "device is offline")
}

// classify turns a remote call failure into an AppError. A per-call deadline
// counts as lost connectivity.
func classify(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrConnectivity, op+" timed out", err)
	}
	return apperrors.Wrap(apperrors.ErrSyncFailed, op+" failed", err)
}

// push sends every dirty record, collection by collection in dependency order.
func (m *Manager) push(ctx context.Context, result *SyncResult) error {
	for _, coll := range m.order {
		records, err := m.store.Query(ctx, db.Query{
			Collection:        coll.Name,
			Statuses:          models.PendingStatuses(),
			IncludeTombstones: true,
		})
		if err != nil {
			return err
		}

		for start := 0; start < len(records); start += m.cfg.PushBatchSize {
			end := start + m.cfg.PushBatchSize
			if end > len(records) {
				end = len(records)
			}
			if err := m.pushBatch(ctx, coll.Name, records[start:end], result); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) pushBatch(ctx context.Context, collection string, batch []db.Record, result *SyncResult) error {
	items := make([]PushItem, 0, len(batch))
	for _, rec := range batch {
		item := PushItem{Collection: collection, ID: rec.ID, UpdatedAt: rec.UpdatedAt}
		switch rec.SyncStatus {
		case models.StatusCreated:
			item.Op = OpCreate
		case models.StatusDeleted:
			item.Op = OpDelete
		default:
			item.Op = OpUpdate
		}
		if item.Op != OpDelete {
			item.Payload = stripLocalFields(rec.Data)
		}
		items = append(items, item)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.NetworkTimeout)
	results, err := m.remote.Push(callCtx, items)
	cancel()
	if err != nil {
		return classify(ctx, "push "+collection, err)
	}

	byID := make(map[string]PushResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	// The server has already applied these items; record the acks even if
	// the cycle was cancelled meanwhile.
	return m.store.Write(context.WithoutCancel(ctx), func(tx *db.Tx) error {
		for _, sent := range batch {
			res, ok := byID[sent.ID]
			if !ok {
				res = PushResult{ID: sent.ID, Error: "no result returned for item"}
			}
			if err := m.applyAck(tx, collection, sent, res, result); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyAck settles one pushed record. The record is marked synced only if it
// did not change locally while the push was in flight.
func (m *Manager) applyAck(tx *db.Tx, collection string, sent db.Record, res PushResult, result *SyncResult) error {
	cur, err := tx.Get(collection, sent.ID)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if !res.Accepted {
		msg := res.Error
		if msg == "" {
			msg = "rejected by server"
		}
		cur.SyncError = msg
		result.Rejected++
		if result.Error == "" {
			result.Error = collection + "/" + sent.ID + ": " + msg
		}
		m.cfg.Metrics.ItemPushed(collection, "rejected")
		logging.Warn("server rejected item", map[string]interface{}{
			"collection": collection,
			"item_id":    sent.ID,
			"error":      msg,
		})
		return tx.Put(cur)
	}

	result.Pushed++
	m.cfg.Metrics.ItemPushed(collection, "accepted")

	if sent.SyncStatus == models.StatusDeleted {
		return tx.Purge(collection, sent.ID)
	}

	cur.SyncError = ""
	if res.ServerUpdatedAt > 0 {
		cur.ServerUpdatedAt = res.ServerUpdatedAt
	}
	if cur.UpdatedAt == sent.UpdatedAt {
		cur.SyncStatus = models.StatusSynced
	} else if cur.SyncStatus == models.StatusCreated {
		// the server now knows the record, so the newer edit is an update
		cur.SyncStatus = models.StatusUpdated
	}
	if err := tx.Put(cur); err != nil {
		return err
	}

	if res.ServerID == "" || res.ServerID == sent.ID {
		return nil
	}
	if err := tx.Rename(collection, sent.ID, res.ServerID); err != nil {
		return err
	}
	return m.remapRefs(tx, collection, sent.ID, res.ServerID)
}

// remapRefs rewrites references to oldID in every collection that points into
// target. Reference fields hold either one id or an array of ids.
func (m *Manager) remapRefs(tx *db.Tx, target, oldID, newID string) error {
	for _, coll := range m.cfg.Collections {
		var fields []string
		for field, into := range coll.RefFields {
			if into == target {
				fields = append(fields, field)
			}
		}
		if len(fields) == 0 {
			continue
		}

		records, err := tx.Query(db.Query{Collection: coll.Name, IncludeTombstones: true})
		if err != nil {
			return err
		}
		for i := range records {
			rec := &records[i]
			data, changed, err := replaceRefs(rec.Data, fields, oldID, newID)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			rec.Data = data
			if err := tx.Put(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func replaceRefs(data []byte, fields []string, oldID, newID string) ([]byte, bool, error) {
	changed := false
	for _, field := range fields {
		v := gjson.GetBytes(data, field)
		switch {
		case v.IsArray():
			ids := make([]string, 0)
			hit := false
			v.ForEach(func(_, el gjson.Result) bool {
				id := el.String()
				if id == oldID {
					id = newID
					hit = true
				}
				ids = append(ids, id)
				return true
			})
			if !hit {
				continue
			}
			out, err := sjson.SetBytes(data, field, ids)
			if err != nil {
				return nil, false, apperrors.Wrap(apperrors.ErrInvalid, "failed to rewrite "+field, err)
			}
			data, changed = out, true
		case v.Type == gjson.String && v.String() == oldID:
			out, err := sjson.SetBytes(data, field, newID)
			if err != nil {
				return nil, false, apperrors.Wrap(apperrors.ErrInvalid, "failed to rewrite "+field, err)
			}
			data, changed = out, true
		}
	}
	return data, changed, nil
}

// stripLocalFields removes bookkeeping that never leaves the device.
func stripLocalFields(data json.RawMessage) json.RawMessage {
	out := []byte(data)
	for _, field := range []string{"sync_status", "deleted_at"} {
		if stripped, err := sjson.DeleteBytes(out, field); err == nil {
			out = stripped
		}
	}
	return out
}

// pull applies remote pages collection by collection. Each page and its
// cursor advance commit together.
func (m *Manager) pull(ctx context.Context, result *SyncResult) error {
	for _, coll := range m.order {
		cursor, err := m.store.Cursor(ctx, coll.Name)
		if err != nil {
			return err
		}

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(ctx, m.cfg.NetworkTimeout)
			page, err := m.remote.Pull(callCtx, coll.Name, cursor, m.cfg.PullPageSize)
			cancel()
			if err != nil {
				return classify(ctx, "pull "+coll.Name, err)
			}

			// A server that omits the cursor leaves the watermark where it was.
			next := page.NextCursor
			if next == "" {
				next = cursor
			}
			err = m.store.Write(context.WithoutCancel(ctx), func(tx *db.Tx) error {
				for _, ch := range page.Changes {
					if err := m.applyChange(tx, coll.Name, ch, result); err != nil {
						return err
					}
				}
				return tx.SetCursor(coll.Name, next)
			})
			if err != nil {
				return err
			}

			if !page.HasMore {
				break
			}
			if next == cursor {
				logging.Warn("pull cursor did not advance", map[string]interface{}{
					"collection": coll.Name,
					"cursor":     cursor,
				})
				break
			}
			cursor = next
		}
	}
	return nil
}

func (m *Manager) applyChange(tx *db.Tx, collection string, ch RemoteChange, result *SyncResult) error {
	local, err := tx.Get(collection, ch.ID)
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}

	c := &conflict.Conflict{
		Collection: collection,
		Remote:     conflict.Version{ID: ch.ID, Deleted: ch.Deleted, Timestamp: ch.UpdatedAt},
	}
	if local != nil {
		c.Local = conflict.Version{
			ID:        local.ID,
			Exists:    true,
			Pending:   local.SyncStatus.Pending(),
			Deleted:   local.IsDeleted(),
			Timestamp: local.ServerUpdatedAt,
		}
	}

	res, err := m.cfg.Resolver.Resolve(c)
	if err != nil {
		logging.Warn("skipping malformed remote change", map[string]interface{}{
			"collection": collection,
			"item_id":    ch.ID,
			"error":      err.Error(),
		})
		return nil
	}

	if res.ConflictLog != nil {
		result.Conflicts++
		if err := tx.LogConflict(res.ConflictLog); err != nil {
			return err
		}
	}
	if res.Winner == conflict.SideLocal {
		m.cfg.Metrics.ChangePulled(collection, res.ConflictLog.Resolution)
		return nil
	}

	if ch.Deleted {
		if local == nil {
			return nil
		}
		result.Pulled++
		m.cfg.Metrics.ChangePulled(collection, "remote_deleted")
		return tx.Purge(collection, ch.ID)
	}

	rec, err := remoteRecord(collection, ch, local)
	if err != nil {
		return err
	}
	result.Pulled++
	m.cfg.Metrics.ChangePulled(collection, models.ResolutionRemoteWins)
	return tx.Put(rec)
}

func remoteRecord(collection string, ch RemoteChange, local *db.Record) (*db.Record, error) {
	payload := ch.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	data, err := sjson.SetBytes(stripLocalFields(payload), "id", ch.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid payload for "+collection+"/"+ch.ID, err)
	}

	rec := &db.Record{
		Collection:      collection,
		ID:              ch.ID,
		Data:            data,
		CreatedAt:       gjson.GetBytes(data, "created_at").Int(),
		UpdatedAt:       gjson.GetBytes(data, "updated_at").Int(),
		SyncStatus:      models.StatusSynced,
		ServerUpdatedAt: ch.UpdatedAt,
	}
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = ch.UpdatedAt
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = rec.UpdatedAt
		if local != nil {
			rec.CreatedAt = local.CreatedAt
		}
	}
	return rec, nil
}

// topoSort orders collections so that every collection follows the ones it
// depends on. Input order breaks ties. Dependencies outside the set are
// ignored.
func topoSort(colls []models.Collection) ([]models.Collection, error) {
	index := make(map[string]int, len(colls))
	for i, c := range colls {
		index[c.Name] = i
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(colls))
	order := make([]models.Collection, 0, len(colls))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return apperrors.Newf(apperrors.ErrInvalid, "collection dependency cycle at %s", colls[i].Name)
		}
		state[i] = visiting
		for _, dep := range colls[i].DependsOn {
			if j, ok := index[dep]; ok {
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		state[i] = done
		order = append(order, colls[i])
		return nil
	}

	for i := range colls {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
