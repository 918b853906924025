package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/kimhsiao/fitsync/internal/app"
	"github.com/kimhsiao/fitsync/internal/config"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
	fsync "github.com/kimhsiao/fitsync/internal/sync"
	"github.com/kimhsiao/fitsync/internal/sync/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type nopRemote struct{}

func (nopRemote) Push(_ context.Context, items []fsync.PushItem) ([]fsync.PushResult, error) {
	out := make([]fsync.PushResult, 0, len(items))
	for i, it := range items {
		out = append(out, fsync.PushResult{ID: it.ID, Accepted: true, ServerUpdatedAt: int64(10_000 + i)})
	}
	return out, nil
}

func (nopRemote) Pull(_ context.Context, _, cursor string, _ int) (*fsync.PullPage, error) {
	return &fsync.PullPage{NextCursor: cursor}, nil
}

type nopUploader struct{}

func (nopUploader) Upload(context.Context, models.QueuedAsset) (string, error) {
	return "https://cdn.example.com/x", nil
}

func startBridge(t *testing.T) *Bridge {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	a, err := app.New(context.Background(), cfg, app.Options{
		Remote:      nopRemote{},
		Uploader:    nopUploader{},
		Status:      status.NewStore(),
		SkipLogging: true,
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	b := New()
	if err := b.Start(a); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := b.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return b
}

func TestBridge_NotInitialized(t *testing.T) {
	b := New()
	if _, err := b.RecordGet(context.Background(), models.CollectionClients, "x"); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("RecordGet() error = %v, want ErrInvalid", err)
	}
	if _, err := b.Status(); err == nil {
		t.Error("Status() succeeded before Init")
	}
	if err := b.Reset(); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Reset() before Init error = %v, want ErrInvalid", err)
	}
	if err := b.Shutdown(); err != nil {
		t.Errorf("Shutdown() on idle bridge error = %v", err)
	}
}

func TestBridge_RestartAfterShutdown(t *testing.T) {
	st := status.NewStore()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	opts := app.Options{
		Remote:      nopRemote{},
		Uploader:    nopUploader{},
		Status:      st,
		SkipLogging: true,
	}
	b := New()
	for i := 0; i < 2; i++ {
		a, err := app.New(context.Background(), cfg, opts)
		if err != nil {
			t.Fatalf("app.New() round %d error = %v", i, err)
		}
		if err := b.Start(a); err != nil {
			t.Fatalf("Start() round %d error = %v", i, err)
		}
		if err := b.Shutdown(); err != nil {
			t.Fatalf("Shutdown() round %d error = %v", i, err)
		}
	}
}

func TestBridge_RecordLifecycle(t *testing.T) {
	b := startBridge(t)
	ctx := context.Background()

	created, err := b.RecordCreate(ctx, models.CollectionClients, `{"trainer_id":"t1","name":"Ana"}`)
	if err != nil {
		t.Fatalf("RecordCreate() error = %v", err)
	}
	id := gjson.Get(created, "id").String()
	if id == "" || gjson.Get(created, "sync_status").String() != string(models.StatusCreated) {
		t.Fatalf("RecordCreate() = %s", created)
	}

	updated, err := b.RecordUpdate(ctx, models.CollectionClients, id, `{"goals":"run 10k"}`)
	if err != nil {
		t.Fatalf("RecordUpdate() error = %v", err)
	}
	if gjson.Get(updated, "goals").String() != "run 10k" || gjson.Get(updated, "name").String() != "Ana" {
		t.Errorf("RecordUpdate() = %s", updated)
	}

	list, err := b.RecordList(ctx, models.CollectionClients, `{"where":{"trainer_id":"t1"}}`)
	if err != nil {
		t.Fatalf("RecordList() error = %v", err)
	}
	if n := gjson.Get(list, "#").Int(); n != 1 {
		t.Errorf("RecordList() returned %d records: %s", n, list)
	}

	if err := b.RecordDelete(ctx, models.CollectionClients, id); err != nil {
		t.Fatalf("RecordDelete() error = %v", err)
	}
	if _, err := b.RecordGet(ctx, models.CollectionClients, id); !apperrors.IsNotFound(err) {
		t.Errorf("RecordGet() after delete error = %v, want NotFound", err)
	}
	list, _ = b.RecordList(ctx, models.CollectionClients, `{"include_deleted":true}`)
	if gjson.Get(list, "0.sync_status").String() != string(models.StatusDeleted) {
		t.Errorf("tombstone = %s", list)
	}
}

func TestBridge_InvalidInput(t *testing.T) {
	b := startBridge(t)
	ctx := context.Background()

	if _, err := b.RecordCreate(ctx, "workouts", `{}`); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("unknown collection error = %v", err)
	}
	if _, err := b.RecordCreate(ctx, models.CollectionClients, `{not json`); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("malformed payload error = %v", err)
	}
	if _, err := b.RecordList(ctx, models.CollectionClients, `[`); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("malformed filter error = %v", err)
	}
	if _, err := b.AssetAdd(ctx, `{"local_path":`); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("malformed descriptor error = %v", err)
	}
}

func TestBridge_SyncAndStatus(t *testing.T) {
	b := startBridge(t)
	ctx := context.Background()

	created, err := b.RecordCreate(ctx, models.CollectionExercises, `{"name":"Squat"}`)
	if err != nil {
		t.Fatalf("RecordCreate() error = %v", err)
	}
	out, err := b.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if !gjson.Get(out, "pulled").Exists() {
		t.Errorf("SyncNow() = %s", out)
	}
	got, err := b.RecordGet(ctx, models.CollectionExercises, gjson.Get(created, "id").String())
	if err != nil || gjson.Get(got, "sync_status").String() != string(models.StatusSynced) {
		t.Errorf("after SyncNow = %s, %v", got, err)
	}

	st, err := b.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	var view StatusView
	if err := json.Unmarshal([]byte(st), &view); err != nil {
		t.Fatalf("Status() returned invalid JSON: %v", err)
	}
	if view.Sync.LastSyncedAt == nil {
		t.Errorf("Status().sync = %+v", view.Sync)
	}

	if err := b.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if err := b.SetForeground(false); err != nil {
		t.Fatalf("SetForeground() error = %v", err)
	}
	st, _ = b.Status()
	if gjson.Get(st, "scheduler.foreground").Bool() {
		t.Errorf("scheduler still foreground: %s", st)
	}

	if err := b.SetOnline(false); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	st, _ = b.Status()
	if gjson.Get(st, "scheduler.is_online").Bool() {
		t.Errorf("scheduler still online: %s", st)
	}

	assets, err := b.AssetList()
	if err != nil || assets != "[]" {
		t.Errorf("AssetList() = %s, %v", assets, err)
	}
	conflicts, err := b.Conflicts(ctx, 10)
	if err != nil || conflicts != "[]" {
		t.Errorf("Conflicts() = %s, %v", conflicts, err)
	}
}

func TestEncodeError(t *testing.T) {
	got := EncodeError(apperrors.New(apperrors.ErrNotFound, "clients/x not found"))
	if gjson.Get(got, "code").String() != string(apperrors.ErrNotFound) || gjson.Get(got, "message").String() != "clients/x not found" {
		t.Errorf("EncodeError() = %s", got)
	}
	plain := EncodeError(context.Canceled)
	if !strings.Contains(plain, "context canceled") {
		t.Errorf("EncodeError(plain) = %s", plain)
	}
}
