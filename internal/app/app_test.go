package app

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kimhsiao/fitsync/internal/config"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
	fsync "github.com/kimhsiao/fitsync/internal/sync"
	"github.com/kimhsiao/fitsync/internal/sync/queue"
	"github.com/kimhsiao/fitsync/internal/sync/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type acceptingRemote struct {
	mu     gosync.Mutex
	pushed []fsync.PushItem
	seq    int64
}

func (r *acceptingRemote) Push(_ context.Context, items []fsync.PushItem) ([]fsync.PushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fsync.PushResult, 0, len(items))
	for _, it := range items {
		r.seq++
		r.pushed = append(r.pushed, it)
		out = append(out, fsync.PushResult{ID: it.ID, Accepted: true, ServerUpdatedAt: 1_000 + r.seq})
	}
	return out, nil
}

func (r *acceptingRemote) Pull(_ context.Context, _, cursor string, _ int) (*fsync.PullPage, error) {
	return &fsync.PullPage{NextCursor: cursor}, nil
}

func (r *acceptingRemote) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushed)
}

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, a models.QueuedAsset) (string, error) {
	return "https://cdn.example.com/" + filepath.Base(a.LocalPath), nil
}

func newTestApp(t *testing.T) (*App, *acceptingRemote) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Assets.BackoffBase = time.Millisecond
	cfg.Assets.BackoffMax = 10 * time.Millisecond

	rem := &acceptingRemote{}
	a, err := New(context.Background(), cfg, Options{
		Remote:      rem,
		Uploader:    stubUploader{},
		Status:      status.NewStore(),
		SkipLogging: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, rem
}

func runApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writePhoto(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avatar.jpg")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, Options{}); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("New(nil) error = %v, want ErrInvalid", err)
	}
	cfg := config.Default()
	cfg.Sync.PushBatchSize = 0
	if _, err := New(context.Background(), cfg, Options{SkipLogging: true}); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("New(bad batch) error = %v, want ErrInvalid", err)
	}
}

func TestNew_StatusWriterIsExclusive(t *testing.T) {
	st := status.NewStore()
	if _, err := st.ClaimWriter(); err != nil {
		t.Fatalf("ClaimWriter() error = %v", err)
	}
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	_, err := New(context.Background(), cfg, Options{
		Remote:      &acceptingRemote{},
		Uploader:    stubUploader{},
		Status:      st,
		SkipLogging: true,
	})
	if !apperrors.Is(err, apperrors.ErrWriterClaimed) {
		t.Errorf("New() error = %v, want ErrWriterClaimed", err)
	}
}

func TestNew_FailureReleasesStatusWriter(t *testing.T) {
	st := status.NewStore()
	cfg := config.Default()
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg.DataDir = blocker
	opts := Options{
		Remote:      &acceptingRemote{},
		Uploader:    stubUploader{},
		Status:      st,
		SkipLogging: true,
	}
	if _, err := New(context.Background(), cfg, opts); err == nil {
		t.Fatal("New() with a file as data dir succeeded")
	}

	cfg.DataDir = t.TempDir()
	a, err := New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("New() after failed New error = %v", err)
	}
	a.Close()
}

func TestClose_ReleasesStatusWriter(t *testing.T) {
	st := status.NewStore()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	opts := Options{
		Remote:      &acceptingRemote{},
		Uploader:    stubUploader{},
		Status:      st,
		SkipLogging: true,
	}
	first, err := New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("New() after Close error = %v", err)
	}
	defer second.Close()
	// Closing the first app again must not free the second app's claim.
	first.Close()
	if _, err := st.ClaimWriter(); !apperrors.Is(err, apperrors.ErrWriterClaimed) {
		t.Errorf("ClaimWriter() error = %v, want ErrWriterClaimed", err)
	}
}

type closeRecorder struct {
	gosync.Mutex
	closed int
}

func (c *closeRecorder) Write(p []byte) (int, error) { return len(p), nil }

func (c *closeRecorder) Close() error {
	c.Lock()
	defer c.Unlock()
	c.closed++
	return nil
}

func TestReloadLogging_ClosesReplacedOutput(t *testing.T) {
	a, _ := newTestApp(t)
	out := &closeRecorder{}
	a.logger = logging.New(out, logging.LevelInfo)

	if err := a.ReloadLogging(logging.Options{Level: "debug"}); err != nil {
		t.Fatalf("ReloadLogging() error = %v", err)
	}
	if out.closed != 1 {
		t.Errorf("replaced output closed %d times, want 1", out.closed)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if out.closed != 1 {
		t.Errorf("Close() closed the replaced output again (%d)", out.closed)
	}
}

func TestSyncNow_PushesLocalEdits(t *testing.T) {
	a, rem := newTestApp(t)
	ctx := context.Background()

	c, err := a.Records.Clients.Create(ctx, &models.Client{TrainerID: "t1", Name: "Ana"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	result, err := a.SyncNow(ctx)
	if err != nil {
		t.Fatalf("SyncNow() error = %v", err)
	}
	if result.Pushed != 1 || rem.pushCount() != 1 {
		t.Errorf("pushed = %d (remote saw %d), want 1", result.Pushed, rem.pushCount())
	}
	got, err := a.Records.Clients.Find(ctx, c.ID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got.SyncStatus != models.StatusSynced {
		t.Errorf("SyncStatus = %q, want synced", got.SyncStatus)
	}
	if snap := a.Status.Snapshot(); snap.State != status.StateIdle || snap.LastSyncedAt == nil {
		t.Errorf("status = %+v", snap)
	}
}

func TestAddAsset_UploadsAttachesAndReleasesStaging(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	c, err := a.Records.Clients.Create(ctx, &models.Client{TrainerID: "t1", Name: "Ana"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	asset, err := a.AddAsset(ctx, queue.Descriptor{
		LocalPath:       writePhoto(t, "jpeg bytes"),
		ContentType:     "image/jpeg",
		OwnerCollection: models.CollectionClients,
		OwnerID:         c.ID,
		OwnerField:      "avatar_url",
	})
	if err != nil {
		t.Fatalf("AddAsset() error = %v", err)
	}
	if !a.staging.Owns(asset.LocalPath) {
		t.Fatalf("LocalPath %q is not staged", asset.LocalPath)
	}

	runApp(t, a)
	want := "https://cdn.example.com/" + filepath.Base(asset.LocalPath)
	waitFor(t, "avatar attached", func() bool {
		got, err := a.Records.Clients.Find(ctx, c.ID)
		return err == nil && got.AvatarURL == want
	})
	waitFor(t, "staged copy removed", func() bool {
		_, err := os.Stat(asset.LocalPath)
		return os.IsNotExist(err)
	})
}

func TestRemoveAsset_DeletesStagedCopy(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	asset, err := a.AddAsset(ctx, queue.Descriptor{
		LocalPath:       writePhoto(t, "other bytes"),
		OwnerCollection: models.CollectionClients,
		OwnerID:         "c1",
		OwnerField:      "avatar_url",
	})
	if err != nil {
		t.Fatalf("AddAsset() error = %v", err)
	}
	if err := a.RemoveAsset(ctx, asset.ID); err != nil {
		t.Fatalf("RemoveAsset() error = %v", err)
	}
	if _, err := os.Stat(asset.LocalPath); !os.IsNotExist(err) {
		t.Errorf("staged file still present: %v", err)
	}
	if err := a.RemoveAsset(ctx, asset.ID); !apperrors.IsNotFound(err) {
		t.Errorf("second RemoveAsset() error = %v, want NotFound", err)
	}
}

func TestAddAsset_MissingFile(t *testing.T) {
	a, _ := newTestApp(t)
	_, err := a.AddAsset(context.Background(), queue.Descriptor{
		LocalPath:       filepath.Join(t.TempDir(), "gone.jpg"),
		OwnerCollection: models.CollectionClients,
		OwnerID:         "c1",
		OwnerField:      "avatar_url",
	})
	if !apperrors.IsNotFound(err) {
		t.Errorf("AddAsset() error = %v, want NotFound", err)
	}
}
