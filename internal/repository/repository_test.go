package repository

import (
	"context"
	"testing"
	"time"

	"github.com/kimhsiao/fitsync/internal/db"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
)

func setupStore(t *testing.T) *db.Store {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	store := db.NewStore(database)
	t.Cleanup(func() { store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

// markSynced simulates a server ack.
func markSynced(t *testing.T, store *db.Store, collection, id string) {
	t.Helper()
	err := store.Write(context.Background(), func(tx *db.Tx) error {
		rec, err := tx.Get(collection, id)
		if err != nil {
			return err
		}
		rec.SyncStatus = models.StatusSynced
		return tx.Put(rec)
	})
	if err != nil {
		t.Fatalf("markSynced: %v", err)
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	clients := NewClients(setupStore(t))

	c, err := clients.Create(ctx, &models.Client{TrainerID: "t1", Name: "Ana"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.ID == "" || c.CreatedAt == 0 || c.UpdatedAt != c.CreatedAt {
		t.Errorf("Create() metadata = %+v", c.SyncMeta)
	}
	if c.SyncStatus != models.StatusCreated || c.DeletedAt != nil {
		t.Errorf("Create() status = %q deletedAt = %v", c.SyncStatus, c.DeletedAt)
	}

	if _, err := clients.Create(ctx, &models.Client{SyncMeta: models.SyncMeta{ID: c.ID}}); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("duplicate Create() error = %v, want ErrInvalid", err)
	}
}

func TestUpdate_CreatedDominates(t *testing.T) {
	ctx := context.Background()
	clients := NewClients(setupStore(t))

	c, _ := clients.Create(ctx, &models.Client{Name: "Ana"})
	updated, err := clients.Update(ctx, c.ID, models.ClientPatch{Goals: strPtr("run a 10k")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.SyncStatus != models.StatusCreated {
		t.Errorf("status after update of unsynced create = %q, want created", updated.SyncStatus)
	}
	if updated.Name != "Ana" || updated.Goals != "run a 10k" {
		t.Errorf("Update() = %+v", updated)
	}
}

func TestUpdate_AfterSync(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	clients := NewClients(store)

	c, _ := clients.Create(ctx, &models.Client{Name: "Ana"})
	markSynced(t, store, models.CollectionClients, c.ID)

	got, _ := clients.Find(ctx, c.ID)
	if got.SyncStatus != models.StatusSynced {
		t.Fatalf("status = %q, want synced", got.SyncStatus)
	}

	updated, err := clients.Update(ctx, c.ID, models.ClientPatch{Name: strPtr("Ana L")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.SyncStatus != models.StatusUpdated {
		t.Errorf("status = %q, want updated", updated.SyncStatus)
	}
	if updated.UpdatedAt < c.UpdatedAt {
		t.Errorf("UpdatedAt went backwards: %d < %d", updated.UpdatedAt, c.UpdatedAt)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	ctx := context.Background()
	clients := NewClients(setupStore(t))

	if _, err := clients.Update(ctx, "missing", models.ClientPatch{}); !apperrors.IsNotFound(err) {
		t.Errorf("Update(missing) error = %v, want NotFound", err)
	}

	c, _ := clients.Create(ctx, &models.Client{Name: "Ana"})
	_ = clients.Delete(ctx, c.ID)
	if _, err := clients.Update(ctx, c.ID, models.ClientPatch{Name: strPtr("x")}); !apperrors.IsNotFound(err) {
		t.Errorf("Update(tombstone) error = %v, want NotFound", err)
	}
}

func TestDelete_Tombstone(t *testing.T) {
	ctx := context.Background()
	clients := NewClients(setupStore(t))

	var latest []*models.Client
	sub, err := clients.Observe(func(cs []*models.Client, err error) {
		if err != nil {
			t.Errorf("observe error = %v", err)
		}
		latest = cs
	})
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	defer sub.Close()

	c, _ := clients.Create(ctx, &models.Client{Name: "Ana"})
	if len(latest) != 1 {
		t.Fatalf("observe after create len = %d", len(latest))
	}

	if err := clients.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(latest) != 0 {
		t.Errorf("deleted record still observed")
	}

	if _, err := clients.Find(ctx, c.ID); !apperrors.IsNotFound(err) {
		t.Errorf("Find() error = %v, want NotFound", err)
	}
	tomb, err := clients.Find(ctx, c.ID, IncludeTombstones())
	if err != nil {
		t.Fatalf("Find(IncludeTombstones) error = %v", err)
	}
	if tomb.DeletedAt == nil || tomb.SyncStatus != models.StatusDeleted {
		t.Errorf("tombstone = %+v", tomb.SyncMeta)
	}

	if err := clients.Delete(ctx, c.ID); !apperrors.IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want NotFound", err)
	}
}

func TestList_Filters(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	set := NewSet(store)

	client, _ := set.Clients.Create(ctx, &models.Client{Name: "Ana"})
	other, _ := set.Clients.Create(ctx, &models.Client{Name: "Bo"})
	for i := 0; i < 3; i++ {
		if _, err := set.ClientPhotos.Create(ctx, &models.ClientPhoto{ClientID: client.ID, Pose: "front"}); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = set.ClientPhotos.Create(ctx, &models.ClientPhoto{ClientID: other.ID})

	photos, err := set.ClientPhotos.List(ctx, Where("client_id", client.ID))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(photos) != 3 {
		t.Errorf("List(client_id) len = %d, want 3", len(photos))
	}

	limited, _ := set.ClientPhotos.List(ctx, Limit(2))
	if len(limited) != 2 {
		t.Errorf("List(Limit) len = %d", len(limited))
	}

	markSynced(t, store, models.CollectionClients, other.ID)
	pending, _ := set.Clients.List(ctx, WithStatus(models.StatusCreated))
	if len(pending) != 1 || pending[0].ID != client.ID {
		t.Errorf("List(WithStatus) = %v", pending)
	}
}

func TestAttachAssetURL(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	clients := NewClients(store)

	c, _ := clients.Create(ctx, &models.Client{Name: "Ana"})
	markSynced(t, store, models.CollectionClients, c.ID)

	if err := AttachAssetURL(ctx, store, models.CollectionClients, c.ID, "avatar_url", "https://cdn/x.jpg"); err != nil {
		t.Fatalf("AttachAssetURL() error = %v", err)
	}
	got, _ := clients.Find(ctx, c.ID)
	if got.AvatarURL != "https://cdn/x.jpg" || got.SyncStatus != models.StatusUpdated {
		t.Errorf("after attach = %+v", got)
	}

	if err := AttachAssetURL(ctx, store, models.CollectionClients, c.ID, "name", "x"); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("non-asset field error = %v", err)
	}
	_ = clients.Delete(ctx, c.ID)
	if err := AttachAssetURL(ctx, store, models.CollectionClients, c.ID, "avatar_url", "y"); !apperrors.IsNotFound(err) {
		t.Errorf("deleted owner error = %v, want NotFound", err)
	}
}

func TestNextStatus(t *testing.T) {
	tests := map[models.SyncStatus]models.SyncStatus{
		models.StatusCreated: models.StatusCreated,
		models.StatusSynced:  models.StatusUpdated,
		models.StatusUpdated: models.StatusUpdated,
	}
	for in, want := range tests {
		if got := NextStatus(in); got != want {
			t.Errorf("NextStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEdits_StampStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	clients := NewClients(store)
	frozen := time.UnixMilli(1_700_000_000_000)
	clients.now = func() time.Time { return frozen }

	c, _ := clients.Create(ctx, &models.Client{Name: "Ana"})
	first, err := clients.Update(ctx, c.ID, models.ClientPatch{Name: strPtr("Ana L")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	second, _ := clients.Update(ctx, c.ID, models.ClientPatch{Name: strPtr("Ana Lee")})
	if first.UpdatedAt <= c.UpdatedAt || second.UpdatedAt <= first.UpdatedAt {
		t.Errorf("stamps = %d, %d, %d; want strictly increasing", c.UpdatedAt, first.UpdatedAt, second.UpdatedAt)
	}

	if err := AttachAssetURL(ctx, store, models.CollectionClients, c.ID, "avatar_url", "https://cdn/a.jpg"); err != nil {
		t.Fatalf("AttachAssetURL() error = %v", err)
	}
	attached, _ := clients.Find(ctx, c.ID)
	if attached.UpdatedAt <= second.UpdatedAt {
		t.Errorf("attach stamp = %d, want > %d", attached.UpdatedAt, second.UpdatedAt)
	}

	if err := clients.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	gone, _ := clients.Find(ctx, c.ID, IncludeTombstones())
	if gone.UpdatedAt <= attached.UpdatedAt || *gone.DeletedAt != gone.UpdatedAt {
		t.Errorf("delete stamp = %d deletedAt = %v", gone.UpdatedAt, gone.DeletedAt)
	}
}
