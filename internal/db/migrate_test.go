package db

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrator_Up(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	files := fstest.MapFS{
		"V1__one.up.sql": {Data: []byte("CREATE TABLE one (id TEXT PRIMARY KEY);")},
		"V2__two.up.sql": {Data: []byte("ALTER TABLE one ADD COLUMN name TEXT;")},
		"README.md":      {Data: []byte("ignored")},
	}
	m := NewMigrator(db, files)

	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	version, err := m.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		t.Fatalf("Applied() error = %v", err)
	}
	if len(applied) != 2 || applied[0].Description != "one" || len(applied[1].Checksum) != 64 {
		t.Errorf("Applied() = %+v", applied)
	}

	// Second run is a no-op.
	if err := m.Up(ctx); err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
}

func TestMigrator_RejectsDestructive(t *testing.T) {
	tests := []string{
		"DROP TABLE records;",
		"ALTER TABLE records DROP COLUMN data;",
		"ALTER TABLE records RENAME COLUMN data TO payload;",
		"alter table records rename to old_records;",
	}
	for _, sqlText := range tests {
		t.Run(sqlText, func(t *testing.T) {
			db := openMemory(t)
			m := NewMigrator(db, fstest.MapFS{"V1__bad.up.sql": {Data: []byte(sqlText)}})
			err := m.Up(context.Background())
			if !apperrors.Is(err, apperrors.ErrMigration) {
				t.Errorf("Up() error = %v, want ErrMigration", err)
			}
		})
	}
}

func TestMigrator_DetectsModifiedMigration(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	if err := NewMigrator(db, fstest.MapFS{"V1__one.up.sql": {Data: []byte("CREATE TABLE one (id TEXT);")}}).Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	changed := fstest.MapFS{"V1__one.up.sql": {Data: []byte("CREATE TABLE one (id TEXT, x TEXT);")}}
	if err := NewMigrator(db, changed).Up(ctx); !apperrors.Is(err, apperrors.ErrMigration) {
		t.Errorf("Up() error = %v, want ErrMigration", err)
	}
}

func TestMigrations_Embedded(t *testing.T) {
	m := NewMigrator(nil, Migrations())
	files, err := m.list()
	if err != nil {
		t.Fatalf("list() error = %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("embedded migrations = %d, want at least 2", len(files))
	}
	for i, f := range files {
		if f.version != i+1 {
			t.Errorf("migration %d has version %d", i, f.version)
		}
	}
}
