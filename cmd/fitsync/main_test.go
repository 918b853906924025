package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

type syncServer struct {
	*httptest.Server
	mu    sync.Mutex
	pulls []string
}

func newSyncServer(t *testing.T) *syncServer {
	t.Helper()
	s := &syncServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": []interface{}{}})
	})
	mux.HandleFunc("/v1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.pulls = append(s.pulls, r.URL.Query().Get("collection"))
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"changes": []interface{}{}, "next_cursor": "c1", "has_more": false})
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
data_dir: %s
remote:
  base_url: %s
  retry_max: 0
assets:
  s3:
    provider: minio
    endpoint: 127.0.0.1:9
    bucket: media
    access_key: test
    secret_key: test-secret
logging:
  level: error
`, filepath.Join(dir, "data"), baseURL)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	cmd := newRootCmd()
	want := map[string]bool{"run": false, "sync": false, "status": false, "assets": false}
	for _, c := range cmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing command %q", name)
		}
	}
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestSyncCmd_PullsEveryCollection(t *testing.T) {
	srv := newSyncServer(t)
	cfg := writeConfig(t, srv.URL)

	out, err := execute(t, "--config", cfg, "sync")
	if err != nil {
		t.Fatalf("sync error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Pushed:    0") {
		t.Errorf("output = %q", out)
	}
	srv.mu.Lock()
	pulls := len(srv.pulls)
	srv.mu.Unlock()
	if pulls != 6 {
		t.Errorf("pull requests = %d, want one per collection", pulls)
	}

	out, err = execute(t, "--config", cfg, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(out, "clients") || !strings.Contains(out, "c1") {
		t.Errorf("status output = %q", out)
	}
}

func TestAssetsCmds(t *testing.T) {
	srv := newSyncServer(t)
	cfg := writeConfig(t, srv.URL)
	photo := filepath.Join(t.TempDir(), "ana.jpg")
	if err := os.WriteFile(photo, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfg, "assets", "list")
	if err != nil || !strings.Contains(out, "No queued assets") {
		t.Fatalf("assets list = %q, %v", out, err)
	}

	out, err = execute(t, "--config", cfg, "assets", "add", photo, "clients", "c1", "avatar_url")
	if err != nil {
		t.Fatalf("assets add error = %v", err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Queued "))
	if id == "" {
		t.Fatalf("assets add output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "assets", "list")
	if err != nil || !strings.Contains(out, id) || !strings.Contains(out, "clients/c1.avatar_url") {
		t.Errorf("assets list = %q, %v", out, err)
	}

	if _, err := execute(t, "--config", cfg, "assets", "add", photo, "clients", "c1", "name"); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("add to non-asset field error = %v, want ErrInvalid", err)
	}

	if _, err := execute(t, "--config", cfg, "assets", "rm", id); err != nil {
		t.Fatalf("assets rm error = %v", err)
	}
	if _, err := execute(t, "--config", cfg, "assets", "retry", id); !apperrors.IsNotFound(err) {
		t.Errorf("retry removed asset error = %v, want NotFound", err)
	}
}
