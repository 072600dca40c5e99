package httpresolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"invocore/internal/capability"
)

var _ capability.RemoteFileResolver = (*Resolver)(nil)

func TestResolver_DownloadsHTTPToDestDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	r := New(dir)

	path, err := r.Resolve(context.Background(), srv.URL+"/build.zip")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected file under %q, got %q", dir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "artifact-bytes" {
		t.Fatalf("unexpected downloaded content: %q", data)
	}
}

func TestResolver_FileSchemeReturnsPathDirectly(t *testing.T) {
	r := New(t.TempDir())
	path, err := r.Resolve(context.Background(), "file:///etc/hosts")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if path != "/etc/hosts" {
		t.Fatalf("expected /etc/hosts, got %q", path)
	}
}

func TestResolver_RejectsUnsupportedScheme(t *testing.T) {
	r := New(t.TempDir())
	if _, err := r.Resolve(context.Background(), "ftp://example.com/build.zip"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
