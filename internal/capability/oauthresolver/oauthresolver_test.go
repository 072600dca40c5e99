package oauthresolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"golang.org/x/oauth2/clientcredentials"

	"invocore/internal/capability"
)

var _ capability.RemoteFileResolver = (*Resolver)(nil)

func TestResolver_AttachesBearerTokenAndDownloads(t *testing.T) {
	var sawAuth string
	artifactSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("build-artifact"))
	}))
	defer artifactSrv.Close()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	cfg := clientcredentials.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	}

	dir := t.TempDir()
	r := New(cfg, dir)

	uri := "gs://" + strings.TrimPrefix(artifactSrv.URL, "http://") + "/build.zip"
	path, err := r.Resolve(context.Background(), uri)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if !strings.HasPrefix(sawAuth, "Bearer ") {
		t.Fatalf("expected bearer token header, got %q", sawAuth)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "build-artifact" {
		t.Fatalf("unexpected content: %q", data)
	}
}
