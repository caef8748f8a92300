package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neurotunes/sequencer/config"
	"github.com/neurotunes/sequencer/models"
)

func writeTestCatalog(t *testing.T, dir string) string {
	t.Helper()

	tracks := []models.Track{
		{ID: "a", Title: "Alpha", Artist: "One", Key: "1A", Valence: 0.8, Arousal: 0.8, Dominance: 0.8, Tempo: 120, DurationSec: 180, Genre: "ambient", Mood: "calm"},
		{ID: "b", Title: "Beta", Artist: "Two", Key: "2A", Valence: 0.7, Arousal: 0.7, Dominance: 0.7, Tempo: 118, DurationSec: 200, Genre: "ambient", Mood: "calm"},
	}
	data, err := json.Marshal(tracks)
	if err != nil {
		t.Fatalf("Failed to marshal catalog: %v", err)
	}

	path := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write catalog file: %v", err)
	}
	return path
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Port:                   "8080",
		DatabasePath:           filepath.Join(dir, "test.db"),
		CatalogPath:            writeTestCatalog(t, dir),
		LogLevel:               "warn",
		CrossfadeMs:            3000,
		PreloadLeadMs:          1000,
		RateLimitEnabled:       false,
		SecurityHeadersEnabled: true,
	}

	server, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})

	return server
}

func TestNew(t *testing.T) {
	server := newTestServer(t)

	if server.logger == nil {
		t.Error("Logger should not be nil")
	}
	if server.catalog == nil {
		t.Error("Catalog should not be nil")
	}
	if server.catalog.Size() != 2 {
		t.Errorf("Catalog size = %d, want 2", server.catalog.Size())
	}
	if server.store == nil {
		t.Error("Profile store should not be nil")
	}
	if server.profile == nil {
		t.Error("Profile should not be nil")
	}
	if server.controller == nil {
		t.Error("Session controller should not be nil")
	}
	if server.GetHandlers() == nil {
		t.Error("Handlers should not be nil")
	}
}

func TestNewMissingCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Port:         "8080",
		DatabasePath: filepath.Join(dir, "test.db"),
		CatalogPath:  filepath.Join(dir, "missing.json"),
		LogLevel:     "warn",
	}

	if _, err := New(cfg); err == nil {
		t.Fatal("New should fail when the catalog file does not exist")
	}
}

func TestNewInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Port:         "8080",
		DatabasePath: filepath.Join(dir, "test.db"),
		CatalogPath:  writeTestCatalog(t, dir),
		LogLevel:     "extremely-verbose",
	}

	server, err := New(cfg)
	if err != nil {
		t.Fatalf("New should tolerate an invalid log level: %v", err)
	}
	defer server.Shutdown(context.Background())
}

func TestRouterRoutes(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	t.Run("health", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}

		var resp struct {
			Status string `json:"status"`
			Tracks int    `json:"tracks"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.Status != "ok" || resp.Tracks != 2 {
			t.Errorf("health = %+v, want status ok with 2 tracks", resp)
		}
	})

	t.Run("session lifecycle over HTTP", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/sessions", strings.NewReader(`{"goal":"energy"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d, want %d", w.Code, http.StatusCreated)
		}

		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		req = httptest.NewRequest("POST", "/api/sessions/"+created.ID+"/advance", nil)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("advance status = %d, want %d", w.Code, http.StatusOK)
		}

		var result models.AdvanceResult
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if result.Track == nil {
			t.Fatal("advance should pick a track")
		}

		req = httptest.NewRequest("DELETE", "/api/sessions/"+created.ID, nil)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("delete status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/nope", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest("PUT", "/api/sessions", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
		}
	})
}

func TestRouterSecurityHeaders(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want %q", got, "DENY")
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Port:         "8080",
		DatabasePath: filepath.Join(dir, "test.db"),
		CatalogPath:  writeTestCatalog(t, dir),
		LogLevel:     "warn",
	}

	server, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown without Start failed: %v", err)
	}
}
