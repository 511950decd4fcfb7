package updater

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.ConnectTimeout = 5 * time.Second
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func TestFetcher_FetchMemory_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(t))
	body, outcome, err := f.FetchMemory(srv.URL, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != FetchOK {
		t.Fatalf("Kind = %v, want FetchOK", outcome.Kind)
	}
	if string(body) != "hello world" {
		t.Errorf("body = %q", body)
	}
}

func TestFetcher_FetchMemory_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(t))
	_, outcome, err := f.FetchMemory(srv.URL, time.Now().Unix())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != FetchUpToDate {
		t.Fatalf("Kind = %v, want FetchUpToDate", outcome.Kind)
	}
}

func TestFetcher_FetchMemory_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(t))
	_, outcome, err := f.FetchMemory(srv.URL, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != FetchNotFound {
		t.Fatalf("Kind = %v, want FetchNotFound", outcome.Kind)
	}
}

func TestFetcher_FetchMemoryRange_HonorsRange(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(t))
	_, outcome, err := f.FetchMemoryRange(srv.URL, 0, 511, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != FetchOK {
		t.Fatalf("Kind = %v, want FetchOK", outcome.Kind)
	}
	if gotRange != "bytes=0-511" {
		t.Errorf("Range header = %q, want bytes=0-511", gotRange)
	}
}

func TestFetcher_FetchFile_WritesAndCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("archive-contents"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	f := NewFetcher(cfg)
	path, outcome, err := f.FetchFile(srv.URL, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != FetchOK {
		t.Fatalf("Kind = %v, want FetchOK", outcome.Kind)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != "archive-contents" {
		t.Errorf("content = %q", data)
	}
}

func TestFetcher_FetchFile_NoFileOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	f := NewFetcher(cfg)
	path, outcome, err := f.FetchFile(srv.URL, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != FetchHTTPOther {
		t.Fatalf("Kind = %v, want FetchHTTPOther", outcome.Kind)
	}
	if path != "" {
		t.Errorf("expected no path on error, got %q", path)
	}
}
