package updater

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCustomDBNameFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"file:///var/lib/clamav/custom.cbc", "custom.cbc", false},
		{"https://example.com/dbs/custom.cbc", "custom.cbc", false},
		{"file:///ab", "", true},
		{"https://example.com/", "", true},
	}
	for _, tt := range tests {
		got, err := customDBNameFromURL(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("customDBNameFromURL(%q): expected error", tt.url)
			}
			continue
		}
		if err != nil {
			t.Errorf("customDBNameFromURL(%q): unexpected error: %v", tt.url, err)
		}
		if got != tt.want {
			t.Errorf("customDBNameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestUpdateCustomDB_FileSchemeFreshInstall(t *testing.T) {
	srcDir := t.TempDir()
	dbDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "custom.txt")
	if err := os.WriteFile(srcPath, []byte("sig1\nsig2\nsig3\n"), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	cfg := testConfig(t)
	cfg.DatabaseDir = dbDir
	installer := NewInstaller(cfg)

	result := installer.UpdateCustomDB("file://"+srcPath, nil, true)
	if result.Status != StatusOK {
		t.Fatalf("Status = %v, want StatusOK", result.Status)
	}
	if !result.Updated {
		t.Fatal("expected Updated = true for fresh install")
	}
	if result.Sigs != 3 {
		t.Errorf("Sigs = %d, want 3", result.Sigs)
	}

	installed, err := os.ReadFile(filepath.Join(dbDir, "custom.txt"))
	if err != nil {
		t.Fatalf("reading installed file: %v", err)
	}
	if string(installed) != "sig1\nsig2\nsig3\n" {
		t.Errorf("installed content = %q", installed)
	}
}

func TestUpdateCustomDB_FileSchemeUpToDate(t *testing.T) {
	srcDir := t.TempDir()
	dbDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "custom.txt")
	destPath := filepath.Join(dbDir, "custom.txt")

	if err := os.WriteFile(srcPath, []byte("old\n"), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := os.WriteFile(destPath, []byte("old\n"), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	// Ensure the installed copy is not older than the source.
	now := time.Now()
	if err := os.Chtimes(destPath, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(srcPath, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	cfg := testConfig(t)
	cfg.DatabaseDir = dbDir
	installer := NewInstaller(cfg)

	result := installer.UpdateCustomDB("file://"+srcPath, nil, true)
	if result.Status != StatusOK {
		t.Fatalf("Status = %v, want StatusOK", result.Status)
	}
	if result.Updated {
		t.Fatal("expected Updated = false when source is not newer")
	}
}

func TestUpdateCustomDB_HTTPUpToDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	dbDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dbDir, "custom.cbc"), []byte("x"), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	cfg := testConfig(t)
	cfg.DatabaseDir = dbDir
	installer := NewInstaller(cfg)

	result := installer.UpdateCustomDB(srv.URL+"/custom.cbc", nil, true)
	if result.Status != StatusOK || result.Updated {
		t.Fatalf("got %+v, want up-to-date success", result)
	}
}

func TestCountCustomDBSignatures(t *testing.T) {
	dir := t.TempDir()
	parser := defaultHeaderParser{}

	cbcPath := filepath.Join(dir, "x.cbc")
	if err := os.WriteFile(cbcPath, []byte("anything"), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	sigs, err := countCustomDBSignatures(cbcPath, parser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sigs != 1 {
		t.Errorf(".cbc sigs = %d, want 1", sigs)
	}

	txtPath := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(txtPath, []byte("a\nb\nc\n"), 0644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	sigs, err = countCustomDBSignatures(txtPath, parser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sigs != 3 {
		t.Errorf("plain-text sigs = %d, want 3", sigs)
	}
}
