package updater

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPrimaryTXTProvider_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		db      string
		wantOK  bool
		wantVer uint32
	}{
		{"main version present", "0:27:33:1:1:1:5:9", "main", true, 27},
		{"daily version present", "0:27:33:1:1:1:5:9", "daily", true, 33},
		{"unknown db has no field", "0:27:33:1:1:1:5:9", "unknown", false, 0},
		{"empty record", "", "main", false, 0},
		{"zero field is not a version", "0:0:33", "main", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := primaryTXTProvider{record: tt.record}
			version, _, ok := p.resolve(tt.db)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && version != tt.wantVer {
				t.Errorf("version = %d, want %d", version, tt.wantVer)
			}
		})
	}
}

func TestOracle_HTTPFallback_OfficialMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(makeHeaderBytes(t, "sig:1700000000:42:100:90:builder:s:clamavbuilder"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.DNSServer = "127.0.0.1:1" // unreachable, forces fallback to HTTP
	cfg.DNSTimeout = 200 * time.Millisecond
	fetcher := NewFetcher(cfg)
	oracle := NewOracle(cfg, fetcher)

	remote, status, err := oracle.Resolve("main", 0, "", srv.URL, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %v, want StatusOK", status)
	}
	if remote.Version != 42 {
		t.Errorf("Version = %d, want 42", remote.Version)
	}
	if remote.RemoteFilename != "main.cvd" {
		t.Errorf("RemoteFilename = %q, want main.cvd", remote.RemoteFilename)
	}
}

func TestOracle_HTTPFallback_UpToDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.DNSServer = "127.0.0.1:1"
	cfg.DNSTimeout = 200 * time.Millisecond
	fetcher := NewFetcher(cfg)
	oracle := NewOracle(cfg, fetcher)

	_, status, err := oracle.Resolve("main", time.Now().Unix(), "", srv.URL, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusUpToDate {
		t.Fatalf("status = %v, want StatusUpToDate", status)
	}
}
