package updater

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	pgzip "github.com/klauspost/pgzip"
)

func writeWorkingCopy(t *testing.T, dir, db string) {
	t.Helper()
	mustWrite := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	mustWrite("COPYING", "license text")
	mustWrite(db+".info", "sig:1700000000:5:20:90:builder:s:clamavbuilder\nextra garbage past newline")
	mustWrite("extra.db", "signature data")
}

func TestRepack_ProducesParsableHeader(t *testing.T) {
	dir := t.TempDir()
	writeWorkingCopy(t, dir, "daily")

	tmpfile := filepath.Join(t.TempDir(), "repacked.cld")
	if err := Repack(dir, "daily", tmpfile, true); err != nil {
		t.Fatalf("Repack failed: %v", err)
	}

	data, err := os.ReadFile(tmpfile)
	if err != nil {
		t.Fatalf("reading repacked file: %v", err)
	}
	if len(data) < headerSize {
		t.Fatalf("repacked file shorter than header: %d bytes", len(data))
	}

	parser := defaultHeaderParser{}
	header, err := parser.ParseHeader(data[:headerSize])
	if err != nil {
		t.Fatalf("parsing repacked header: %v", err)
	}
	if header.Version != 5 {
		t.Errorf("Version = %d, want 5", header.Version)
	}

	gz, err := pgzip.NewReader(fileReaderAt(t, tmpfile, headerSize))
	if err != nil {
		t.Fatalf("opening gzip body: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}
	if len(names) == 0 {
		t.Fatal("expected at least one tar entry")
	}
	if names[0] != "COPYING" {
		t.Errorf("first tar entry = %q, want COPYING", names[0])
	}
}

func TestRepack_FailsWithoutCopying(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "daily.info"), []byte("x:1:1:1:1:a:b:c\n"), 0644); err != nil {
		t.Fatalf("fixture write: %v", err)
	}

	tmpfile := filepath.Join(t.TempDir(), "repacked.cld")
	if err := Repack(dir, "daily", tmpfile, false); err == nil {
		t.Fatal("expected error when COPYING is missing")
	}
}

func fileReaderAt(t *testing.T, path string, offset int64) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	t.Cleanup(func() { _ = f.Close() })
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		t.Fatalf("seeking %s: %v", path, err)
	}
	return f
}
