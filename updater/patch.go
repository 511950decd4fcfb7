package updater

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// PatchApplier applies one differential patch to a working copy directory.
// The .cdiff wire format itself is opaque to this subsystem; only the
// interface contract matters here.
type PatchApplier interface {
	Apply(patchPath, workDir string) error
}

// defaultPatchApplier interprets a minimal line-oriented patch protocol:
//
//	OPEN <file>
//	ADD <line>
//	DEL <line-number>
//	CLOSE
//
// one block per file touched by the patch. The real ClamAV .cdiff wire
// format is a binary layout undocumented in this codebase, so this textual
// stand-in is defined and documented explicitly rather than guessed at
// byte-for-byte.
type defaultPatchApplier struct{}

func (defaultPatchApplier) Apply(patchPath, workDir string) error {
	f, err := os.Open(patchPath)
	if err != nil {
		return statusErr("Apply", StatusFileError, err)
	}
	defer func() { _ = f.Close() }()

	var (
		currentFile string
		lines       []string
	)
	flush := func() error {
		if currentFile == "" {
			return nil
		}
		target := filepath.Join(workDir, currentFile)
		content := ""
		for _, l := range lines {
			content += l + "\n"
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return statusErr("Apply", StatusFileError, err)
		}
		currentFile, lines = "", nil
		return nil
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case len(line) > 5 && line[:5] == "OPEN ":
			if err := flush(); err != nil {
				return err
			}
			currentFile = line[5:]
			existing, err := os.ReadFile(filepath.Join(workDir, currentFile))
			if err == nil {
				lines = splitLines(string(existing))
			}
		case len(line) > 4 && line[:4] == "ADD ":
			lines = append(lines, line[4:])
		case len(line) > 4 && line[:4] == "DEL ":
			// DEL <n> removes line n (1-indexed) if present.
			var n int
			if _, err := fmt.Sscanf(line[4:], "%d", &n); err == nil && n >= 1 && n <= len(lines) {
				lines = append(lines[:n-1], lines[n:]...)
			}
		case line == "CLOSE":
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return statusErr("Apply", StatusFailedUpdate, err)
	}
	return flush()
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// ErrEmptyCDiff signals that a patch fetch returned a zero-length body,
// which the Installer treats as a trigger to fall back to a full download
// rather than a hard failure.
var ErrEmptyCDiff = fmt.Errorf("empty cdiff")

// seedScratchDir creates scratchDir (mode 0755) and unpacks the currently
// installed archive into it, if the directory does not already exist.
func seedScratchDir(scratchDir string, local *LocalState, databaseDir string, unpacker ArchiveUnpacker) error {
	if _, err := os.Stat(scratchDir); err == nil {
		return nil
	}
	if local == nil {
		return statusErr("seedScratchDir", StatusDirAccessError, fmt.Errorf("no local archive to seed incremental update"))
	}
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return statusErr("seedScratchDir", StatusDirAccessError, err)
	}
	archivePath := filepath.Join(databaseDir, local.Filename)
	if err := unpacker.Unpack(archivePath, scratchDir); err != nil {
		_ = os.RemoveAll(scratchDir)
		return err
	}
	return nil
}

// downloadPatch fetches and applies one cdiff, retrying transport-level
// failures, origin timeouts and other HTTP errors up to maxAttempts times.
func downloadPatch(f *Fetcher, applier PatchApplier, server, db string, version int, workDir string, maxAttempts int) error {
	url := fmt.Sprintf("%s/%s-%d.cdiff", server, db, version)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		path, outcome, err := f.FetchFile(url, 0)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case outcome.Kind == FetchOK:
			if outcome.BytesWritten == 0 {
				_ = os.Remove(path)
				return ErrEmptyCDiff
			}
			applyErr := applier.Apply(path, workDir)
			_ = os.Remove(path)
			if applyErr != nil {
				return statusErr("downloadPatch", StatusFailedUpdate, applyErr)
			}
			return nil
		case outcome.Kind == FetchNotFound:
			return statusErr("downloadPatch", StatusFailedGet, fmt.Errorf("not found: %s", url))
		case fetchConnectionRetryable(outcome.Kind):
			lastErr = statusErr("downloadPatch", StatusConnectionError, fmt.Errorf("%s", outcome.Detail))
			continue
		default:
			return statusErr("downloadPatch", StatusFailedGet, fmt.Errorf("http %d: %s", outcome.HTTPCode, url))
		}
	}
	return statusErr("downloadPatch", StatusConnectionError, lastErr)
}

// fetchConnectionRetryable reports whether a FetchKind is one of the
// outcomes the patch loop retries: transport-level failures, origin
// timeouts and other HTTP errors, not a clean 404.
func fetchConnectionRetryable(kind FetchKind) bool {
	return kind == FetchTransportError || kind == FetchOriginTimeout || kind == FetchHTTPOther
}
