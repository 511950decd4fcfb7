package updater

import (
	"fmt"
	"os"
)

// extensionScope renames a file to end in the given suffix for the
// duration of a scoped operation, then restores (or finalizes) it on every
// exit path. It encapsulates the "rename-to-change-extension idiom" Design
// Notes calls out: the verifier dispatches on file extension, so the
// engine must temporarily wear one.
type extensionScope struct {
	originalPath string
	scopedPath   string
}

// enterExtensionScope renames path so its last len(suffix) characters
// become suffix (e.g. ".cvd"/".cld"), matching the original's
// last-4-characters replacement.
func enterExtensionScope(path, suffix string) (*extensionScope, error) {
	scoped := path[:len(path)-len(suffix)] + suffix
	if err := os.Rename(path, scoped); err != nil {
		return nil, err
	}
	return &extensionScope{originalPath: path, scopedPath: scoped}, nil
}

// restore renames the file back to its original path, handing the caller
// a stable name regardless of what verification did.
func (s *extensionScope) restore() error {
	return os.Rename(s.scopedPath, s.originalPath)
}

// GetFull fetches an entire signed archive into tmpfile, verifies its
// signature and header, and checks its version against the version the
// oracle advertised. If bundleVerifier is configured, it also probes the
// mirror for a detached sigstore bundle published alongside the archive
// and validates it; absence of a bundle is not an error, since the
// archive's own embedded signature is the mandatory gate.
func GetFull(f *Fetcher, verifier ArchiveVerifier, parser ArchiveHeaderParser, bundleVerifier *SignatureBundleVerifier, remoteFilename, tmpfile, server string, expectedVersion uint32) (*Header, Status, error) {
	url := fmt.Sprintf("%s/%s", server, remoteFilename)

	_, outcome, err := fetchInto(f, url, tmpfile, 0)
	if err != nil {
		return nil, StatusConnectionError, err
	}
	switch outcome.Kind {
	case FetchUpToDate:
		return nil, StatusUpToDate, nil
	case FetchNotFound:
		return nil, StatusFailedGet, statusErr("GetFull", StatusFailedGet, fmt.Errorf("not found: %s", url))
	case FetchOriginTimeout:
		return nil, StatusConnectionError, statusErr("GetFull", StatusConnectionError, fmt.Errorf("origin timeout: %s", url))
	case FetchHTTPOther:
		return nil, StatusFailedGet, statusErr("GetFull", StatusFailedGet, fmt.Errorf("http %d: %s", outcome.HTTPCode, url))
	case FetchTransportError:
		return nil, StatusConnectionError, statusErr("GetFull", StatusConnectionError, fmt.Errorf("%s", outcome.Detail))
	}

	suffix := remoteFilename[len(remoteFilename)-4:]
	scope, err := enterExtensionScope(tmpfile, suffix)
	if err != nil {
		return nil, StatusDirAccessError, statusErr("GetFull", StatusDirAccessError, err)
	}

	data, err := os.ReadFile(scope.scopedPath)
	if err != nil {
		_ = scope.restore()
		return nil, StatusFileError, statusErr("GetFull", StatusFileError, err)
	}
	if len(data) < headerSize {
		_ = scope.restore()
		return nil, StatusBadArchive, statusErr("GetFull", StatusBadArchive, fmt.Errorf("short archive"))
	}

	header, err := parser.ParseHeader(data[:headerSize])
	if err != nil {
		_ = scope.restore()
		return nil, StatusBadArchive, err
	}

	if err := verifier.Verify(scope.scopedPath, header); err != nil {
		_ = scope.restore()
		return nil, StatusBadArchive, err
	}

	if err := scope.restore(); err != nil {
		return nil, StatusDirAccessError, statusErr("GetFull", StatusDirAccessError, err)
	}

	if bundleVerifier != nil && bundleVerifier.Configured() {
		if err := verifyDetachedBundle(f, bundleVerifier, url, tmpfile); err != nil {
			return nil, StatusBadArchive, err
		}
	}

	switch {
	case header.Version == expectedVersion:
		return header, StatusOK, nil
	case expectedVersion > 0 && header.Version == expectedVersion-1:
		logWarning("GetFull: mirror not synchronized for %s (have %d, expected %d)\n", remoteFilename, header.Version, expectedVersion)
		return header, StatusUpToDate, nil
	case expectedVersion > 0 && header.Version < expectedVersion-1:
		return header, StatusMirrorNotSync, statusErr("GetFull", StatusMirrorNotSync, fmt.Errorf("mirror serving version %d, expected at least %d", header.Version, expectedVersion-1))
	default:
		// header.Version > expectedVersion: newer than advertised is fine.
		return header, StatusOK, nil
	}
}

// verifyDetachedBundle probes for a "<archive-url>.sigstore.json" bundle
// published alongside the archive and, if one exists, validates it against
// archivePath. A missing bundle (404, or any other non-OK fetch outcome) is
// not an error — the archive's embedded signature remains the mandatory
// check; this is purely additive.
func verifyDetachedBundle(f *Fetcher, bundleVerifier *SignatureBundleVerifier, archiveURL, archivePath string) error {
	bundleBytes, outcome, err := f.FetchMemory(archiveURL+".sigstore.json", 0)
	if err != nil || outcome.Kind != FetchOK {
		return nil
	}

	bundlePath := archivePath + ".sigstore.json"
	if err := os.WriteFile(bundlePath, bundleBytes, 0644); err != nil {
		return statusErr("verifyDetachedBundle", StatusFileError, err)
	}
	defer func() { _ = os.Remove(bundlePath) }()

	return bundleVerifier.VerifyBundle(archivePath, bundlePath)
}

// fetchInto downloads url into a caller-chosen path. The Fetcher always
// allocates its own unique temp name, so this copies/renames the result
// into place, cleaning up its own scratch file on every exit path.
func fetchInto(f *Fetcher, url, destPath string, ifModifiedSince int64) (int64, FetchOutcome, error) {
	path, outcome, err := f.FetchFile(url, ifModifiedSince)
	if err != nil || outcome.Kind != FetchOK {
		return 0, outcome, err
	}
	if err := os.Rename(path, destPath); err != nil {
		_ = os.Remove(path)
		return 0, FetchOutcome{Kind: FetchTransportError, Detail: err.Error()}, err
	}
	return outcome.BytesWritten, outcome, nil
}
