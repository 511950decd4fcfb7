package updater

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// UpdateResult is the return value of Installer.UpdateDB /
// Installer.UpdateCustomDB.
type UpdateResult struct {
	Filename string
	Sigs     uint32
	Updated  bool
	Status   Status
}

// Installer orchestrates a full update for one database: probe local, ask
// the oracle, choose full vs. incremental, download, validate, and
// atomically install.
type Installer struct {
	cfg             *Config
	fetch           *Fetcher
	oracle          *Oracle
	headerParser    ArchiveHeaderParser
	archiveVerifier ArchiveVerifier
	unpacker        ArchiveUnpacker
	patchApplier    PatchApplier
	bundleVerifier  *SignatureBundleVerifier
}

// NewInstaller wires the default collaborator implementations; the archive
// verifier, unpacker and patch applier can be overridden via the With*
// setters below before first use, so an
// embedder can substitute its own archive verification, unpacking, or
// patch-application logic.
func NewInstaller(cfg *Config) *Installer {
	fetcher := NewFetcher(cfg)
	return &Installer{
		cfg:             cfg,
		fetch:           fetcher,
		oracle:          NewOracle(cfg, fetcher),
		headerParser:    defaultHeaderParser{},
		archiveVerifier: defaultArchiveVerifier{},
		unpacker:        defaultArchiveUnpacker{},
		patchApplier:    defaultPatchApplier{},
		bundleVerifier:  NewSignatureBundleVerifier(cfg.BundleVerifyIdentityRegexp, cfg.BundleVerifyOIDCIssuer),
	}
}

func (in *Installer) WithArchiveVerifier(v ArchiveVerifier) *Installer { in.archiveVerifier = v; return in }
func (in *Installer) WithUnpacker(u ArchiveUnpacker) *Installer        { in.unpacker = u; return in }
func (in *Installer) WithPatchApplier(p PatchApplier) *Installer       { in.patchApplier = p; return in }

func (in *Installer) newTmpPath() string {
	return filepath.Join(in.cfg.TempDir, "fc-install-"+uuid.NewString())
}

// UpdateDB implements the top-level updatedb orchestration.
func (in *Installer) UpdateDB(db string, dnsPrimaryRecord, server string, privateMirror bool, context interface{}, scriptedUpdatesEnabled, verboseErrorFlag bool) UpdateResult {
	logVerbose("UpdateDB: checking %s\n", db)
	warn := verboseError(verboseErrorFlag)

	local, err := CurrentLocal(in.cfg.DatabaseDir, db, in.headerParser)
	if err != nil {
		warn("UpdateDB: local probe failed for %s: %v\n", db, err)
		return UpdateResult{Status: StatusDBDirAccess}
	}

	var localStime int64
	var localVersion uint32
	if local != nil {
		localStime = local.Header.BuildTime
		localVersion = local.Header.Version
	}

	remote, status, err := in.oracle.Resolve(db, localStime, dnsPrimaryRecord, server, privateMirror)
	switch {
	case status == StatusUpToDate && local != nil:
		return UpdateResult{Filename: local.Filename, Sigs: local.Header.Sigs, Updated: false, Status: StatusOK}
	case status == StatusUpToDate && local == nil:
		warn("UpdateDB: %s: server claims up-to-date but nothing is installed\n", db)
		return UpdateResult{Status: StatusFailedGet}
	case err != nil:
		warn("UpdateDB: %s: version resolution failed: %v\n", db, err)
		return UpdateResult{Status: status}
	}

	if remote.Version <= localVersion && local != nil {
		return UpdateResult{Filename: local.Filename, Sigs: local.Header.Sigs, Updated: false, Status: StatusOK}
	}

	tmpfile := in.newTmpPath()
	defer func() { _ = os.Remove(tmpfile) }()

	var (
		newHeader   *Header
		newFilename string
	)

	useIncremental := local != nil && scriptedUpdatesEnabled
	if useIncremental {
		header, filename, incErr := in.runIncremental(db, local, server, privateMirror, localVersion, remote.Version, tmpfile)
		if incErr == nil {
			newHeader, newFilename = header, filename
		} else {
			logVerbose("UpdateDB: %s: incremental update failed (%v), falling back to full download\n", db, incErr)
			useIncremental = false
		}
	}

	if !useIncremental {
		header, fullStatus, fullErr := GetFull(in.fetch, in.archiveVerifier, in.headerParser, in.bundleVerifier, remote.RemoteFilename, tmpfile, server, remote.Version)
		if fullStatus == StatusUpToDate {
			if local != nil {
				return UpdateResult{Filename: local.Filename, Sigs: local.Header.Sigs, Updated: false, Status: StatusOK}
			}
			return UpdateResult{Status: StatusUpToDate}
		}
		if fullErr != nil {
			warn("UpdateDB: %s: full download failed: %v\n", db, fullErr)
			return UpdateResult{Status: fullStatus}
		}
		newHeader, newFilename = header, remote.RemoteFilename
	}

	if in.cfg.DownloadCompleteCallback != nil {
		scoped, err := enterExtensionScope(tmpfile, newFilename[len(newFilename)-4:])
		if err != nil {
			warn("UpdateDB: %s: could not stage callback file: %v\n", db, err)
			return UpdateResult{Status: StatusDirAccessError}
		}
		cbStatus := in.cfg.DownloadCompleteCallback(scoped.scopedPath, context)
		if cbStatus != StatusOK {
			_ = os.Remove(scoped.scopedPath)
			return UpdateResult{Status: StatusTestFail}
		}
		if err := scoped.restore(); err != nil {
			warn("UpdateDB: %s: could not unstage callback file: %v\n", db, err)
			return UpdateResult{Status: StatusDirAccessError}
		}
	}

	destPath := filepath.Join(in.cfg.DatabaseDir, newFilename)
	if err := os.Rename(tmpfile, destPath); err != nil {
		warn("UpdateDB: %s: install rename failed: %v\n", db, err)
		return UpdateResult{Status: StatusDBDirAccess}
	}

	if local != nil && local.Filename != newFilename {
		_ = os.Remove(filepath.Join(in.cfg.DatabaseDir, local.Filename))
	}

	if newHeader.FL > SupportedFunctionalityLevel {
		logWarning("%s requires functionality level %d, this engine supports %d; some signatures may not load\n", newFilename, newHeader.FL, SupportedFunctionalityLevel)
	}

	logInfo("%s updated (version: %d, sigs: %d)\n", newFilename, newHeader.Version, newHeader.Sigs)
	return UpdateResult{Filename: newFilename, Sigs: newHeader.Sigs, Updated: true, Status: StatusOK}
}

// runIncremental seeds a scratch directory from the installed archive,
// applies each cdiff in strictly ascending order, and repacks the result.
// Its own scratch directory is always removed before returning.
func (in *Installer) runIncremental(db string, local *LocalState, server string, privateMirror bool, localVersion, remoteVersion uint32, tmpfile string) (*Header, string, error) {
	scratchDir := filepath.Join(in.cfg.TempDir, "fc-scratch-"+db)
	if err := seedScratchDir(scratchDir, local, in.cfg.DatabaseDir, in.unpacker); err != nil {
		return nil, "", err
	}
	defer func() { _ = os.RemoveAll(scratchDir) }()

	for v := localVersion + 1; v <= remoteVersion; v++ {
		if err := downloadPatch(in.fetch, in.patchApplier, server, db, int(v), scratchDir, in.cfg.MaxAttempts); err != nil {
			return nil, "", err
		}
	}

	if err := Repack(scratchDir, db, tmpfile, in.cfg.CompressLocalDB); err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(tmpfile)
	if err != nil {
		return nil, "", statusErr("runIncremental", StatusFileError, err)
	}
	header, err := in.headerParser.ParseHeader(data[:headerSize])
	if err != nil {
		return nil, "", err
	}
	return header, db + ".cld", nil
}

