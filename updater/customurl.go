package updater

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UpdateCustomDB is the simpler sibling of UpdateDB for user-supplied URLs,
// including file://.
func (in *Installer) UpdateCustomDB(url string, context interface{}, verboseErrorFlag bool) UpdateResult {
	warn := verboseError(verboseErrorFlag)

	databaseName, err := customDBNameFromURL(url)
	if err != nil {
		warn("UpdateCustomDB: %v\n", err)
		return UpdateResult{Status: StatusArgError}
	}

	destPath := filepath.Join(in.cfg.DatabaseDir, databaseName)
	tmpfile := filepath.Join(in.cfg.TempDir, "fc-custom-"+uuid.NewString())
	defer func() { _ = os.Remove(tmpfile) }()

	lowerURL := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lowerURL, "file://"):
		srcPath := url[len("file://"):]
		upToDate, err := copyIfNewer(srcPath, destPath, tmpfile)
		if err != nil {
			warn("UpdateCustomDB: %v\n", err)
			return UpdateResult{Status: StatusFailedUpdate}
		}
		if upToDate {
			return UpdateResult{Filename: databaseName, Updated: false, Status: StatusOK}
		}
	case strings.HasPrefix(lowerURL, "ftp://"), strings.HasPrefix(lowerURL, "ftps://"):
		// No ftp(s) transport is wired: Fetcher is an http.Client chokepoint
		// and has no FTP collaborator, so this is rejected explicitly rather
		// than silently misrouted through HTTP into a connection error.
		warn("UpdateCustomDB: ftp(s):// custom database URLs are not supported: %s\n", url)
		return UpdateResult{Status: StatusArgError}
	default:
		localMtime := fileModTimeUnix(destPath)
		_, outcome, err := fetchInto(in.fetch, url, tmpfile, localMtime)
		if err != nil {
			warn("UpdateCustomDB: %v\n", err)
			return UpdateResult{Status: StatusConnectionError}
		}
		switch outcome.Kind {
		case FetchUpToDate:
			return UpdateResult{Filename: databaseName, Updated: false, Status: StatusOK}
		case FetchOK:
			// fall through to install below.
		default:
			warn("UpdateCustomDB: can't download %s from %s\n", databaseName, url)
			return UpdateResult{Status: StatusFailedGet}
		}
	}

	if in.cfg.DownloadCompleteCallback != nil {
		withName := tmpfile + "-" + databaseName
		if err := os.Rename(tmpfile, withName); err != nil {
			warn("UpdateCustomDB: can't rename %s to %s: %v\n", tmpfile, withName, err)
			return UpdateResult{Status: StatusDBDirAccess}
		}
		logVerbose("UpdateCustomDB: running download-complete callback\n")
		if status := in.cfg.DownloadCompleteCallback(withName, context); status != StatusOK {
			_ = os.Remove(withName)
			return UpdateResult{Status: StatusTestFail}
		}
		tmpfile = withName
	}

	if err := os.Rename(tmpfile, destPath); err != nil {
		warn("UpdateCustomDB: can't rename %s to %s: %v\n", tmpfile, destPath, err)
		return UpdateResult{Status: StatusDBDirAccess}
	}

	sigs, err := countCustomDBSignatures(destPath, in.headerParser)
	if err != nil {
		warn("UpdateCustomDB: %v\n", err)
		return UpdateResult{Status: StatusFileError}
	}

	logInfo("%s updated (version: custom database, sigs: %d)\n", databaseName, sigs)
	return UpdateResult{Filename: databaseName, Sigs: sigs, Updated: true, Status: StatusOK}
}

// customDBNameFromURL derives the database's basename from the final path
// component, requiring at least 5 characters (a one-char name plus a
// 4-char extension).
func customDBNameFromURL(url string) (string, error) {
	var rpath string
	if strings.HasPrefix(strings.ToLower(url), "file://") {
		rpath = url[len("file://"):]
	} else {
		rpath = url
	}
	name := filepath.Base(rpath)
	if strings.HasSuffix(rpath, "/") || name == "" || name == "." || len(name) < 5 {
		return "", fmt.Errorf("DatabaseCustomURL: incorrect URL: %s", url)
	}
	return name, nil
}

// copyIfNewer compares srcPath's mtime to destPath's; if destPath is not
// older, it reports up-to-date without copying. Otherwise it copies
// srcPath into tmpPath.
func copyIfNewer(srcPath, destPath, tmpPath string) (upToDate bool, err error) {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return false, fmt.Errorf("DatabaseCustomURL: file %s missing", srcPath)
	}
	if destInfo, err := os.Stat(destPath); err == nil {
		if !destInfo.ModTime().Before(srcInfo.ModTime()) {
			return true, nil
		}
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return false, fmt.Errorf("DatabaseCustomURL: can't open %s: %w", srcPath, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("DatabaseCustomURL: can't create temp file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return false, fmt.Errorf("DatabaseCustomURL: can't copy file %s: %w", srcPath, err)
	}
	return false, nil
}

func fileModTimeUnix(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().Unix()
}

// countCustomDBSignatures returns the signature count appropriate to the
// file's extension: parsed from the header for .cvd/.cld, 1 for .cbc,
// otherwise the number of lines in the file.
func countCustomDBSignatures(path string, parser ArchiveHeaderParser) (uint32, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".cvd"), strings.HasSuffix(lower, ".cld"):
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		if len(data) < headerSize {
			return 0, statusErr("countCustomDBSignatures", StatusBadArchive, fmt.Errorf("short archive"))
		}
		header, err := parser.ParseHeader(data[:headerSize])
		if err != nil {
			return 0, err
		}
		return header.Sigs, nil
	case strings.HasSuffix(lower, ".cbc"):
		return 1, nil
	default:
		return countLines(path)
	}
}

func countLines(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	var count uint32
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
