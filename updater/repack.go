package updater

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	pgzip "github.com/klauspost/pgzip"
)

// Repack constructs a new archive from a patched working copy: the header
// comes from "<db>.info" (truncated at its first newline, space-padded to
// 512 bytes), followed by a tar stream of the working copy's files in a
// fixed order for the three well-known control files, then the rest in
// directory-iteration order.
func Repack(workDir, db, tmpfile string, compress bool) error {
	infoPath := filepath.Join(workDir, db+".info")
	header, err := buildHeaderFromInfo(infoPath)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(tmpfile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return statusErr("Repack", StatusFileError, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := out.Write(header); err != nil {
		return statusErr("Repack", StatusFileError, err)
	}

	var body io.Writer = out
	var gz *pgzip.Writer
	if compress {
		gz, err = pgzip.NewWriterLevel(out, pgzip.BestCompression)
		if err != nil {
			return statusErr("Repack", StatusFileError, err)
		}
		body = gz
	}

	tw := tar.NewWriter(body)

	copyingPath := filepath.Join(workDir, "COPYING")
	if _, err := os.Stat(copyingPath); err != nil {
		return statusErr("Repack", StatusBadArchive, fmt.Errorf("COPYING missing from working copy"))
	}

	ordered := []string{"COPYING", db + ".info", "daily.cfg"}
	written := map[string]bool{".": true, "..": true}
	for _, name := range ordered {
		path := filepath.Join(workDir, name)
		if _, err := os.Stat(path); err != nil {
			written[name] = true // not present; only COPYING is mandatory
			continue
		}
		if err := tarAddFile(tw, path, name); err != nil {
			return err
		}
		written[name] = true
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return statusErr("Repack", StatusDirAccessError, err)
	}
	for _, e := range entries {
		if written[e.Name()] || e.IsDir() {
			continue
		}
		if err := tarAddFile(tw, filepath.Join(workDir, e.Name()), e.Name()); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return statusErr("Repack", StatusFileError, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return statusErr("Repack", StatusFileError, err)
		}
	}
	return nil
}

// tarAddFile appends one regular file to a tar stream under its bare name.
func tarAddFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return statusErr("tarAddFile", StatusFileError, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return statusErr("tarAddFile", StatusFileError, err)
	}

	hdr := &tar.Header{
		Name: name,
		Mode: int64(info.Mode().Perm()),
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return statusErr("tarAddFile", StatusFileError, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return statusErr("tarAddFile", StatusFileError, err)
	}
	return nil
}

// buildHeaderFromInfo reads up to 512 bytes of the working copy's .info
// file, truncates at the first newline, and space-pads the remainder to
// exactly 512 bytes.
func buildHeaderFromInfo(infoPath string) ([]byte, error) {
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, statusErr("buildHeaderFromInfo", StatusFileError, err)
	}

	buf := make([]byte, headerSize)
	for i := range buf {
		buf[i] = ' '
	}

	n := len(data)
	if n > headerSize {
		n = headerSize
	}
	copy(buf, data[:n])

	for i, b := range buf {
		if b == '\n' {
			for j := i; j < headerSize; j++ {
				buf[j] = ' '
			}
			break
		}
	}
	return buf, nil
}
