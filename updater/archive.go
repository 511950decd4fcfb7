package updater

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	pgzip "github.com/klauspost/pgzip"
)

// ArchiveVerifier checks the cryptographic signature embedded in a CVD/CLD
// archive's header against its body. It is an external collaborator — this
// engine only needs to know whether verification succeeded.
type ArchiveVerifier interface {
	Verify(path string, header *Header) error
}

// ArchiveUnpacker extracts the tar body of a CVD/CLD archive (the header's
// 512 bytes stripped) into a directory.
type ArchiveUnpacker interface {
	Unpack(archivePath, destDir string) error
}

// defaultArchiveVerifier performs the one structural check this subsystem
// can make without a real ClamAV signing key available: the header must
// carry a non-empty digital-signature field. Real signature verification
// against ClamAV's public key requires a key an embedder must supply; a
// production deployment supplies its own ArchiveVerifier.
type defaultArchiveVerifier struct{}

func (defaultArchiveVerifier) Verify(path string, header *Header) error {
	if header.Signature == "" {
		return statusErr("Verify", StatusBadArchive, fmt.Errorf("missing digital signature in header"))
	}
	return nil
}

// gzipMagic is the two leading bytes of every gzip stream (RFC 1952 §2.3.1).
var gzipMagic = [2]byte{0x1f, 0x8b}

// defaultArchiveUnpacker reads a CVD/CLD file, skips the 512-byte header,
// and untars the remainder into destDir. Repack only gzip-wraps the tar
// body when CompressLocalDB is set, so the body is not unconditionally
// gzip; this sniffs the leading two bytes for the gzip magic number
// (pgzip is a drop-in, parallel-decode replacement for compress/gzip,
// worthwhile here given multi-megabyte signature archives) and falls back
// to reading the tar stream directly when they are absent.
type defaultArchiveUnpacker struct{}

func (defaultArchiveUnpacker) Unpack(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return statusErr("Unpack", StatusFileError, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		return statusErr("Unpack", StatusFileError, err)
	}

	var magic [2]byte
	n, _ := io.ReadFull(f, magic[:])
	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		return statusErr("Unpack", StatusFileError, err)
	}

	var tr *tar.Reader
	if n == 2 && magic == gzipMagic {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return statusErr("Unpack", StatusBadArchive, err)
		}
		defer func() { _ = gz.Close() }()
		tr = tar.NewReader(gz)
	} else {
		tr = tar.NewReader(f)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return statusErr("Unpack", StatusDirAccessError, err)
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return statusErr("Unpack", StatusBadArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target := filepath.Join(destDir, filepath.Base(hdr.Name))
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return statusErr("Unpack", StatusFileError, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return statusErr("Unpack", StatusFileError, err)
		}
		if err := out.Close(); err != nil {
			return statusErr("Unpack", StatusFileError, err)
		}
	}
}
