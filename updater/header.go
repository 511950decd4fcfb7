package updater

import (
	"fmt"
	"strconv"
	"strings"
)

// headerSize is the fixed size of a CVD/CLD archive header: 512 bytes of
// printable ASCII ending in a newline.
const headerSize = 512

// SupportedFunctionalityLevel is the highest functionality level this
// engine's signature loader understands, standing in for ClamAV's
// cl_retflevel(). An archive whose header advertises a higher level may
// carry signature types this engine cannot parse.
const SupportedFunctionalityLevel = 90

// Header is the parsed, opaque-except-for-these-fields prefix of a CVD/CLD
// archive: format version, build time, database version, signature count,
// functionality level, builder, and a raw signature blob. Fields beyond
// these are preserved verbatim but never interpreted.
type Header struct {
	FormatVersion uint32
	BuildTime     int64 // stime, epoch seconds
	Version       uint32
	Sigs          uint32
	FL            uint32
	Builder       string
	Signature     string
	Raw           [headerSize]byte
}

// ArchiveHeaderParser parses the 512-byte header prefix of a CVD/CLD file.
// It is an external collaborator: this subsystem treats the archive body as
// opaque and only ever needs these six fields out of the header.
type ArchiveHeaderParser interface {
	ParseHeader(buf []byte) (*Header, error)
}

// defaultHeaderParser parses a colon-delimited header of at least 7 fields:
// signature:build_time:version:sigs:functionality_level:x:x[:builder[:...]]
// Fields 5 and 6, and any field after the builder, are not interpreted.
type defaultHeaderParser struct{}

func (defaultHeaderParser) ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < headerSize {
		return nil, statusErr("ParseHeader", StatusBadArchive, fmt.Errorf("header too short: %d bytes", len(buf)))
	}
	for i := 0; i < headerSize; i++ {
		if !isPrintableOrNewline(buf[i]) {
			return nil, statusErr("ParseHeader", StatusBadArchive, fmt.Errorf("non-printable byte at offset %d", i))
		}
	}

	line := string(buf[:headerSize])
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Split(line, ":")
	if len(fields) < 7 {
		return nil, statusErr("ParseHeader", StatusBadArchive, fmt.Errorf("expected at least 7 colon-delimited fields, got %d", len(fields)))
	}

	h := &Header{Signature: fields[0]}
	copy(h.Raw[:], buf[:headerSize])

	buildTime, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return nil, statusErr("ParseHeader", StatusBadArchive, fmt.Errorf("invalid build time: %w", err))
	}
	h.BuildTime = buildTime

	version, err := parseUint32(fields[2])
	if err != nil {
		return nil, statusErr("ParseHeader", StatusBadArchive, fmt.Errorf("invalid version: %w", err))
	}
	h.Version = version

	sigs, err := parseUint32(fields[3])
	if err != nil {
		return nil, statusErr("ParseHeader", StatusBadArchive, fmt.Errorf("invalid sigs: %w", err))
	}
	h.Sigs = sigs

	fl, err := parseUint32(fields[4])
	if err != nil {
		return nil, statusErr("ParseHeader", StatusBadArchive, fmt.Errorf("invalid functionality level: %w", err))
	}
	h.FL = fl

	if len(fields) > 7 {
		h.Builder = strings.TrimSpace(fields[7])
	}
	h.FormatVersion = 1

	return h, nil
}

func parseUint32(field string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(field), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func isPrintableOrNewline(b byte) bool {
	if b == '\n' {
		return true
	}
	return b >= 0x20 && b < 0x7f
}

// textRecordField maps a database name to its field index in the primary
// DNS TXT "update info" record: 1=main, 2=daily, 6=safebrowsing,
// 7=bytecode, 0=no known field (not carried in the primary record).
func textRecordField(database string) int {
	switch strings.ToLower(database) {
	case "main":
		return 1
	case "daily":
		return 2
	case "safebrowsing":
		return 6
	case "bytecode":
		return 7
	default:
		return 0
	}
}

// probeHeader fetches bytes 0-511 of the remote database file and parses
// them as a Header. If the server honors If-Modified-Since with a 304, the
// up-to-date outcome is surfaced to the caller rather than an error.
func probeHeader(f *Fetcher, parser ArchiveHeaderParser, url string, ifModifiedSince int64) (*Header, Status, error) {
	buf, outcome, err := f.FetchMemoryRange(url, 0, headerSize-1, ifModifiedSince)
	if err != nil {
		return nil, StatusConnectionError, err
	}
	switch outcome.Kind {
	case FetchUpToDate:
		return nil, StatusUpToDate, nil
	case FetchNotFound:
		return nil, StatusFailedGet, statusErr("probeHeader", StatusFailedGet, fmt.Errorf("not found: %s", url))
	case FetchOriginTimeout:
		return nil, StatusConnectionError, statusErr("probeHeader", StatusConnectionError, fmt.Errorf("origin timeout: %s", url))
	case FetchHTTPOther:
		return nil, StatusFailedGet, statusErr("probeHeader", StatusFailedGet, fmt.Errorf("http %d: %s", outcome.HTTPCode, url))
	case FetchTransportError:
		return nil, StatusConnectionError, statusErr("probeHeader", StatusConnectionError, fmt.Errorf("%s", outcome.Detail))
	}

	if len(buf) < headerSize {
		return nil, StatusBadArchive, statusErr("probeHeader", StatusBadArchive, fmt.Errorf("short header: %d bytes", len(buf)))
	}
	header, err := parser.ParseHeader(buf[:headerSize])
	if err != nil {
		return nil, StatusBadArchive, err
	}
	return header, StatusOK, nil
}
