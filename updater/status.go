// Package updater keeps a local directory of signed signature-database
// archives synchronized with a remote distribution mirror: discovering the
// authoritative version over DNS and HTTP, choosing between a full archive
// download and a chain of differential patches, repacking and atomically
// installing the result.
package updater

import "fmt"

// Status is the outcome of an engine operation. The zero value is never a
// valid status; use StatusOK for success.
type Status string

const (
	StatusOK              Status = "ok"
	StatusUpToDate        Status = "up_to_date"
	StatusArgError        Status = "arg_error"
	StatusInitError       Status = "init_error"
	StatusConfigError     Status = "config_error"
	StatusConnectionError Status = "connection_error"
	StatusFailedGet       Status = "failed_get"
	StatusEmptyFile       Status = "empty_file"
	StatusBadArchive      Status = "bad_archive"
	StatusMirrorNotSync   Status = "mirror_not_sync"
	StatusFailedUpdate    Status = "failed_update"
	StatusDirAccessError  Status = "dir_access_error"
	StatusDBDirAccess     Status = "db_dir_access_error"
	StatusFileError       Status = "file_error"
	StatusMemoryError     Status = "memory_error"
	StatusTestFail        Status = "test_fail"
)

// StatusError wraps a Status with operation context, so callers can both
// pattern-match on Status (via errors.As) and read a human message.
type StatusError struct {
	Status Status
	Op     string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

func statusErr(op string, status Status, err error) *StatusError {
	return &StatusError{Op: op, Status: status, Err: err}
}

// FetchOutcome is the tagged result of a single Fetcher call — a tagged
// variant rather than raw status codes plus out-of-band flags.
type FetchOutcome struct {
	Kind         FetchKind
	BytesWritten int64
	HTTPCode     int
	Detail       string
}

// FetchKind discriminates a FetchOutcome.
type FetchKind int

const (
	FetchOK FetchKind = iota
	FetchUpToDate
	FetchNotFound
	FetchOriginTimeout
	FetchHTTPOther
	FetchTransportError
)

func (k FetchKind) String() string {
	switch k {
	case FetchOK:
		return "ok"
	case FetchUpToDate:
		return "up_to_date"
	case FetchNotFound:
		return "not_found"
	case FetchOriginTimeout:
		return "origin_timeout"
	case FetchHTTPOther:
		return "http_other"
	case FetchTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}
