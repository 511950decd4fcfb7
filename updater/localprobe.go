package updater

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalState describes the single installed archive for a database, per
// the "installed state per database" invariant: at most one of .cvd/.cld
// exists at any moment.
type LocalState struct {
	Filename string // basename, e.g. "main.cvd"
	Header   *Header
}

// CurrentLocal looks for "<db>.cvd" first, then "<db>.cld", in dir, and
// parses whichever one is present. A nil result with a nil error means no
// local file exists.
func CurrentLocal(dir, db string, parser ArchiveHeaderParser) (*LocalState, error) {
	for _, ext := range []string{".cvd", ".cld"} {
		name := db + ext
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, statusErr("CurrentLocal", StatusFileError, err)
		}
		if len(data) < headerSize {
			return nil, statusErr("CurrentLocal", StatusBadArchive, fmt.Errorf("%s shorter than header", name))
		}
		header, err := parser.ParseHeader(data[:headerSize])
		if err != nil {
			return nil, err
		}
		return &LocalState{Filename: name, Header: header}, nil
	}
	return nil, nil
}
