package updater

import "fmt"

// RemoteVersion is the result of a successful Oracle resolution: the
// advertised version and the filename it should be fetched as.
type RemoteVersion struct {
	Version        uint32
	RemoteFilename string
}

// Oracle resolves the latest advertised remote version for a database by
// consulting, in order, a primary DNS TXT record, a secondary DNS TXT
// record, and finally an HTTP header probe.
type Oracle struct {
	cfg    *Config
	fetch  *Fetcher
	parser ArchiveHeaderParser
}

func NewOracle(cfg *Config, fetcher *Fetcher) *Oracle {
	return &Oracle{cfg: cfg, fetch: fetcher, parser: defaultHeaderParser{}}
}

// Resolve runs the provider chain described above. ifModifiedSince is
// the local archive's stime (0 if none); server is the mirror base URL;
// privateMirror allows the HTTP fallback to prefer a .cld filename.
func (o *Oracle) Resolve(db string, ifModifiedSince int64, dnsPrimaryRecord, server string, privateMirror bool) (*RemoteVersion, Status, error) {
	providers := []versionProvider{}
	if !privateMirror && dnsPrimaryRecord != "" {
		providers = append(providers, primaryTXTProvider{record: dnsPrimaryRecord})
	}
	providers = append(providers, newSecondaryTXTProvider(o.cfg))

	for _, p := range providers {
		if version, isCLD, ok := p.resolve(db); ok {
			filename := db + ".cvd"
			if isCLD {
				filename = db + ".cld"
			}
			return &RemoteVersion{Version: version, RemoteFilename: filename}, StatusOK, nil
		}
	}

	return o.httpFallback(db, ifModifiedSince, server, privateMirror)
}

// httpFallback is the oracle's third tier: a header probe against the
// mirror itself. Private mirrors are tried as .cld first, falling back to
// .cvd on probe error; official mirrors are probed as .cvd only.
func (o *Oracle) httpFallback(db string, ifModifiedSince int64, server string, privateMirror bool) (*RemoteVersion, Status, error) {
	if privateMirror {
		cldURL := fmt.Sprintf("%s/%s.cld", server, db)
		header, status, err := probeHeader(o.fetch, o.parser, cldURL, ifModifiedSince)
		if status == StatusUpToDate {
			return nil, StatusUpToDate, nil
		}
		if err == nil && header != nil {
			return &RemoteVersion{Version: header.Version, RemoteFilename: db + ".cld"}, StatusOK, nil
		}
		// Probe error on .cld: fall through to .cvd.
	}

	cvdURL := fmt.Sprintf("%s/%s.cvd", server, db)
	header, status, err := probeHeader(o.fetch, o.parser, cvdURL, ifModifiedSince)
	if status == StatusUpToDate {
		return nil, StatusUpToDate, nil
	}
	if err != nil {
		return nil, status, err
	}
	return &RemoteVersion{Version: header.Version, RemoteFilename: db + ".cvd"}, StatusOK, nil
}
