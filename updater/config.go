package updater

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Config is built once via NewConfig/LoadConfig and held as an immutable
// value, passed down by reference rather than kept as package globals.
type Config struct {
	LocalIP   string
	UserAgent string

	ProxyHost string
	ProxyPort int
	ProxyUser string
	ProxyPass string

	TempDir     string
	DatabaseDir string

	MaxAttempts    int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	CompressLocalDB bool

	// DNSServer and DNSTimeout configure the secondary-DNS TXT lookup
	// (the oracle's second fallback tier). DNSZone is appended to the
	// database name to form the fallback record name "<db>.<DNSZone>".
	DNSServer  string
	DNSTimeout time.Duration
	DNSZone    string

	// DNSStalenessSeconds bounds how old a secondary DNS TXT record's
	// recordtime field may be before it is distrusted. Configurable rather
	// than a hardcoded 10800s constant, since deployments may reasonably
	// want to tune it.
	DNSStalenessSeconds int64

	// BundleVerifyIdentityRegexp / BundleVerifyOIDCIssuer configure the
	// optional sigstore bundle check layered on top of the archive's own
	// mandatory embedded signature (see SignatureBundleVerifier).
	BundleVerifyIdentityRegexp string
	BundleVerifyOIDCIssuer     string

	DownloadCompleteCallback DownloadCompleteCallback
}

// DownloadCompleteCallback validates a fully-downloaded archive before it
// is installed. A non-ok Status aborts the install.
type DownloadCompleteCallback func(path string, context interface{}) Status

func defaultConfig() *Config {
	return &Config{
		UserAgent:           "freshclam-updater/1.0",
		TempDir:             os.TempDir(),
		DatabaseDir:         ".",
		MaxAttempts:         3,
		ConnectTimeout:      30 * time.Second,
		RequestTimeout:      30 * time.Second,
		CompressLocalDB:     true,
		DNSServer:           "8.8.8.8:53",
		DNSTimeout:          5 * time.Second,
		DNSZone:             "cvd.clamav.net",
		DNSStalenessSeconds: 10800,
	}
}

// NewConfig returns the hardcoded defaults, matching LoadConfig("") when no
// FRESHCLAM_* environment overrides are set.
func NewConfig() *Config { return defaultConfig() }

// LoadConfig loads configuration from an INI file and applies environment
// variable overrides. Precedence: environment variables > file > defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			iniFile, err := ini.Load(path)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			section := iniFile.Section("")

			if section.HasKey("local_ip") {
				cfg.LocalIP = section.Key("local_ip").String()
			}
			if section.HasKey("user_agent") {
				cfg.UserAgent = section.Key("user_agent").String()
			}
			if section.HasKey("proxy_host") {
				cfg.ProxyHost = section.Key("proxy_host").String()
			}
			if section.HasKey("proxy_port") {
				if v, err := section.Key("proxy_port").Int(); err == nil {
					cfg.ProxyPort = v
				}
			}
			if section.HasKey("proxy_user") {
				cfg.ProxyUser = section.Key("proxy_user").String()
			}
			if section.HasKey("proxy_pass") {
				cfg.ProxyPass = section.Key("proxy_pass").String()
			}
			if section.HasKey("temp_dir") {
				cfg.TempDir = section.Key("temp_dir").String()
			}
			if section.HasKey("database_dir") {
				cfg.DatabaseDir = section.Key("database_dir").String()
			}
			if section.HasKey("max_attempts") {
				if v, err := section.Key("max_attempts").Int(); err == nil && v > 0 {
					cfg.MaxAttempts = v
				}
			}
			if section.HasKey("connect_timeout") {
				if v, err := section.Key("connect_timeout").Int(); err == nil {
					cfg.ConnectTimeout = time.Duration(v) * time.Second
				}
			}
			if section.HasKey("request_timeout") {
				if v, err := section.Key("request_timeout").Int(); err == nil {
					cfg.RequestTimeout = time.Duration(v) * time.Second
				}
			}
			if section.HasKey("compress_local_db") {
				val := strings.ToLower(section.Key("compress_local_db").String())
				cfg.CompressLocalDB = val == "true" || val == "1" || val == "yes"
			}
			if section.HasKey("dns_server") {
				cfg.DNSServer = section.Key("dns_server").String()
			}
			if section.HasKey("dns_zone") {
				cfg.DNSZone = section.Key("dns_zone").String()
			}
			if section.HasKey("dns_staleness_seconds") {
				if v, err := section.Key("dns_staleness_seconds").Int64(); err == nil && v > 0 {
					cfg.DNSStalenessSeconds = v
				}
			}
			if section.HasKey("bundle_verify_identity_regexp") {
				cfg.BundleVerifyIdentityRegexp = section.Key("bundle_verify_identity_regexp").String()
			}
			if section.HasKey("bundle_verify_oidc_issuer") {
				cfg.BundleVerifyOIDCIssuer = section.Key("bundle_verify_oidc_issuer").String()
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot access config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("FRESHCLAM_LOCAL_IP"); v != "" {
		cfg.LocalIP = v
	}
	if v := os.Getenv("FRESHCLAM_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := os.Getenv("FRESHCLAM_PROXY_HOST"); v != "" {
		cfg.ProxyHost = v
	}
	if v := os.Getenv("FRESHCLAM_PROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProxyPort = n
		}
	}
	if v := os.Getenv("FRESHCLAM_TEMP_DIR"); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv("FRESHCLAM_DATABASE_DIR"); v != "" {
		cfg.DatabaseDir = v
	}
	if v := os.Getenv("FRESHCLAM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("FRESHCLAM_COMPRESS_LOCAL_DB"); v != "" {
		val := strings.ToLower(v)
		cfg.CompressLocalDB = val == "true" || val == "1" || val == "yes"
	}

	return cfg, nil
}

// LoadConfigWithDefaults checks the conventional config locations in order,
// falling back to hardcoded defaults plus environment overrides if none
// exist.
func LoadConfigWithDefaults() (*Config, error) {
	for _, path := range []string{"/etc/clamav/freshclam-updater.conf", "./freshclam-updater.conf"} {
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(path)
		}
	}
	return LoadConfig("")
}
