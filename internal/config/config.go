package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHost        = "::"
	defaultPort        = 4416
	defaultTimeout     = 30 * time.Second
	defaultTokenTTL    = 6 * time.Hour
	defaultSnapshotDir = "bgutil-pot"

	envConfigFile  = "BGUTIL_CONFIG"
	envHost        = "POT_SERVER_HOST"
	envPort        = "POT_SERVER_PORT"
	envTimeout     = "POT_SERVER_TIMEOUT"
	envTokenTTL    = "TOKEN_TTL"
	envHTTPSProxy  = "HTTPS_PROXY"
	envHTTPProxy   = "HTTP_PROXY"
	envAllProxy    = "ALL_PROXY"
	envLogLevel    = "LOG_LEVEL"
	envRustLog     = "RUST_LOG"
	envVerbose     = "VERBOSE"
	envDisableInnertube = "DISABLE_INNERTUBE"
	envCacheDir    = "CACHE_DIR"
	envXDGCacheDir = "XDG_CACHE_HOME"
)

// Settings is the fully resolved, immutable configuration record. Once
// built by Load it is shared by reference and never mutated.
type Settings struct {
	Host             string
	Port             int
	Timeout          time.Duration
	TokenTTL         time.Duration
	HTTPSProxy       string
	HTTPProxy        string
	AllProxy         string
	LogLevel         slog.Level
	DisableInnertube bool
	CacheDir         string
	SnapshotPath     string
}

// fileConfig mirrors the subset of settings a TOML config file may carry.
type fileConfig struct {
	Server struct {
		Host    string `toml:"host"`
		Port    int    `toml:"port"`
		Timeout int    `toml:"timeout_secs"`
	} `toml:"server"`
	Token struct {
		TTLSecs int `toml:"ttl_secs"`
	} `toml:"token"`
	Logging struct {
		Level string `toml:"level"`
	} `toml:"logging"`
	Cache struct {
		Dir          string `toml:"dir"`
		SnapshotPath string `toml:"snapshot_path"`
	} `toml:"cache"`
}

// Overrides holds CLI-flag-sourced values. A zero value field means "flag
// not set"; string flags use a pointer so an explicit empty string can
// still be distinguished from "unset" if ever needed.
type Overrides struct {
	Host     *string
	Port     *int
	Verbose  bool
	ConfigFile string
}

// Load resolves Settings following the strict precedence chain: CLI flags
// (via ov) > environment variables > TOML config file > defaults.
func Load(ov Overrides) (Settings, error) {
	s := Settings{
		Host:         defaultHost,
		Port:         defaultPort,
		Timeout:      defaultTimeout,
		TokenTTL:     defaultTokenTTL,
		LogLevel:     slog.LevelInfo,
		CacheDir:     defaultCacheDir(),
		SnapshotPath: defaultSnapshotPath(),
	}

	path := ov.ConfigFile
	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return Settings{}, err
		}
		applyFile(&s, fc)
	}

	applyEnv(&s)
	applyOverrides(&s, ov)

	return s, nil
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, err
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func applyFile(s *Settings, fc fileConfig) {
	if fc.Server.Host != "" {
		s.Host = fc.Server.Host
	}
	if fc.Server.Port != 0 {
		s.Port = fc.Server.Port
	}
	if fc.Server.Timeout != 0 {
		s.Timeout = time.Duration(fc.Server.Timeout) * time.Second
	}
	if fc.Token.TTLSecs != 0 {
		s.TokenTTL = time.Duration(fc.Token.TTLSecs) * time.Second
	}
	if fc.Logging.Level != "" {
		s.LogLevel = parseLogLevel(fc.Logging.Level)
	}
	if fc.Cache.Dir != "" {
		s.CacheDir = fc.Cache.Dir
	}
	if fc.Cache.SnapshotPath != "" {
		s.SnapshotPath = fc.Cache.SnapshotPath
	}
}

func applyEnv(s *Settings) {
	if v := os.Getenv(envHost); v != "" {
		s.Host = v
	}
	if v := os.Getenv(envPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			s.Port = p
		}
	}
	if v := os.Getenv(envTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			s.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(envTokenTTL); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			s.TokenTTL = time.Duration(secs) * time.Second
		}
	}
	s.HTTPSProxy = os.Getenv(envHTTPSProxy)
	s.HTTPProxy = os.Getenv(envHTTPProxy)
	s.AllProxy = os.Getenv(envAllProxy)

	// Logging precedence: --verbose (applied later in applyOverrides) >
	// RUST_LOG > LOG_LEVEL > config logging.level > info (already set by
	// applyFile).
	if v := os.Getenv(envLogLevel); v != "" {
		s.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envRustLog); v != "" {
		s.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envDisableInnertube); v == "1" || strings.EqualFold(v, "true") {
		s.DisableInnertube = true
	}
	if v := os.Getenv(envCacheDir); v != "" {
		s.CacheDir = v
	}
}

func applyOverrides(s *Settings, ov Overrides) {
	if ov.Host != nil {
		s.Host = *ov.Host
	}
	if ov.Port != nil {
		s.Port = *ov.Port
	}
	if ov.Verbose || os.Getenv(envVerbose) != "" {
		s.LogLevel = slog.LevelDebug
	}
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug", "trace":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EffectiveProxy returns the first configured proxy in HTTPS > HTTP > ALL
// priority order, matching the spec's proxy-resolution rule.
func (s Settings) EffectiveProxy() string {
	switch {
	case s.HTTPSProxy != "":
		return s.HTTPSProxy
	case s.HTTPProxy != "":
		return s.HTTPProxy
	case s.AllProxy != "":
		return s.AllProxy
	default:
		return ""
	}
}

func defaultCacheDir() string {
	if v := os.Getenv(envCacheDir); v != "" {
		return v
	}
	base := os.Getenv(envXDGCacheDir)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "bgutil-ytdlp-pot-provider")
}

func defaultSnapshotPath() string {
	return filepath.Join(os.TempDir(), defaultSnapshotDir, "botguard_snapshot.bin")
}

// NewLogger creates a structured JSON logger writing to w at the configured
// level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
