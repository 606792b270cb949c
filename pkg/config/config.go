package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file, env nor flags provide a value.
const (
	DefaultPort            = 3000
	DefaultCodeLength      = 6
	DefaultSendBuffer      = 256
	DefaultEventsPerSecond = 20.0
	DefaultBurst           = 40
	DefaultMaxMessageBytes = 64 * 1024
	DefaultPingInterval    = 25 * time.Second
	DefaultPongTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
)

// Load reads the YAML config at path (if path is non-empty and the file
// exists), overlays PAIRWIRE_* env vars and fills defaults. A missing file
// for an explicitly-set path is an error; an empty path just yields
// env+defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyEnv overlays environment values onto cfg. Env wins over file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PAIRWIRE_ADDR")); v != "" {
		host, port, ok := SplitHostPort(v)
		if ok {
			cfg.Server.Address = host
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("PAIRWIRE_DB_PATH")); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PAIRWIRE_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.PingInterval.Duration() == 0 {
		cfg.Server.PingInterval = Duration(DefaultPingInterval)
	}
	if cfg.Server.PongTimeout.Duration() == 0 {
		cfg.Server.PongTimeout = Duration(DefaultPongTimeout)
	}
	if cfg.Server.WriteTimeout.Duration() == 0 {
		cfg.Server.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if cfg.Server.SendBuffer == 0 {
		cfg.Server.SendBuffer = DefaultSendBuffer
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = "./data"
	}
	if cfg.Limits.EventsPerSecond == 0 {
		cfg.Limits.EventsPerSecond = DefaultEventsPerSecond
	}
	if cfg.Limits.Burst == 0 {
		cfg.Limits.Burst = DefaultBurst
	}
	if cfg.Limits.MaxMessageBytes == 0 {
		cfg.Limits.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.Identity.CodeLength == 0 {
		cfg.Identity.CodeLength = DefaultCodeLength
	}
}

// SplitHostPort parses "host:port" and ":port" forms.
func SplitHostPort(v string) (string, int, bool) {
	i := strings.LastIndex(v, ":")
	if i < 0 {
		return "", 0, false
	}
	p, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return "", 0, false
	}
	return v[:i], p, true
}

// ParseCommandFlags registers and parses the process flags. It returns the
// flag values and a map recording which flags the user explicitly set so
// callers can let flags win over file/env values.
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", "", "listen address (host:port)")
	dbFlag := flag.String("db", "", "durable store directory")
	cfgFlag := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath picks the config path: explicit flag wins, then the
// PAIRWIRE_CONFIG env var.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	return strings.TrimSpace(os.Getenv("PAIRWIRE_CONFIG"))
}
