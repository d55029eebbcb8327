// Package config loads the gateway configuration from a YAML or TOML file,
// applies environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inspection-gateway/middleware/anomaly"
	"inspection-gateway/middleware/ratelimit"
	"inspection-gateway/middleware/validate"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"

	SinkFile  = "file"
	SinkRedis = "redis"
	SinkNone  = "none"
)

type ServerCfg struct {
	ListenAddr        string        `yaml:"listenAddr" toml:"listenAddr"`
	AdminAddr         string        `yaml:"adminAddr" toml:"adminAddr"` // empty disables the admin listener
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" toml:"readHeaderTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout" toml:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout" toml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout"`
}

type BreakerCfg struct {
	Enabled        bool          `yaml:"enabled" toml:"enabled"`
	ErrorThreshold int           `yaml:"errorThreshold" toml:"errorThreshold"`
	MinRequests    int           `yaml:"minRequests" toml:"minRequests"`
	StatInterval   time.Duration `yaml:"statInterval" toml:"statInterval"`
	RetryTimeout   time.Duration `yaml:"retryTimeout" toml:"retryTimeout"`
}

type BackendCfg struct {
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	Breaker BreakerCfg    `yaml:"breaker" toml:"breaker"`
}

type LimitsCfg struct {
	MaxBodyBytes       int64         `yaml:"maxBodyBytes" toml:"maxBodyBytes"`
	ConcurrencyMax     int           `yaml:"concurrencyMax" toml:"concurrencyMax"`
	ConcurrencyTimeout time.Duration `yaml:"concurrencyTimeout" toml:"concurrencyTimeout"`
}

type RateLimitCfg struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Limit     int           `yaml:"limit" toml:"limit"`
	Window    time.Duration `yaml:"window" toml:"window"`
	Algorithm string        `yaml:"algorithm" toml:"algorithm"`
	KeyHeader string        `yaml:"keyHeader" toml:"keyHeader"`
	TrustXFF  bool          `yaml:"trustXFF" toml:"trustXFF"`
	// TrustedProxies limits XFF trust to these peers (CIDR or address).
	TrustedProxies []string      `yaml:"trustedProxies" toml:"trustedProxies"`
	RetryAfter     time.Duration `yaml:"retryAfter" toml:"retryAfter"` // zero means the window
	AddHeaders     bool          `yaml:"addHeaders" toml:"addHeaders"`
	IdleTTL        time.Duration `yaml:"idleTTL" toml:"idleTTL"` // token bucket only
}

type AnomalyCfg struct {
	Keywords       []string       `yaml:"keywords" toml:"keywords"`
	KeywordPenalty int            `yaml:"keywordPenalty" toml:"keywordPenalty"`
	KeywordWeights map[string]int `yaml:"keywordWeights" toml:"keywordWeights"`
	Match          string         `yaml:"match" toml:"match"`
	SizeThreshold  int            `yaml:"sizeThreshold" toml:"sizeThreshold"`
	SizePenalty    int            `yaml:"sizePenalty" toml:"sizePenalty"`
	BlockThreshold int            `yaml:"blockThreshold" toml:"blockThreshold"`
}

type FileCfg struct {
	Path       string `yaml:"path" toml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" toml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"maxAgeDays"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type StreamCfg struct {
	Name    string        `yaml:"name" toml:"name"`
	MaxLen  int64         `yaml:"maxLen" toml:"maxLen"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type AuditCfg struct {
	Sinks  []string  `yaml:"sinks" toml:"sinks"`
	File   FileCfg   `yaml:"file" toml:"file"`
	Stream StreamCfg `yaml:"stream" toml:"stream"`
	// Async puts a bounded buffer in front of the sinks; full buffers drop.
	Async  bool `yaml:"async" toml:"async"`
	Buffer int  `yaml:"buffer" toml:"buffer"`
}

type RedisCfg struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

type StatsCfg struct {
	Redis     bool          `yaml:"redis" toml:"redis"`
	Prefix    string        `yaml:"prefix" toml:"prefix"`
	TTL       time.Duration `yaml:"ttl" toml:"ttl"`
	Bucket    string        `yaml:"bucket" toml:"bucket"`
	TrackKeys bool          `yaml:"trackKeys" toml:"trackKeys"`
}

type LogCfg struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

type ReloadCfg struct {
	Watch bool `yaml:"watch" toml:"watch"`
}

type Config struct {
	Server     ServerCfg              `yaml:"server" toml:"server"`
	Backend    BackendCfg             `yaml:"backend" toml:"backend"`
	Limits     LimitsCfg              `yaml:"limits" toml:"limits"`
	RateLimit  RateLimitCfg           `yaml:"rateLimit" toml:"rateLimit"`
	Anomaly    AnomalyCfg             `yaml:"anomaly" toml:"anomaly"`
	Validation []validate.RouteSchema `yaml:"validation" toml:"validation"`
	Audit      AuditCfg               `yaml:"audit" toml:"audit"`
	Redis      RedisCfg               `yaml:"redis" toml:"redis"`
	Stats      StatsCfg               `yaml:"stats" toml:"stats"`
	Log        LogCfg                 `yaml:"log" toml:"log"`
	Reload     ReloadCfg              `yaml:"reload" toml:"reload"`

	// Path is the file the config was loaded from, if any.
	Path string `yaml:"-" toml:"-"`
}

func Default() Config {
	return Config{
		Server: ServerCfg{
			ListenAddr:        ":8080",
			AdminAddr:         "127.0.0.1:9090",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       90 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Backend: BackendCfg{
			URL:     "http://127.0.0.1:8000",
			Timeout: 5 * time.Second,
			Breaker: BreakerCfg{
				ErrorThreshold: 5,
				StatInterval:   10 * time.Second,
				RetryTimeout:   5 * time.Second,
			},
		},
		Limits: LimitsCfg{
			MaxBodyBytes:   2048,
			ConcurrencyMax: 100,
		},
		RateLimit: RateLimitCfg{
			Enabled:   true,
			Limit:     50,
			Window:    60 * time.Second,
			Algorithm: AlgorithmSlidingWindow,
			IdleTTL:   15 * time.Minute,
		},
		Anomaly: AnomalyCfg{
			Keywords:       append([]string(nil), anomaly.DefaultKeywords...),
			KeywordPenalty: anomaly.DefaultKeywordPenalty,
			Match:          string(anomaly.MatchOccurrence),
			SizeThreshold:  anomaly.DefaultSizeThreshold,
			SizePenalty:    anomaly.DefaultSizePenalty,
			BlockThreshold: 70,
		},
		Validation: []validate.RouteSchema{validate.LoginSchema()},
		Audit: AuditCfg{
			Sinks:  []string{SinkFile},
			File:   FileCfg{Path: "logs.jsonl", MaxSizeMB: 100, MaxBackups: 5},
			Stream: StreamCfg{Name: "gateway:audit", MaxLen: 100_000, Timeout: time.Second},
			Async:  true,
			Buffer: 4096,
		},
		Stats: StatsCfg{
			Prefix: "gateway:stats",
			TTL:    24 * time.Hour,
			Bucket: "minute",
		},
		Log: LogCfg{Level: "info", JSON: true},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates. ${VAR} references in the file are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
		cfg.Path = path
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	expanded := os.ExpandEnv(string(b))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported file type %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		add("server.listenAddr is required")
	}
	if c.Server.AdminAddr != "" && c.Server.AdminAddr == c.Server.ListenAddr {
		add("server.adminAddr must differ from server.listenAddr")
	}

	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("backend.url %q must be an absolute http(s) URL", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		add("backend.timeout must be > 0")
	}
	if c.Backend.Breaker.Enabled && c.Backend.Breaker.ErrorThreshold <= 0 {
		add("backend.breaker.errorThreshold must be > 0")
	}

	if c.Limits.MaxBodyBytes <= 0 {
		add("limits.maxBodyBytes must be > 0")
	}
	if c.Limits.ConcurrencyMax < 0 {
		add("limits.concurrencyMax must be >= 0")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			add("rateLimit.limit must be > 0")
		}
		if c.RateLimit.Window <= 0 {
			add("rateLimit.window must be > 0")
		}
		switch c.RateLimit.Algorithm {
		case AlgorithmSlidingWindow, AlgorithmTokenBucket:
		default:
			add("rateLimit.algorithm %q is not one of %s, %s", c.RateLimit.Algorithm, AlgorithmSlidingWindow, AlgorithmTokenBucket)
		}
	}
	if _, err := ratelimit.ParsePrefixes(c.RateLimit.TrustedProxies); err != nil {
		add("rateLimit.trustedProxies: %v", err)
	}

	if c.Anomaly.BlockThreshold <= 0 {
		add("anomaly.blockThreshold must be > 0")
	}
	if _, err := anomaly.New(c.AnomalyRules()); err != nil {
		add("anomaly: %v", err)
	}
	if _, err := validate.NewRegistry(c.Validation); err != nil {
		add("validation: %v", err)
	}

	for _, s := range c.Audit.Sinks {
		switch s {
		case SinkFile:
			if c.Audit.File.Path == "" {
				add("audit.file.path is required for the file sink")
			}
		case SinkRedis:
			if c.Redis.Addr == "" {
				add("redis.addr is required for the redis audit sink")
			}
		case SinkNone:
		default:
			add("audit.sinks: unknown sink %q", s)
		}
	}
	if c.Stats.Redis && c.Redis.Addr == "" {
		add("redis.addr is required when stats.redis is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

func (c *Config) AnomalyRules() anomaly.Rules {
	return anomaly.Rules{
		Keywords:       c.Anomaly.Keywords,
		KeywordPenalty: c.Anomaly.KeywordPenalty,
		KeywordWeights: c.Anomaly.KeywordWeights,
		Match:          anomaly.MatchMode(c.Anomaly.Match),
		SizeThreshold:  c.Anomaly.SizeThreshold,
		SizePenalty:    c.Anomaly.SizePenalty,
	}
}

// HasSink reports whether the named audit sink is configured.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Audit.Sinks {
		if s == name {
			return true
		}
	}
	return false
}
