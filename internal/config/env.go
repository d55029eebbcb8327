package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides file values with the environment. Malformed values are
// an error rather than silently ignored.
func applyEnv(c *Config) error {
	var err error
	str := func(k string, dst *string) {
		if v, ok := lookup(k); ok {
			*dst = v
		}
	}
	num := func(k string, dst *int) {
		if v, ok := lookup(k); ok && err == nil {
			var i int
			if i, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("config: invalid %s: %w", k, err)
				return
			}
			*dst = i
		}
	}
	num64 := func(k string, dst *int64) {
		if v, ok := lookup(k); ok && err == nil {
			var i int64
			if i, err = strconv.ParseInt(v, 10, 64); err != nil {
				err = fmt.Errorf("config: invalid %s: %w", k, err)
				return
			}
			*dst = i
		}
	}
	boolean := func(k string, dst *bool) {
		if v, ok := lookup(k); ok && err == nil {
			var b bool
			if b, err = strconv.ParseBool(v); err != nil {
				err = fmt.Errorf("config: invalid %s: %w", k, err)
				return
			}
			*dst = b
		}
	}
	duration := func(k string, dst *time.Duration) {
		if v, ok := lookup(k); ok && err == nil {
			var d time.Duration
			if d, err = time.ParseDuration(v); err != nil {
				err = fmt.Errorf("config: invalid %s: %w", k, err)
				return
			}
			*dst = d
		}
	}

	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("ADMIN_ADDR", &c.Server.AdminAddr)
	str("UPSTREAM_URL", &c.Backend.URL)
	duration("FORWARD_TIMEOUT", &c.Backend.Timeout)
	num64("MAX_BODY_BYTES", &c.Limits.MaxBodyBytes)
	boolean("RATE_ENABLED", &c.RateLimit.Enabled)
	num("RATE_LIMIT", &c.RateLimit.Limit)
	duration("RATE_WINDOW", &c.RateLimit.Window)
	str("RATE_ALGORITHM", &c.RateLimit.Algorithm)
	str("RATE_KEY_HEADER", &c.RateLimit.KeyHeader)
	boolean("TRUST_XFF", &c.RateLimit.TrustXFF)
	num("BLOCK_THRESHOLD", &c.Anomaly.BlockThreshold)
	num("CONCURRENCY_MAX", &c.Limits.ConcurrencyMax)
	duration("CONCURRENCY_TIMEOUT", &c.Limits.ConcurrencyTimeout)
	str("LOG_LEVEL", &c.Log.Level)
	boolean("LOG_JSON", &c.Log.JSON)
	str("AUDIT_FILE", &c.Audit.File.Path)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	return err
}

func lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
