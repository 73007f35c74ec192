// Package config resolves the connector's configuration surface:
// environment variables first, command-line flags overriding them.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Config holds every recognized option with its resolved value.
// Defaults are documented on the corresponding environment variable.
type Config struct {
	APIKey  string // OTX_API_KEY (required)
	BaseURL string // OTX_BASE_URL, default https://otx.alienvault.com

	PGDSN    string // PG_DSN (required unless dry-run)
	PGSchema string // PG_SCHEMA, default public
	PGTable  string // PG_TABLE, default otx_pulses_raw

	PageLimit     int           // OTX_PAGE_LIMIT, default 50
	InitialSince  time.Time     // OTX_MODIFIED_SINCE, default unset (full history)
	WatermarkPath string        // OTX_WATERMARK_FILE, default .otx_watermark.json
	Timeout       time.Duration // REQUEST_TIMEOUT seconds, default 30
	MaxRetries    int           // MAX_RETRIES, default 5
	BackoffBase   time.Duration // BACKOFF_SECONDS, default 2
	BackoffCeil   time.Duration // BACKOFF_CEILING_SECONDS, default 60
	MaxPages      int           // MAX_PAGES, default 1000
	PageDelay     time.Duration // PAGE_DELAY_MS, default 100ms
	MetricsAddr   string        // METRICS_ADDR, default disabled

	// Flags only.
	Since       time.Time // --since: explicit window start for this run
	HasSince    bool
	NoWatermark bool // --no-watermark: ignore persisted state
	DryRun      bool // --dry-run: extract+transform only, in-memory load
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Newf("%s: not an integer: %q", key, v)
	}
	return i, nil
}

// Load parses flags and the environment. It is called once from main.
// A malformed numeric value is an error, not a silent default: an
// operator typo in MAX_RETRIES should stop the run, not mask itself.
func Load(args []string) (*Config, error) {
	var envErr error
	intEnv := func(key string, def int) int {
		n, err := envInt(key, def)
		if err != nil && envErr == nil {
			envErr = err
		}
		return n
	}

	cfg := &Config{
		APIKey:        envString("OTX_API_KEY", ""),
		BaseURL:       envString("OTX_BASE_URL", "https://otx.alienvault.com"),
		PGDSN:         envString("PG_DSN", ""),
		PGSchema:      envString("PG_SCHEMA", "public"),
		PGTable:       envString("PG_TABLE", "otx_pulses_raw"),
		PageLimit:     intEnv("OTX_PAGE_LIMIT", 50),
		WatermarkPath: envString("OTX_WATERMARK_FILE", ".otx_watermark.json"),
		Timeout:       time.Duration(intEnv("REQUEST_TIMEOUT", 30)) * time.Second,
		MaxRetries:    intEnv("MAX_RETRIES", 5),
		BackoffBase:   time.Duration(intEnv("BACKOFF_SECONDS", 2)) * time.Second,
		BackoffCeil:   time.Duration(intEnv("BACKOFF_CEILING_SECONDS", 60)) * time.Second,
		MaxPages:      intEnv("MAX_PAGES", 1000),
		PageDelay:     time.Duration(intEnv("PAGE_DELAY_MS", 100)) * time.Millisecond,
		MetricsAddr:   envString("METRICS_ADDR", ""),
	}
	if envErr != nil {
		return nil, envErr
	}

	fs := flag.NewFlagSet("otx-sync", flag.ContinueOnError)
	since := fs.String("since", "", "ISO8601 timestamp: sync from here, ignoring the watermark for this run")
	fs.BoolVar(&cfg.NoWatermark, "no-watermark", false, "ignore the persisted watermark file")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "extract+transform only; load into memory, persist nothing")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if raw := envString("OTX_MODIFIED_SINCE", ""); raw != "" {
		t, err := parseISO(raw)
		if err != nil {
			return nil, errors.Wrap(err, "OTX_MODIFIED_SINCE")
		}
		cfg.InitialSince = t
	}
	if *since != "" {
		t, err := parseISO(*since)
		if err != nil {
			return nil, errors.Wrap(err, "--since")
		}
		cfg.Since = t
		cfg.HasSince = true
	}

	if cfg.APIKey == "" {
		return nil, errors.New("OTX_API_KEY is required")
	}
	if cfg.PGDSN == "" && !cfg.DryRun {
		return nil, errors.New("PG_DSN is required (or pass --dry-run)")
	}
	return cfg, nil
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("not an ISO8601 timestamp: %q", s)
}
