// Package config holds daemon configuration and its validation rules.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
)

// Duration wraps time.Duration so config files can use strings like "2s".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("duration must be a string or number")
	}
	*d = Duration(asNumber)
	return nil
}

// MarshalJSON renders the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds daemon configuration.
type Config struct {
	// Search URL templates; %s is replaced with the escaped search term.
	FalabellaSearchURL    string `json:"falabella_search_url"`
	MercadoLibreSearchURL string `json:"mercadolibre_search_url"`

	CollectorURL string `json:"collector_url"`
	ListenAddr   string `json:"listen_addr"`
	MetricsAddr  string `json:"metrics_addr"`
	DBPath       string `json:"db_path"`
	OutputDir    string `json:"output_dir"`
	UserAgent    string `json:"user_agent"`
	// Windowed runs the browser with a visible window. The zero value
	// (headless) is the default, which keeps default merging simple.
	Windowed bool `json:"windowed"`
	Verbose  bool `json:"verbose"`

	// Session loop tuning.
	PageTimeout   Duration `json:"page_timeout"`
	SettleDelay   Duration `json:"settle_delay"`
	MaxTotalPages int      `json:"max_total_pages"`
	ProgressEvery int      `json:"progress_every"`

	// One-shot sweep tuning.
	SweepMaxPages   int      `json:"sweep_max_pages"`
	SweepDelay      Duration `json:"sweep_delay"`
	MaxRetries      int      `json:"max_retries"`
	RetryBackoff    Duration `json:"retry_backoff"`
	RetryBackoffMax Duration `json:"retry_backoff_max"`
}

// DefaultConfig returns conservative defaults for both target sites.
func DefaultConfig() *Config {
	return &Config{
		FalabellaSearchURL:    "https://www.falabella.com.pe/falabella-pe/search?Ntt=%s",
		MercadoLibreSearchURL: "https://listado.mercadolibre.com.pe/%s",
		CollectorURL:          "http://localhost:3001/data",
		ListenAddr:            ":8700",
		MetricsAddr:           ":9090",
		DBPath:                "pricescout.db",
		OutputDir:             "output",
		UserAgent:             "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Windowed:              false,
		Verbose:               false,
		PageTimeout:           Duration(2 * time.Minute),
		SettleDelay:           Duration(2 * time.Second),
		MaxTotalPages:         25,
		ProgressEvery:         10,
		SweepMaxPages:         10,
		SweepDelay:            Duration(500 * time.Millisecond),
		MaxRetries:            2,
		RetryBackoff:          Duration(200 * time.Millisecond),
		RetryBackoffMax:       Duration(2 * time.Second),
	}
}

// Load reads a JSON config file and fills any unset fields with defaults.
// A missing file yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	}
	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("merge config defaults: %w", err)
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"falabella search URL":    c.FalabellaSearchURL,
		"mercadolibre search URL": c.MercadoLibreSearchURL,
		"collector URL":           c.CollectorURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", name)
		}
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PageTimeout.Std() <= 0 {
		return fmt.Errorf("page timeout must be positive")
	}
	if c.SettleDelay.Std() < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if c.MaxTotalPages <= 0 {
		return fmt.Errorf("max total pages must be positive")
	}
	if c.ProgressEvery <= 0 {
		return fmt.Errorf("progress interval must be positive")
	}
	if c.SweepMaxPages <= 0 {
		return fmt.Errorf("sweep max pages must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff.Std() < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax.Std() > 0 && c.RetryBackoff.Std() > c.RetryBackoffMax.Std() {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)",
			c.RetryBackoff.Std(), c.RetryBackoffMax.Std())
	}
	return nil
}

// EnvString reads a string environment override.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	return value, ok
}

// EnvInt reads an integer environment override.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return value, true, nil
}
