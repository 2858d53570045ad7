package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty falabella url",
			mutate: func(cfg *Config) {
				cfg.FalabellaSearchURL = ""
			},
			wantErr: "falabella search URL",
		},
		{
			name: "collector url without host",
			mutate: func(cfg *Config) {
				cfg.CollectorURL = "http://"
			},
			wantErr: "collector URL",
		},
		{
			name: "empty listen address",
			mutate: func(cfg *Config) {
				cfg.ListenAddr = ""
			},
			wantErr: "listen address",
		},
		{
			name: "empty db path",
			mutate: func(cfg *Config) {
				cfg.DBPath = ""
			},
			wantErr: "db path",
		},
		{
			name: "zero page timeout",
			mutate: func(cfg *Config) {
				cfg.PageTimeout = 0
			},
			wantErr: "page timeout",
		},
		{
			name: "negative settle delay",
			mutate: func(cfg *Config) {
				cfg.SettleDelay = Duration(-time.Second)
			},
			wantErr: "settle delay",
		},
		{
			name: "zero max total pages",
			mutate: func(cfg *Config) {
				cfg.MaxTotalPages = 0
			},
			wantErr: "max total pages",
		},
		{
			name: "backoff exceeds max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = Duration(5 * time.Second)
				cfg.RetryBackoffMax = Duration(time.Second)
			},
			wantErr: "retry backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricescout.json")
	content := `{"listen_addr": ":9999", "page_timeout": "30s", "max_total_pages": 5}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.PageTimeout.Std() != 30*time.Second {
		t.Errorf("PageTimeout = %v, want 30s", cfg.PageTimeout.Std())
	}
	if cfg.MaxTotalPages != 5 {
		t.Errorf("MaxTotalPages = %d, want 5", cfg.MaxTotalPages)
	}

	defaults := DefaultConfig()
	if cfg.CollectorURL != defaults.CollectorURL {
		t.Errorf("CollectorURL = %q, want default %q", cfg.CollectorURL, defaults.CollectorURL)
	}
	if cfg.UserAgent != defaults.UserAgent {
		t.Errorf("UserAgent = %q, want default", cfg.UserAgent)
	}
	if cfg.SweepMaxPages != defaults.SweepMaxPages {
		t.Errorf("SweepMaxPages = %d, want default %d", cfg.SweepMaxPages, defaults.SweepMaxPages)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != DefaultConfig().ListenAddr {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"90s"`)); err != nil {
		t.Fatalf("UnmarshalJSON(string) error = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("duration = %v, want 90s", d.Std())
	}
	if err := d.UnmarshalJSON([]byte(`1500000000`)); err != nil {
		t.Fatalf("UnmarshalJSON(number) error = %v", err)
	}
	if d.Std() != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", d.Std())
	}
	if err := d.UnmarshalJSON([]byte(`"banana"`)); err == nil {
		t.Error("UnmarshalJSON(invalid) = nil, want error")
	}
}
