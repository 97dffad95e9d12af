package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

type OfflineConfig struct {
	Enabled bool   `yaml:"enabled" env:"SARCTL_OFFLINE_ENABLED" env-default:"true"`
	Version string `yaml:"version" env:"SARCTL_OFFLINE_VERSION" env-default:"v1"`
}

// ClientConfig configures the sarctl front-end.
type ClientConfig struct {
	BaseURL   string        `yaml:"base_url"   env:"SARCTL_BASE_URL"   env-default:"http://localhost:8080"`
	TokenFile string        `yaml:"token_file" env:"SARCTL_TOKEN_FILE"`
	CacheTTL  time.Duration `yaml:"cache_ttl"  env:"SARCTL_CACHE_TTL"  env-default:"5m"`
	Timeout   time.Duration `yaml:"timeout"    env:"SARCTL_TIMEOUT"    env-default:"30s"`
	PageSize  int           `yaml:"page_size"  env:"SARCTL_PAGE_SIZE"  env-default:"10"`
	Log       LogConfig     `yaml:"log"`
	Audit     AuditConfig   `yaml:"audit"`
	Offline   OfflineConfig `yaml:"offline"`
}

// LoadClient reads the sarctl configuration the same way Load reads the
// server's. An empty token_file resolves to ~/.config/sar/session.json.
func LoadClient(path string) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := read(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.Audit.MaxBufferSize < 1 {
		return fmt.Errorf("audit.max_buffer_size must be positive")
	}
	if c.Audit.RetryLimit < 0 || c.Audit.RetryLimit > c.Audit.MaxBufferSize {
		return fmt.Errorf("audit.retry_limit must be between 0 and audit.max_buffer_size")
	}
	if c.TokenFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("token_file is required: %w", err)
		}
		c.TokenFile = filepath.Join(dir, "sar", "session.json")
	}
	return nil
}
