package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: "+secret+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 100, cfg.Audit.MaxBufferSize)
	assert.Equal(t, 50, cfg.Audit.RetryLimit)
	assert.Equal(t, 30*time.Second, cfg.Audit.FlushInterval)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: "+secret+"\nserver:\n  port: 9000\n")
	t.Setenv("SAR_SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("SAR_AUTH_JWT_SECRET", secret)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", "server:\n  port: 1\n"},
		{"short secret", "auth:\n  jwt_secret: short\n"},
		{"ldap without url", "auth:\n  jwt_secret: " + secret + "\nldap:\n  enabled: true\n"},
		{"retry over buffer", "auth:\n  jwt_secret: " + secret + "\naudit:\n  max_buffer_size: 10\n  retry_limit: 20\n"},
		{"archive without bucket", "auth:\n  jwt_secret: " + secret + "\narchive:\n  enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadLDAPDefaults(t *testing.T) {
	body := "auth:\n  jwt_secret: " + secret + "\n" +
		"ldap:\n  enabled: true\n  url: ldap://dc.example.com\n  bind_dn: cn=svc\n  bind_password: pw\n" +
		"  base_dn: dc=example,dc=com\n  group_mapping:\n    Admin: cn=sar-admins,dc=example,dc=com\n"
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, "(sAMAccountName=%s)", cfg.LDAP.UserFilter)
	assert.Equal(t, "sAMAccountName", cfg.LDAP.UsernameAttr)
	assert.Len(t, cfg.Warnings(), 1)
}

func TestLoadClientDefaults(t *testing.T) {
	path := writeConfig(t, "token_file: /tmp/sar-session.json\n")

	cfg, err := LoadClient(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "/tmp/sar-session.json", cfg.TokenFile)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 100, cfg.Audit.MaxBufferSize)
	assert.True(t, cfg.Offline.Enabled)
	assert.Equal(t, "v1", cfg.Offline.Version)
}

func TestLoadClientRejectsRelativeBaseURL(t *testing.T) {
	path := writeConfig(t, "base_url: localhost\ntoken_file: /tmp/s.json\n")
	_, err := LoadClient(path)
	assert.ErrorContains(t, err, "base_url")
}
