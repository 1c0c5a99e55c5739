package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FISCALSYNC_TEST_DIR", dir)
	t.Setenv("SMARTBILL_TOKEN", "sb-token")

	c, err := Load(filepath.Join("testdata", "fiscalsync.yaml"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "ledger.db"), c.Database.Path)
	assert.Equal(t, "127.0.0.1:9090", c.HTTP.Addr)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)

	assert.Equal(t, "Fiscal Labs SRL", c.Supplier.Name)
	assert.Equal(t, "010101", c.Supplier.Address.PostalCode)
	assert.Equal(t, "RO", c.Supplier.Address.Country)

	assert.Equal(t, SourceFixtures, c.Source.Kind)
	assert.Equal(t, filepath.Join("testdata", "events.yaml"), c.Source.Fixtures)
	opts := c.SourceOptions()
	assert.Equal(t, "9", opts.DefaultTaxRate.String())
	assert.False(t, opts.ChargesIncludeTax)
	assert.Equal(t, "RO", opts.DefaultCountry)

	anaf := c.Providers["anaf"]
	assert.True(t, anaf.IsEnabled())
	assert.Equal(t, "client-from-dotenv", anaf.Credentials["client_id"])
	assert.Equal(t, "secret-from-dotenv", anaf.Adapter().Credentials["client_secret"])
	assert.Equal(t, "test", anaf.Options["environment"])
	limits := anaf.Limits()
	assert.Equal(t, 500*time.Millisecond, limits.MinInterval)
	assert.Equal(t, 2, limits.Burst)
	assert.Equal(t, 10*time.Second, limits.MaxWait)
	assert.Equal(t, 30*time.Second, limits.Timeout)

	sb := c.Providers["smartbill"]
	assert.False(t, sb.IsEnabled())
	assert.Equal(t, "sb-token", sb.Credentials["token"])
	assert.Equal(t, []string{"anaf"}, c.EnabledProviders())

	policy := c.Retry.Policy()
	assert.Equal(t, []time.Duration{15 * time.Minute, 45 * time.Minute}, policy.Schedule)
	assert.Equal(t, 2, policy.MaxAttempts)
	assert.Equal(t, 30*time.Second, c.Retry.SweepInterval.Std())
	assert.Equal(t, 100, c.Retry.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "fiscalsync.db", c.Database.Path)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, SourceStripe, c.Source.Kind)

	policy := c.Retry.Policy()
	assert.Equal(t, []time.Duration{30 * time.Minute, 60 * time.Minute, 90 * time.Minute}, policy.Schedule)
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, time.Minute, c.Retry.SweepInterval.Std())

	opts := c.SourceOptions()
	assert.Equal(t, "19", opts.DefaultTaxRate.String())
	assert.True(t, opts.ChargesIncludeTax)
}

func TestParse_Minimal(t *testing.T) {
	c, err := Parse([]byte("source:\n  kind: stripe\n  stripe_api_key: sk_test_123\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk_test_123", c.Source.StripeAPIKey)
	assert.Empty(t, c.EnabledProviders())
}

func TestParse_ProviderLimitDefaults(t *testing.T) {
	c, err := Parse([]byte(`
source:
  kind: stripe
  stripe_api_key: sk_test_123
providers:
  smartbill:
    credentials:
      token: t
`))
	require.NoError(t, err)

	limits := c.Providers["smartbill"].Limits()
	assert.Equal(t, 500*time.Millisecond, limits.MinInterval)
	assert.Equal(t, 1, limits.Burst)
	assert.Equal(t, 30*time.Second, limits.MaxWait)
	assert.Equal(t, 30*time.Second, limits.Timeout)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown section", "queue:\n  size: 3\n"},
		{"bad log level", "log:\n  level: chatty\n"},
		{"bad source kind", "source:\n  kind: paypal\n"},
		{"tax rate out of range", "source:\n  kind: stripe\n  stripe_api_key: k\n  default_tax_rate: 120\n"},
		{"bad duration", "source:\n  kind: stripe\n  stripe_api_key: k\nretry:\n  sweep_interval: soon\n"},
		{"empty schedule", "source:\n  kind: stripe\n  stripe_api_key: k\nretry:\n  schedule: []\n"},
		{"zero attempts", "source:\n  kind: stripe\n  stripe_api_key: k\nretry:\n  max_attempts: 0\n"},
		{"bad burst", "source:\n  kind: stripe\n  stripe_api_key: k\nproviders:\n  anaf:\n    burst: 0\n"},
		{"lowercase country", "source:\n  stripe_api_key: k\nsupplier:\n  address:\n    country: ro\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestParse_CrossFieldRules(t *testing.T) {
	_, err := Parse([]byte("source:\n  kind: stripe\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe_api_key")

	_, err = Parse([]byte("source:\n  kind: fixtures\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.fixtures")
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("STRIPE_KEY", "sk_live_abc")
	c, err := Parse([]byte("source:\n  stripe_api_key: ${STRIPE_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk_live_abc", c.Source.StripeAPIKey)
}

func TestDuration_RejectsGarbage(t *testing.T) {
	var c struct {
		D Duration `yaml:"d"`
	}
	err := yaml.Unmarshal([]byte("d: 3 weeks\n"), &c)
	assert.Error(t, err)

	require.NoError(t, yaml.Unmarshal([]byte("d: 1h30m\n"), &c))
	assert.Equal(t, 90*time.Minute, c.D.Std())
}
