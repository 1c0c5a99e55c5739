// Package config loads the fiscalsync configuration file.
//
// The file is YAML. Environment references (${VAR}) are expanded before
// decoding, after a .env file next to the config (if any) has been loaded
// into the process environment. The decoded document is checked against an
// embedded CUE schema before defaults are applied.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/retry"
	"github.com/roach88/fiscalsync/internal/source"
)

//go:embed schema.cue
var schemaCUE string

// Source kinds.
const (
	SourceStripe   = "stripe"
	SourceFixtures = "fixtures"
)

// Config is the whole configuration file.
type Config struct {
	Database  Database            `yaml:"database"`
	HTTP      HTTP                `yaml:"http"`
	Log       Log                 `yaml:"log"`
	Supplier  document.Supplier   `yaml:"supplier"`
	Source    Source              `yaml:"source"`
	Providers map[string]Provider `yaml:"providers"`
	Retry     Retry               `yaml:"retry"`
}

type Database struct {
	Path string `yaml:"path"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Source selects where billing events are read from.
type Source struct {
	Kind             string   `yaml:"kind"`
	StripeAPIKey     string   `yaml:"stripe_api_key"`
	StripeURL        string   `yaml:"stripe_url"`
	Fixtures         string   `yaml:"fixtures"`
	DefaultTaxRate   *float64 `yaml:"default_tax_rate"`
	PricesIncludeTax *bool    `yaml:"prices_include_tax"`
	DefaultCountry   string   `yaml:"default_country"`
}

// Provider configures one adapter instance. The map key in Config.Providers
// is the registry name.
type Provider struct {
	Enabled     *bool             `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Credentials map[string]string `yaml:"credentials"`
	Options     map[string]string `yaml:"options"`
	MinInterval Duration          `yaml:"min_interval"`
	Burst       int               `yaml:"burst"`
	MaxWait     Duration          `yaml:"max_wait"`
	Timeout     Duration          `yaml:"timeout"`
}

// IsEnabled reports whether the provider should be instantiated. Providers
// are enabled unless switched off explicitly.
func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Adapter returns the constructor input for the provider.
func (p Provider) Adapter() provider.Config {
	return provider.Config{
		Endpoint:    p.Endpoint,
		Credentials: p.Credentials,
		Options:     p.Options,
	}
}

// Limits returns the call limits for the provider.
func (p Provider) Limits() provider.Limits {
	return provider.Limits{
		MinInterval: p.MinInterval.Std(),
		Burst:       p.Burst,
		MaxWait:     p.MaxWait.Std(),
		Timeout:     p.Timeout.Std(),
	}
}

// Retry configures the retry policy and the background sweep.
type Retry struct {
	Schedule      []Duration `yaml:"schedule"`
	MaxAttempts   int        `yaml:"max_attempts"`
	SweepInterval Duration   `yaml:"sweep_interval"`
	BatchSize     int        `yaml:"batch_size"`
}

// Policy returns the retry policy described by r.
func (r Retry) Policy() retry.Policy {
	p := retry.Policy{MaxAttempts: r.MaxAttempts}
	for _, d := range r.Schedule {
		p.Schedule = append(p.Schedule, d.Std())
	}
	return p
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the configuration at path.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if c.Source.Fixtures != "" && !filepath.IsAbs(c.Source.Fixtures) {
		c.Source.Fixtures = filepath.Join(filepath.Dir(path), c.Source.Fixtures)
	}
	return c, nil
}

// Parse decodes, validates and completes a configuration document.
func Parse(data []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	var doc map[string]any
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := checkSchema(doc); err != nil {
		return nil, err
	}

	c := &Config{}
	if err := yaml.Unmarshal(expanded, c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func checkSchema(doc map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	v := schema.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "fiscalsync.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceStripe
	}
	if c.Source.DefaultCountry == "" {
		c.Source.DefaultCountry = "RO"
	}
	if c.Supplier.Address.Country == "" {
		c.Supplier.Address.Country = "RO"
	}
	if c.Providers == nil {
		c.Providers = map[string]Provider{}
	}
	for name, p := range c.Providers {
		if p.MinInterval == 0 {
			p.MinInterval = Duration(provider.DefaultMinInterval)
		}
		if p.Burst == 0 {
			p.Burst = 1
		}
		if p.MaxWait == 0 {
			p.MaxWait = Duration(provider.DefaultMaxWait)
		}
		if p.Timeout == 0 {
			p.Timeout = Duration(provider.DefaultTimeout)
		}
		c.Providers[name] = p
	}
	def := retry.DefaultPolicy()
	if len(c.Retry.Schedule) == 0 {
		for _, d := range def.Schedule {
			c.Retry.Schedule = append(c.Retry.Schedule, Duration(d))
		}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.SweepInterval == 0 {
		c.Retry.SweepInterval = Duration(retry.DefaultSweepInterval)
	}
	if c.Retry.BatchSize == 0 {
		c.Retry.BatchSize = retry.DefaultBatchSize
	}
}

// Validate checks the cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceStripe:
		if strings.TrimSpace(c.Source.StripeAPIKey) == "" {
			return errors.New("invalid config: source.stripe_api_key is required for the stripe source")
		}
	case SourceFixtures:
		if strings.TrimSpace(c.Source.Fixtures) == "" {
			return errors.New("invalid config: source.fixtures is required for the fixtures source")
		}
	default:
		return fmt.Errorf("invalid config: unknown source kind %q", c.Source.Kind)
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SourceOptions returns the projection options for the event source.
func (c *Config) SourceOptions() source.Options {
	opts := source.DefaultOptions()
	if c.Source.DefaultTaxRate != nil {
		opts.DefaultTaxRate = decimal.NewFromFloat(*c.Source.DefaultTaxRate)
	}
	if c.Source.PricesIncludeTax != nil {
		opts.ChargesIncludeTax = *c.Source.PricesIncludeTax
	}
	opts.DefaultCountry = c.Source.DefaultCountry
	return opts
}

// EnabledProviders returns the names of enabled providers in sorted order.
func (c *Config) EnabledProviders() []string {
	names := make([]string, 0, len(c.Providers))
	for name, p := range c.Providers {
		if p.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
