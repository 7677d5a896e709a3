package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"

	"github.com/roach88/stacksync/internal/engine"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes environment overrides, e.g. STACKSYNC_BATCH_SIZE.
const EnvPrefix = "STACKSYNC"

// Config holds the tunable settings of a migration run.
type Config struct {
	BatchSize        int64         `mapstructure:"batch_size"`
	Workers          int           `mapstructure:"workers"`
	ApplyTimeout     time.Duration `mapstructure:"apply_timeout"`
	RetryDenominator int           `mapstructure:"retry_denominator"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	DeferErrors      bool          `mapstructure:"defer_errors"`
	MaxRetries       int           `mapstructure:"max_retries"`
	DeltaMode        string        `mapstructure:"delta_mode"`
	SpillDir         string        `mapstructure:"spill_dir"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	FinalSync        bool          `mapstructure:"final_sync"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// ValidationError reports settings rejected by the schema.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsValidationError returns true if err is a schema validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns the built-in settings.
func Default() Config {
	opts := engine.DefaultOptions()
	return Config{
		BatchSize:        opts.BatchSize,
		Workers:          opts.Workers,
		ApplyTimeout:     opts.ApplyTimeout,
		RetryDenominator: opts.RetryDenominator,
		PollInterval:     opts.PollInterval,
		MaxRetries:       opts.MaxRetries,
		DeltaMode:        string(opts.DeltaMode),
	}
}

// Load reads settings from defaults, the YAML file at path (skipped when
// empty) and the environment, then validates them.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if unknown := unknownKeys(v); len(unknown) > 0 {
		return Config{}, &ValidationError{Problems: []string{"unknown keys: " + strings.Join(unknown, ", ")}}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("apply_timeout", d.ApplyTimeout)
	v.SetDefault("retry_denominator", d.RetryDenominator)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("defer_errors", d.DeferErrors)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("delta_mode", d.DeltaMode)
	v.SetDefault("spill_dir", d.SpillDir)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("final_sync", d.FinalSync)
	v.SetDefault("metrics_addr", d.MetricsAddr)
}

// unknownKeys lists config file keys that have no default.
func unknownKeys(v *viper.Viper) []string {
	known := make(map[string]bool)
	for k := range settingsMap(Default()) {
		known[k] = true
	}
	var out []string
	for _, k := range v.AllKeys() {
		if !known[k] {
			out = append(out, k)
		}
	}
	return out
}

// settingsMap renders c with the schema's field names.
func settingsMap(c Config) map[string]any {
	return map[string]any{
		"batch_size":        c.BatchSize,
		"workers":           c.Workers,
		"apply_timeout":     int64(c.ApplyTimeout),
		"retry_denominator": c.RetryDenominator,
		"poll_interval":     int64(c.PollInterval),
		"defer_errors":      c.DeferErrors,
		"max_retries":       c.MaxRetries,
		"delta_mode":        c.DeltaMode,
		"spill_dir":         c.SpillDir,
		"rate_limit":        c.RateLimit,
		"final_sync":        c.FinalSync,
		"metrics_addr":      c.MetricsAddr,
	}
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	unified := def.Unify(ctx.Encode(settingsMap(c)))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, e.Error())
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}

// EngineOptions converts the settings to engine options.
func (c Config) EngineOptions() engine.Options {
	return engine.Options{
		BatchSize:        c.BatchSize,
		Workers:          c.Workers,
		ApplyTimeout:     c.ApplyTimeout,
		RetryDenominator: c.RetryDenominator,
		PollInterval:     c.PollInterval,
		DeferErrors:      c.DeferErrors,
		MaxRetries:       c.MaxRetries,
		DeltaMode:        engine.DeltaMode(c.DeltaMode),
		SpillDir:         c.SpillDir,
		RateLimit:        c.RateLimit,
		FinalSync:        c.FinalSync,
	}
}
