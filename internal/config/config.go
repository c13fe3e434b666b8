// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads and validates process configuration for the
// indexer: global defaults plus a per-chain override map, read from a YAML
// file, environment variables, and flags via github.com/spf13/viper
// (SPEC_FULL.md §6.1), the way the teacher's cmd/simulator/main builds its
// viper instance from a pflag.FlagSet.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
)

// Flag/viper keys, in the BuildFlagSet/BuildViper/BuildConfig shape the
// teacher's simulator config follows.
const (
	ConfigFileKey   = "config-file"
	DatabaseURLKey  = "database-url"
	MetricsAddrKey  = "metrics-addr"
	PollIntervalKey = "poll-interval"
	SafetyLagKey    = "safety-lag"
	WindowDepthKey  = "window-depth"
	MaxRangeKey     = "max-range"
	MaxRetriesKey   = "max-retries"
	BaseBackoffKey  = "base-backoff"
)

const (
	defaultPollInterval = 12 * time.Second
	defaultSafetyLag    = 64
	defaultWindowDepth  = 64
	defaultMaxRange     = 1000
	defaultMaxRetries   = 5
	defaultBaseBackoff  = 500 * time.Millisecond
)

// BuildFlagSet declares the process's command-line flags (spec.md §6's
// recognized options plus the ambient database/metrics keys).
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("indexer", pflag.ContinueOnError)
	fs.String(ConfigFileKey, "", "path to a YAML configuration file")
	fs.String(DatabaseURLKey, "", "Postgres connection string")
	fs.String(MetricsAddrKey, ":9090", "address to serve /metrics on")
	fs.Duration(PollIntervalKey, defaultPollInterval, "per-chain poll interval")
	fs.Uint64(SafetyLagKey, defaultSafetyLag, "blocks behind tip before a block is considered final")
	fs.Uint64(WindowDepthKey, defaultWindowDepth, "blocks of reorg history kept in the recent window")
	fs.Uint64(MaxRangeKey, defaultMaxRange, "max blocks per getLogs call")
	fs.Int(MaxRetriesKey, defaultMaxRetries, "max retry attempts per log-source call")
	fs.Duration(BaseBackoffKey, defaultBaseBackoff, "starting backoff delay")
	return fs
}

// BuildViper parses args against fs and layers a YAML config file (if
// given) and environment variables (INDEXER_ prefix) under the flags.
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("indexer")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if path := v.GetString(ConfigFileKey); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return v, nil
}

// ChainOverride is one entry of the config file's `chains:` map
// (SPEC_FULL.md §6.1).
type ChainOverride struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"apiKey"`
	NFPMAddress    string `mapstructure:"nfpmAddress"`
	ChainNumericID uint64 `mapstructure:"chainNumericID"`
	PollInterval   *time.Duration
	SafetyLag      *uint64
	WindowDepth    *uint64
	MaxRange       *uint64
	MaxRetries     *int
	BaseBackoff    *time.Duration
}

// Config is the fully resolved, validated process configuration.
type Config struct {
	DatabaseURL string
	MetricsAddr string
	Chains      map[chain.ID]chain.Config
}

// BuildConfig resolves v into a validated Config, applying defaults and
// per-chain overrides from the `chains:` map. Any error here is fatal at
// startup (exit code 1, spec.md §6).
func BuildConfig(v *viper.Viper) (Config, error) {
	databaseURL := v.GetString(DatabaseURLKey)
	if databaseURL == "" {
		return Config{}, fmt.Errorf("config: %s is required", DatabaseURLKey)
	}

	var rawChains map[string]ChainOverride
	if err := v.UnmarshalKey("chains", &rawChains); err != nil {
		return Config{}, fmt.Errorf("config: parse chains: %w", err)
	}
	if len(rawChains) == 0 {
		return Config{}, fmt.Errorf("config: at least one chain must be configured")
	}

	defaultPoll := v.GetDuration(PollIntervalKey)
	defaultSafety := v.GetUint64(SafetyLagKey)
	defaultWindow := v.GetUint64(WindowDepthKey)
	defaultRange := v.GetUint64(MaxRangeKey)
	defaultRetries := v.GetInt(MaxRetriesKey)
	defaultBackoff := v.GetDuration(BaseBackoffKey)

	chains := make(map[chain.ID]chain.Config, len(rawChains))
	for idStr, override := range rawChains {
		id := chain.ID(idStr)
		if !chain.Known(id) {
			return Config{}, fmt.Errorf("config: unknown chain %q", idStr)
		}
		if override.Endpoint == "" {
			return Config{}, fmt.Errorf("config: chain %q missing endpoint", idStr)
		}

		nfpm, err := resolveNFPMAddress(id, override.NFPMAddress)
		if err != nil {
			return Config{}, err
		}

		cc := chain.Config{
			ID:            id,
			NumericID:     override.ChainNumericID,
			Endpoint:      override.Endpoint,
			APIKey:        override.APIKey,
			NFPMAddress:   nfpm,
			PollInterval:  durationOr(override.PollInterval, defaultPoll).Milliseconds(),
			SafetyLag:     uint64Or(override.SafetyLag, defaultSafety),
			WindowDepth:   uint64Or(override.WindowDepth, defaultWindow),
			MaxRange:      uint64Or(override.MaxRange, defaultRange),
			MaxRetries:    intOr(override.MaxRetries, defaultRetries),
			BaseBackoffMS: durationOr(override.BaseBackoff, defaultBackoff).Milliseconds(),
		}
		if err := cc.Validate(); err != nil {
			return Config{}, fmt.Errorf("config: chain %q: %w", idStr, err)
		}
		chains[id] = cc
	}

	return Config{
		DatabaseURL: databaseURL,
		MetricsAddr: v.GetString(MetricsAddrKey),
		Chains:      chains,
	}, nil
}

func resolveNFPMAddress(id chain.ID, override string) (evmtypes.Address, error) {
	if override != "" {
		return evmtypes.ParseAddress(override)
	}
	return chain.DefaultNFPMAddress(id)
}

func durationOr(v *time.Duration, fallback time.Duration) time.Duration {
	if v != nil {
		return *v
	}
	return fallback
}

func uint64Or(v *uint64, fallback uint64) uint64 {
	if v != nil {
		return *v
	}
	return fallback
}

func intOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
