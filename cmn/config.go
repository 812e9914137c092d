// Package cmn provides common configuration, constants, and error-handling
// primitives shared by every habsim core package.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package cmn

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds the process-wide settings for the simulation core. It is
// loaded from environment variables first, then overlaid with an optional
// TOML file for local/dev runs, mirroring the teacher's layered
// cmn.Config load (defaults, then on-disk overrides).
type Config struct {
	ObjectStoreURL   string `toml:"object_store_url"`
	ObjectStoreToken string `toml:"object_store_token"`
	CacheDir         string `toml:"cache_dir"`
	DownloadControl  bool   `toml:"download_control"`

	NumPerturbedMembers int `toml:"num_perturbed_members"`
	EnsembleWorkers     int `toml:"ensemble_workers"`

	SimulatorCacheNormal   int           `toml:"simulator_cache_normal"`
	SimulatorCacheEnsemble int           `toml:"simulator_cache_ensemble"`
	PredictionCacheSize    int           `toml:"prediction_cache_size"`
	PredictionCacheTTL     time.Duration `toml:"-"`

	IdleResetTimeout time.Duration `toml:"-"`
	IdleCleanCooldown time.Duration `toml:"-"`
	EnsembleModeMax  time.Duration `toml:"-"`
}

// Defaults mirrors the constants hard-coded in the original Python service
// (simulate.py / app.py), kept here as a single source of truth.
func Defaults() *Config {
	return &Config{
		CacheDir:               os.TempDir(),
		NumPerturbedMembers:    20,
		EnsembleWorkers:        32,
		SimulatorCacheNormal:   10,
		SimulatorCacheEnsemble: 30,
		PredictionCacheSize:    200,
		PredictionCacheTTL:     time.Hour,
		IdleResetTimeout:       120 * time.Second,
		IdleCleanCooldown:      120 * time.Second,
		EnsembleModeMax:        300 * time.Second,
	}
}

// Load builds a Config from the environment, optionally overlaid with a
// TOML file named by HABSIM_CONFIG_FILE.
func Load() (*Config, error) {
	c := Defaults()

	if v := os.Getenv("OBJECT_STORE_URL"); v != "" {
		c.ObjectStoreURL = v
	}
	if v := os.Getenv("OBJECT_STORE_TOKEN"); v != "" {
		c.ObjectStoreToken = v
	}
	if v := os.Getenv("HABSIM_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("DOWNLOAD_CONTROL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid DOWNLOAD_CONTROL %q", v)
		}
		c.DownloadControl = b
	}
	if v := os.Getenv("NUM_PERTURBED_MEMBERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid NUM_PERTURBED_MEMBERS %q", v)
		}
		c.NumPerturbedMembers = n
	}

	if path := os.Getenv("HABSIM_CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, errors.Wrapf(err, "decode config file %s", path)
		}
	}
	return c, nil
}
