// Command habsimd hosts the trajectory-prediction CORE as a long-running
// worker process: it loads configuration, opens the blob client and
// caches, starts the lifecycle manager, and exposes the simulate/
// ensemble_run/progress_poll/elevation_lookup/wind_query operations to
// whatever external collaborator owns the request-handling surface.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/habsim/core/blob"
	"github.com/habsim/core/cmn"
	"github.com/habsim/core/elev"
	"github.com/habsim/core/ensemble"
	"github.com/habsim/core/lifecycle"
	"github.com/habsim/core/predcache"
	"github.com/habsim/core/progress"
	"github.com/habsim/core/service"
	"github.com/habsim/core/simcache"
	"github.com/habsim/core/warray"
	"github.com/habsim/core/wind"
	"github.com/habsim/core/xlog"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "habsimd",
		Short: "HAB trajectory prediction core worker",
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a TOML config overlay")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		os.Setenv("HABSIM_CONFIG_FILE", configFile)
	}
	cfg, err := cmn.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := blob.New(cfg.ObjectStoreURL, cfg.ObjectStoreToken)
	if err != nil {
		return err
	}
	store := warray.NewStore(cfg.CacheDir, client)
	worldelevPath, err := store.EnsureCached(ctx, "worldelev.npy")
	if err != nil {
		return fmt.Errorf("cache elevation grid: %w", err)
	}
	elevation := elev.New(worldelevPath)

	reg := prometheus.NewRegistry()
	simCache := simcache.New(cfg.SimulatorCacheNormal, cfg.SimulatorCacheEnsemble, reg)
	predCache, err := predcache.New(cfg.PredictionCacheSize, cfg.PredictionCacheTTL)
	if err != nil {
		return err
	}
	progressReg := progress.New(30 * time.Second)
	scheduler := ensemble.New(cfg.EnsembleWorkers, progressReg, reg)

	svc := service.New(client, store, elevation, simCache, predCache, scheduler, progressReg, defaultGrid)

	lc := lifecycle.New(simCache)

	go lc.Run(ctx)
	go logCacheStatusPeriodically(ctx, svc)

	xlog.Infof("habsimd started: cache_dir=%s workers=%d", cfg.CacheDir, cfg.EnsembleWorkers)

	<-ctx.Done()
	xlog.Infof("habsimd shutting down")
	return nil
}

// defaultGrid is a placeholder grid resolver; a real deployment reads the
// per-member grid metadata from the array's own manifest.
func defaultGrid(member string) wind.Grid {
	return wind.Grid{
		Lat0: -90, LatStep: 1, NLat: 181,
		Lon0: -180, LonStep: 1, NLon: 360,
		ComponentStride: 2,
	}
}

func logCacheStatusPeriodically(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := svc.CacheStatus()
			encoded, err := status.Encode()
			if err != nil {
				xlog.Warnf("cache status encode: %v", err)
				continue
			}
			xlog.Infof("cache status: simulators=%d predictions=%d (%d bytes encoded)",
				status.SimulatorsCached, status.PredictionsCached, len(encoded))
		}
	}
}
