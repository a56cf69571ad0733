package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notargets/ZMesh/config"
	"github.com/notargets/ZMesh/driver"
	"github.com/notargets/ZMesh/logger"
	"github.com/notargets/ZMesh/metrics"
	"github.com/notargets/ZMesh/store"
)

var version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		verbose    bool
		configFile string
	)
	root := &cobra.Command{
		Use:          "zmesh",
		Short:        "ZMesh moves adapted layered meshes onto evolving surfaces",
		Long:         `ZMesh tracks the vertical node columns of an adaptively refined layered mesh split over several ranks, and moves every column onto new top and bottom surfaces after each refinement pass.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML configuration file")

	loadConfig := func() (*config.Config, error) {
		cfg := config.Default()
		if configFile != "" {
			var err error
			if cfg, err = config.Load(configFile); err != nil {
				return nil, err
			}
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		return cfg, nil
	}

	root.AddCommand(newRunCmd(loadConfig))
	root.AddCommand(newConfigCmd(loadConfig))
	return root
}

func newRunCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		ranks       int
		iterations  int
		seed        int64
		dbPath      string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the adapt and move loop",
		Long: `Run the adapt and move loop over the configured number of ranks.

Example:
  zmesh run --config zmesh.yaml --ranks 4 --iterations 5 --db passes.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("ranks") {
				cfg.Run.Ranks = ranks
			}
			if flags.Changed("iterations") {
				cfg.Run.Iterations = iterations
			}
			if flags.Changed("seed") {
				cfg.Run.Seed = seed
			}
			if flags.Changed("db") {
				cfg.Run.DBPath = dbPath
			}
			return runLoop(cmd.Context(), cmd.OutOrStdout(), cfg, metricsAddr)
		},
	}
	cmd.Flags().IntVar(&ranks, "ranks", 0, "number of simulated ranks (overrides the config)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "number of adaptivity iterations (overrides the config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 seeds from the clock (overrides the config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite file receiving the pass history (overrides the config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func newConfigCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func runLoop(ctx context.Context, out io.Writer, cfg *config.Config, metricsAddr string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	deps := driver.Deps{Logger: log}
	reg := prometheus.NewRegistry()
	deps.Metrics = metrics.NewCollector(reg)

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	if cfg.Run.DBPath != "" {
		st, err := store.New(cfg.Run.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		deps.Store = st
	}

	res, err := driver.Run(ctx, cfg, deps)
	if res != nil {
		printResult(out, res)
	}
	return err
}

func printResult(w io.Writer, res *driver.Result) {
	fmt.Fprintf(w, "seed:        %d\n", res.Seed)
	fmt.Fprintf(w, "iterations:  %d\n", res.Iterations)
	fmt.Fprintf(w, "cells:       %d\n", res.Cells)
	fmt.Fprintf(w, "vertices:    %d (%d hanging)\n", res.Vertices, res.Hanging)
	fmt.Fprintf(w, "columns:     %v\n", res.Columns)
	fmt.Fprintf(w, "conflicts:   %d\n", res.Conflicts)
	fmt.Fprintf(w, "failed:      %d\n", res.Failed)
	fmt.Fprintf(w, "unresolved:  %d\n", res.Unresolved)
	fmt.Fprintf(w, "halo values: %d\n", res.HaloValues)
	fmt.Fprintf(w, "top range:   [%.3f, %.3f]\n", res.TopMin, res.TopMax)
}
