package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moai-flow/swarm/pkg/config"
	"github.com/moai-flow/swarm/pkg/coordinator"
	"github.com/moai-flow/swarm/pkg/log"
	"github.com/moai-flow/swarm/pkg/metrics"
	"github.com/moai-flow/swarm/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "Swarmd - multi-agent swarm coordination daemon",
	Long: `Swarmd runs the swarm coordination core: agent registry,
switchable topologies, heartbeat health monitoring, consensus,
lifecycle hooks, and bottleneck detection, in a single process.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Swarmd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the swarm coordinator",
	Long: `Start the swarm coordinator with the given configuration.

The coordinator runs until interrupted. Prometheus metrics are served
on the metrics address under /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		topologyKind, _ := cmd.Flags().GetString("topology")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if topologyKind != "" {
			cfg.Topology.Type = types.TopologyKind(topologyKind)
		}

		if err := log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			Dir:        cfg.Log.Dir,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			JSONLines:  cfg.Log.JSONLines,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %v", err)
		}
		defer log.Close()

		coord, err := coordinator.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to start coordinator: %v", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			info := coord.TopologyInfo()
			if info.Health == "critical" {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			fmt.Fprintf(w, "%s\n", info.Health)
		})
		srv := &http.Server{Addr: metricsAddr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server error: %v", err)
			}
		}()

		fmt.Printf("Swarm %q is running (topology: %s, metrics: %s). Press Ctrl+C to stop.\n",
			cfg.SwarmID, cfg.Topology.Type, metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		srv.Close()
		coord.Shutdown()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Printf("✓ %s is valid (swarm: %s, topology: %s)\n",
			configPath, cfg.SwarmID, cfg.Topology.Type)
		return nil
	},
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	start := time.Now()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	log.Logger.Debug().Str("path", path).Dur("elapsed", time.Since(start)).Msg("config loaded")
	return cfg, nil
}

func init() {
	startCmd.Flags().String("config", "", "Path to YAML configuration file")
	startCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	startCmd.Flags().String("topology", "", "Initial topology: mesh, star, ring, hierarchical, adaptive")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics endpoint")

	validateCmd.Flags().String("config", "", "Path to YAML configuration file")
}
