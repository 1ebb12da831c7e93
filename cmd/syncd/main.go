// Command syncd runs the PlanMesh device sync daemon: it owns the sync
// engine, watches connectivity, and serves the local realtime event feed
// that UI clients subscribe to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/planmesh/backend/internal/config"
	"github.com/planmesh/backend/internal/connectivity"
	"github.com/planmesh/backend/internal/db"
	"github.com/planmesh/backend/internal/device"
	"github.com/planmesh/backend/internal/logging"
	syncengine "github.com/planmesh/backend/internal/sync"
	"github.com/planmesh/backend/internal/sync/changelog"
	"github.com/planmesh/backend/internal/sync/events"
	"github.com/planmesh/backend/internal/sync/transport"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "syncd",
		Short:         "PlanMesh device sync daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var configPath string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the syncd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("syncd v%s\n", Version)
		},
	}

	root.AddCommand(runCmd, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run is the composition root: store, identity, engine, monitor, feed.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open device store: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate device store: %w", err)
	}

	repo := db.NewRepository(database)
	defer repo.Close()

	deviceID := device.NewIdentity(repo).GetOrCreate()

	bus := events.NewBus()

	engine := syncengine.NewEngine(
		repo,
		changelog.New(repo),
		transport.NewHTTPTransport(&transport.HTTPConfig{
			BaseURL:   cfg.Remote.BaseURL,
			AuthToken: cfg.Remote.AuthToken,
			Timeout:   cfg.RemoteTimeout(),
		}),
		bus,
		&syncengine.Config{
			DeviceID: deviceID,
			Interval: cfg.SyncInterval(),
			Debounce: cfg.SyncDebounce(),
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := connectivity.NewMonitor(
		connectivity.NewHTTPProber(cfg.ProbeURL(), 0),
		bus, engine, engine,
		cfg.ProbeInterval(),
	)
	monitor.Start(ctx)
	defer monitor.Stop()

	hub := NewEventHub(cfg.Listen.Addr)
	unsubscribe := bus.Subscribe(hub.Forward)
	defer unsubscribe()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, engine.Status())
	})

	server := &http.Server{Addr: cfg.Listen.Addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Local event feed server stopped", err, nil)
		}
	}()

	engine.StartPeriodic(ctx, cfg.SyncInterval())

	logging.Info("syncd started",
		map[string]interface{}{
			"device_id": deviceID,
			"listen":    cfg.Listen.Addr,
			"interval":  cfg.SyncInterval().String(),
		})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("syncd shutting down", nil)

	engine.StopPeriodic()
	server.Shutdown(context.Background())
	return nil
}
