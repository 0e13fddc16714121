package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tagmesh/tagmesh/pkg/events"
	"github.com/tagmesh/tagmesh/pkg/log"
	"github.com/tagmesh/tagmesh/pkg/metrics"
	"github.com/tagmesh/tagmesh/pkg/p4switch"
	"github.com/tagmesh/tagmesh/pkg/reconciler"
	"github.com/tagmesh/tagmesh/pkg/types"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the reconciliation controller",
}

var controllerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control loop against the configured switches",
	Long: `Start the reconciliation controller.

The controller polls the desired state, connects to every registered switch
and continuously programs its tag and filter tables to match. Metrics and
health endpoints are served over HTTP next to the control loop.`,
	RunE: runController,
}

func init() {
	controllerRunCmd.Flags().Duration("poll-interval", 5*time.Second, "Time between reconciliation cycles")
	controllerRunCmd.Flags().Duration("op-timeout", 3*time.Second, "Timeout for each entry write and counter read")
	controllerRunCmd.Flags().Int("max-concurrent", 0, "Max switches reconciled in parallel (0 = unlimited)")
	controllerRunCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for metrics and health endpoints")
	controllerRunCmd.Flags().String("p4info", "", "P4Info text file describing the pipeline (optional)")
	controllerRunCmd.Flags().String("device-config", "", "Compiled device config to install on connect (optional)")
	controllerRunCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	controllerRunCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")

	controllerCmd.AddCommand(controllerRunCmd)
	rootCmd.AddCommand(controllerCmd)
}

func runController(cmd *cobra.Command, args []string) error {
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	opTimeout, _ := cmd.Flags().GetDuration("op-timeout")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	p4infoPath, _ := cmd.Flags().GetString("p4info")
	deviceConfigPath, _ := cmd.Flags().GetString("device-config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON, Output: os.Stderr})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	// Pipeline profile: compiled-in defaults unless a P4Info file is given.
	profile := p4switch.DefaultProfile()
	if p4infoPath != "" {
		var err error
		profile, err = p4switch.LoadProfile(p4infoPath)
		if err != nil {
			return fmt.Errorf("failed to load p4info: %v", err)
		}
	}
	var pipeline *p4switch.PipelineConfig
	if p4infoPath != "" && deviceConfigPath != "" {
		pipeline = &p4switch.PipelineConfig{
			P4InfoPath:       p4infoPath,
			DeviceConfigPath: deviceConfigPath,
		}
	}

	store, err := openStore(cmd)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return err
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	engine := reconciler.New(store, reconciler.Config{
		PollInterval:          pollInterval,
		OpTimeout:             opTimeout,
		MaxConcurrentSwitches: maxConcurrent,
		Broker:                broker,
		NewDevice: func(sw *types.Switch) p4switch.Device {
			return p4switch.NewConn(p4switch.Config{
				Switch:   sw,
				Profile:  profile,
				Pipeline: pipeline,
			})
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	logger.Info().
		Str("metrics_addr", metricsAddr).
		Dur("poll_interval", pollInterval).
		Msg("controller started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("shutting down")
	}

	cancel()
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}
