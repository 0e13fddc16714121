package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tagmesh/tagmesh/pkg/storage"
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
	Use:   "tagmesh",
	Short: "Tagmesh - reconciling control plane for packet tagging and filtering",
	Long: `Tagmesh programs a fleet of P4 switches from one desired state.

Operators declare tag rules (classify flows and mark their DSCP field) and
filter rules (drop packets carrying a tag); the controller continuously
reconciles every switch to match, surviving restarts and partial failures.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Tagmesh version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("data-dir", "./tagmesh-data", "Data directory for desired state")
}

// openStore opens the desired-state database named by --data-dir
func openStore(cmd *cobra.Command) (*storage.BoltStore, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store in %s: %v", dataDir, err)
	}
	return store, nil
}
