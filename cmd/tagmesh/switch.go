package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tagmesh/tagmesh/pkg/types"
)

// Switch commands
var switchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Manage the switch inventory",
}

var switchAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a switch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		endpoint, _ := cmd.Flags().GetString("endpoint")
		deviceID, _ := cmd.Flags().GetUint64("device-id")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.CreateSwitch(&types.Switch{
			Name:     name,
			Endpoint: endpoint,
			DeviceID: deviceID,
		}); err != nil {
			return fmt.Errorf("failed to register switch: %v", err)
		}

		fmt.Printf("✓ Switch registered: %s (%s, device %d)\n", name, endpoint, deviceID)
		return nil
	},
}

var switchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered switches",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		switches, err := store.ListSwitches()
		if err != nil {
			return fmt.Errorf("failed to list switches: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENDPOINT\tDEVICE ID")
		for _, sw := range switches {
			fmt.Fprintf(w, "%s\t%s\t%d\n", sw.Name, sw.Endpoint, sw.DeviceID)
		}
		return w.Flush()
	},
}

var switchRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a switch from the inventory",
	Long: `Remove a switch from the inventory.

Rules referencing the switch stay in the store but stop being programmed
anywhere; the controller tears down the connection on its next cycle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteSwitch(name); err != nil {
			return fmt.Errorf("failed to remove switch: %v", err)
		}

		fmt.Printf("✓ Switch removed: %s\n", name)
		return nil
	},
}

func init() {
	switchCmd.AddCommand(switchAddCmd)
	switchCmd.AddCommand(switchListCmd)
	switchCmd.AddCommand(switchRemoveCmd)

	switchAddCmd.Flags().String("endpoint", "", "gRPC endpoint, e.g. 127.0.0.1:50051")
	switchAddCmd.Flags().Uint64("device-id", 0, "P4Runtime device id")
	_ = switchAddCmd.MarkFlagRequired("endpoint")

	rootCmd.AddCommand(switchCmd)
}
