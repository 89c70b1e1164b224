package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/marionette/internal/naming"
)

// Clone pool commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage the clone storage pool",
	Long: `Manage the libvirt storage pool that holds the overlay disks of clones.

The pool is named by clone.pool and backed by the directory clone.path. It
is created on first use.`,
}

func init() {
	poolCmd.AddCommand(poolInfoCmd)
	poolCmd.AddCommand(poolEnsureCmd)
	poolCmd.AddCommand(poolRefreshCmd)
	poolCmd.AddCommand(poolDeleteCmd)
	poolCmd.AddCommand(poolRmCmd)

	poolDeleteCmd.Flags().BoolVar(&forceDelete, "force", false, "delete every volume in the pool first")
}

var poolInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the clone pool",
	Long: `Display the clone pool's type, path, state and capacity, and the overlay
volumes it holds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer closeClient(client)

		mgr := newStorage(client)
		poolInfo, err := mgr.GetPoolInfo(ctx, mgr.ClonePool())
		if err != nil {
			return fmt.Errorf("failed to get pool info: %w", err)
		}

		volumes, err := mgr.ListVolumes(ctx, mgr.ClonePool())
		if err != nil {
			return fmt.Errorf("failed to list volumes: %w", err)
		}

		fmt.Printf("Pool: %s\n", poolInfo.Name)
		fmt.Printf("Type: %s\n", poolInfo.Type)
		fmt.Printf("State: %s\n", poolInfo.State)
		if poolInfo.Path != "" {
			fmt.Printf("Path: %s\n", poolInfo.Path)
		}
		fmt.Printf("UUID: %s\n", poolInfo.UUID)
		fmt.Printf("Available: %.2f GB (%d bytes)\n", poolInfo.AvailableGB(), poolInfo.Available)

		usagePercent := 0.0
		if poolInfo.Capacity > 0 {
			usagePercent = (float64(poolInfo.Allocation) / float64(poolInfo.Capacity)) * 100
		}
		fmt.Printf("Usage: %.1f%%\n", usagePercent)
		fmt.Printf("Volumes: %d\n", len(volumes))
		for _, vol := range volumes {
			fmt.Printf("  %-50s %8.2f GB\n", vol.Name, vol.AllocationGB())
		}
		return nil
	},
}

var poolEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create and start the clone pool if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient(client)

		mgr := newStorage(client)
		if err := mgr.EnsureClonePool(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s is running\n", mgr.ClonePool())
		return nil
	},
}

var poolRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the clone pool",
	Long: `Refresh the clone pool so libvirt picks up volumes that were added or
removed outside of it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient(client)

		mgr := newStorage(client)
		if err := mgr.RefreshPool(cmd.Context(), mgr.ClonePool()); err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s refreshed\n", mgr.ClonePool())
		return nil
	},
}

var forceDelete bool

var poolDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the clone pool",
	Long: `Delete the clone pool. The pool holds the disks of live clones, so it
can only be deleted with --force, which deletes every volume first. Run
'marionette clones prune' beforehand to remove abandoned clones cleanly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient(client)

		mgr := newStorage(client)
		if err := mgr.DeletePool(cmd.Context(), mgr.ClonePool(), forceDelete); err != nil {
			return fmt.Errorf("failed to delete pool: %w", err)
		}
		fmt.Printf("✓ Pool %s deleted\n", mgr.ClonePool())
		return nil
	},
}

var poolRmCmd = &cobra.Command{
	Use:   "rm <volume>",
	Short: "Delete a stray overlay volume",
	Long: `Delete one overlay volume from the clone pool, for example a disk left
behind when its clone domain was removed by hand. Only volumes named after
a clone can be deleted.

Example:
  marionette pool rm win11-marionette-3f2a9c1e_vda.qcow2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeName := args[0]
		if !naming.IsCloneName(volumeName) {
			return fmt.Errorf("%s is not a clone volume", volumeName)
		}

		ctx := cmd.Context()
		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer closeClient(client)

		mgr := newStorage(client)
		exists, err := mgr.VolumeExists(ctx, mgr.ClonePool(), volumeName)
		if err != nil {
			return fmt.Errorf("failed to check volume: %w", err)
		}
		if !exists {
			return fmt.Errorf("volume %s not found in pool %s", volumeName, mgr.ClonePool())
		}

		if err := mgr.DeleteVolume(ctx, mgr.ClonePool(), volumeName); err != nil {
			return err
		}
		fmt.Printf("✓ Volume %s deleted\n", volumeName)
		return nil
	},
}
