package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/marionette/internal/output"
)

var clonesCmd = &cobra.Command{
	Use:   "clones",
	Short: "List and clean up clones",
	Long: `List the linked clones marionette created on this host.

A clone that is not in use belongs to a session that ended without closing
it, for example because the process was killed. Such clones can be removed
with 'marionette clones prune'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient(client)

		infos, err := newHypervisor(client).ListClones(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list clones: %w", err)
		}

		clones := make([]output.Clone, 0, len(infos))
		for _, c := range infos {
			clones = append(clones, output.Clone{
				Session: c.Record,
				State:   string(c.State),
				InUse:   c.InUse,
			})
		}

		result, err := formatter.FormatCloneList(clones)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var clonesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete clones left behind by ended sessions",
	Long: `Delete every clone whose session lock is not held.

Clones in use by a live session are skipped. Only domains carrying
marionette clone metadata are considered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient(client)

		pruned, err := newHypervisor(client).Prune(cmd.Context())
		for _, name := range pruned {
			fmt.Printf("✓ Deleted clone %s\n", name)
		}
		if err != nil {
			return fmt.Errorf("failed to prune clones: %w", err)
		}
		if len(pruned) == 0 {
			fmt.Println("No abandoned clones found")
		}
		return nil
	},
}

func init() {
	clonesCmd.AddCommand(clonesPruneCmd)
}
