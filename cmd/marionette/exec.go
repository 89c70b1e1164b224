package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/action"
	"github.com/jbweber/marionette/internal/keyboard"
	"github.com/jbweber/marionette/internal/loader"
	"github.com/jbweber/marionette/internal/naming"
	"github.com/jbweber/marionette/internal/session"
)

var dryRun bool

var execCmd = &cobra.Command{
	Use:   "exec <batch.yaml>",
	Short: "Run an action batch from a file",
	Long: `Run an ActionBatch from a YAML file ("-" reads stdin).

The batch names the machine to attach to (spec.connect) or the template to
clone (spec.clone, optionally spec.snapshot). A cloned machine is deleted
when the batch finishes.

Example batch:

  apiVersion: marionette.cofront.xyz/v1alpha1
  kind: ActionBatch
  spec:
    clone: win11
    snapshot: clean
    actions:
      - [mouseMove, 400, 300]
      - [mousePress, 16]
      - [mouseRelease, 16]
      - [type, "hunter2"]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := loader.LoadFromFile(args[0], cfg.Keyboard.Layout)
		if err != nil {
			return err
		}

		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		if dryRun {
			out, err := formatter.FormatSession(batch.Session())
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Print(out)
			return nil
		}

		results, err := runBatch(cmd.Context(), batch)
		if results != nil {
			out, fmtErr := formatter.FormatResults(results)
			if fmtErr != nil {
				return errors.Join(err, fmt.Errorf("failed to format output: %w", fmtErr))
			}
			fmt.Print(out)
		}
		return err
	},
}

func init() {
	execCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the batch and print the session it would open")
}

// runBatch opens the session the batch asks for, runs its actions and
// closes the session again.
func runBatch(ctx context.Context, batch *v1alpha1.ActionBatch) (results []action.Result, err error) {
	layout, err := keyboard.Lookup(batch.Spec.Layout)
	if err != nil {
		return nil, err
	}

	client, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeClient(client)

	mgr := session.NewManager(newHypervisor(client), session.WithLayout(batch.Spec.Layout))
	var sess *session.Session
	if batch.Spec.Clone != "" {
		name := naming.CloneName(batch.Spec.Clone, uuid.New().String())
		sess, err = mgr.CloneAndLaunch(ctx, batch.Spec.Clone, name, batch.Spec.Snapshot)
	} else {
		sess, err = mgr.Attach(ctx, batch.Spec.Connect)
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := sess.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	exec := action.NewExecutor(layout)
	if batch.Spec.Isolated {
		return exec.ExecuteIsolated(ctx, sess, batch.Spec.Actions)
	}

	actions, err := action.ParseBatch(batch.Spec.Actions)
	if err != nil {
		return nil, err
	}
	out, err := exec.Execute(ctx, sess, actions)
	if err != nil {
		return nil, err
	}
	return []action.Result{{Success: true, Result: out}}, nil
}
