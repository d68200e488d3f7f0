package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roosthq/roost/pkg/orchestrator"
	"github.com/roosthq/roost/pkg/types"
)

var createCmd = &cobra.Command{
	Use:   "create [target ...]",
	Short: "Create missing guests and their missing dependencies",
	Long: `Create processes the requested targets plus any of their dependencies
that do not exist yet. Guests that already exist are skipped unless
explicitly named. With no arguments, every declared guest is a target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return convergeRun(args, func(ctx context.Context, o *orchestrator.Orchestrator, targets []int) (*types.RunReport, error) {
			return o.Create(ctx, targets)
		})
	},
}

var convergeCmd = &cobra.Command{
	Use:   "converge [target ...]",
	Short: "Reprocess targets and their full dependency closure",
	Long: `Converge reprocesses the requested targets and everything they depend
on, regardless of current state. With no arguments, the whole document
converges. The pass is idempotent: satisfied features are skipped and
unchanged artifacts are rewritten to identical content.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return convergeRun(args, func(ctx context.Context, o *orchestrator.Orchestrator, targets []int) (*types.RunReport, error) {
			return o.Converge(ctx, targets)
		})
	},
}

// convergeRun is the shared create/converge driver
func convergeRun(args []string, run func(context.Context, *orchestrator.Orchestrator, []int) (*types.RunReport, error)) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	targets, err := parseTargets(rt.store, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	report, err := run(ctx, rt.orch, targets)
	if report != nil {
		fmt.Print(orchestrator.FormatReport(report))
	}
	if err != nil {
		return err
	}
	degradedRun = !rt.warnings.Empty()
	return nil
}

var startCmd = &cobra.Command{
	Use:   "start [target ...]",
	Short: "Start guests in dependency order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRun(args, func(ctx context.Context, o *orchestrator.Orchestrator, targets []int) error {
			return o.Start(ctx, targets)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [target ...]",
	Short: "Stop guests in reverse dependency order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRun(args, func(ctx context.Context, o *orchestrator.Orchestrator, targets []int) error {
			return o.Stop(ctx, targets)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <target ...>",
	Short: "Destroy the named guests",
	Long: `Delete destroys exactly the named guests, dependents first.
Dependencies are never deleted implicitly; removal is always an
explicit operator decision.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycleRun(args, func(ctx context.Context, o *orchestrator.Orchestrator, targets []int) error {
			return o.Delete(ctx, targets)
		})
	},
}

func lifecycleRun(args []string, run func(context.Context, *orchestrator.Orchestrator, []int) error) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	targets, err := parseTargets(rt.store, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := run(ctx, rt.orch, targets); err != nil {
		return err
	}
	degradedRun = !rt.warnings.Empty()
	return nil
}

var syncCmd = &cobra.Command{
	Use:       "sync <dns|firewall|routes|certs|stacks|all>",
	Short:     "Reconcile derived artifacts without touching guests",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"dns", "firewall", "routes", "certs", "stacks", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, cancel := signalContext()
		defer cancel()
		if err := rt.orch.Sync(ctx, args[0]); err != nil {
			return err
		}
		degradedRun = !rt.warnings.Empty()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guest state and the last run report",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, cancel := signalContext()
		defer cancel()

		status, err := rt.orch.Status(ctx)
		if err != nil {
			return err
		}
		w := os.Stdout
		fmt.Fprintf(w, "%-6s %-20s %-8s %s\n", "ID", "NAME", "EXISTS", "RUNNING")
		for _, s := range status {
			fmt.Fprintf(w, "%-6d %-20s %-8v %v\n", s.ID, s.Name, s.Exists, s.Running)
		}

		last, err := rt.orch.LastRun()
		if err != nil {
			return err
		}
		if last != nil {
			fmt.Fprintln(w)
			fmt.Fprint(w, orchestrator.FormatReport(last))
		}
		return nil
	},
}
