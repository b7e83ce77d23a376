package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AnzeLovse/resolwe/internal/app"
	"github.com/AnzeLovse/resolwe/internal/config"
)

var sweepOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the copy/delete sweep",
	Long: `Sweep evaluates every configured backend's copy and delete
candidates and acts on them once, then exits.

Intended for deployments that prefer an external scheduler (cron, a
Kubernetes CronJob) over storelifed's own ticker; the configured sweep
interval is not used by this command.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", true, "run a single sweep and exit (currently the only supported mode)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app.InitLogger(cfg)

	ctx := context.Background()
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Store.Close()

	a.Manager.SweepOnce(ctx)
	return nil
}
