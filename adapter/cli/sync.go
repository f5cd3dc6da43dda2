package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/npjlab/pauta/internal/agenda/application/workers"
	"github.com/npjlab/pauta/internal/agenda/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass against the calendar",
	Long: `Claim pending docket items and push them to the configured calendar
provider, then check for due reminders. The worker daemon runs the same
cycle on an interval; this command runs it once and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		workerConfig := workers.SyncWorkerConfig{
			Interval:      c.Config.SyncInterval,
			MaxSyncErrors: c.Config.SyncMaxErrors,
			BatchSize:     c.Config.SyncBatchSize,
			MaxParallel:   c.Config.SyncMaxParallel,
			StaleClaimAge: workers.DefaultStaleClaimAge,
			Provider:      domain.ProviderType(c.Config.CalendarProvider),
		}

		worker := workers.NewSyncWorker(
			c.ScheduleRepo,
			c.Registry,
			c.Notifier,
			c.Publisher,
			workerConfig,
			logger,
		)

		fmt.Println("Running sync cycle...")
		worker.RunOnce(cmd.Context())
		fmt.Println("Done. Use 'pauta item list --status pending' to see what remains.")
		return nil
	},
}

func init() {
	AddCommand(syncCmd)
}
