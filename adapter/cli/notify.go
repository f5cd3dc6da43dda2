package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var notifyWindow time.Duration

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send reminders for events starting soon",
	Long: `Scan synced docket items starting within the lookahead window and
dispatch an email reminder for each one that has not been reminded yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		window := notifyWindow
		if window <= 0 {
			window = c.Config.ReminderWindow
		}

		report, err := c.Notifier.CheckAndNotify(cmd.Context(), window)
		if err != nil {
			return fmt.Errorf("reminder check failed: %w", err)
		}

		if report.Notified == 0 && report.Errors == 0 {
			fmt.Printf("No reminders due in the next %s.\n", window)
			return nil
		}
		fmt.Printf("Sent %d reminder(s)", report.Notified)
		if report.Errors > 0 {
			fmt.Printf(", %d failed", report.Errors)
		}
		fmt.Println(".")
		return nil
	},
}

func init() {
	notifyCmd.Flags().DurationVar(&notifyWindow, "window", 0, "lookahead window (default from config)")
	AddCommand(notifyCmd)
}
