// Package cli implements the pauta command line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/npjlab/pauta/internal/app"
)

var (
	verbose   bool
	ownerFlag string
	logger    *slog.Logger
	container *app.Container
)

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pauta",
	Short: "Pauta - NPJ docket and calendar sync",
	Long: `Pauta keeps the legal clinic's docket of hearings, client meetings
and procedural deadlines in sync with each staff member's calendar,
and sends reminders ahead of imminent events.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info := commandContext{
			correlationID: uuid.New(),
			startedAt:     time.Now(),
		}
		cmd.SetContext(context.WithValue(cmd.Context(), commandContextKey{}, info))
		logger.Debug("command start",
			"command", cmd.CommandPath(),
			"correlation_id", info.correlationID.String(),
		)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger == nil {
			logger = slog.Default()
		}
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.Debug("command end",
			"command", cmd.CommandPath(),
			"correlation_id", info.correlationID.String(),
			"duration_ms", time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// SetLogger installs the logger used by all commands.
func SetLogger(l *slog.Logger) {
	logger = l
}

// SetContainer installs the wired application container.
func SetContainer(c *app.Container) {
	container = c
}

// AddCommand registers a subcommand on the root.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Execute runs the CLI.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&ownerFlag, "owner", os.Getenv("PAUTA_OWNER_ID"), "owner (staff member) id")
}

// requireContainer fails the command when the application could not be wired.
func requireContainer() (*app.Container, error) {
	if container == nil {
		return nil, fmt.Errorf("application not initialized, check configuration")
	}
	return container, nil
}

// requireOwner parses the --owner flag (or PAUTA_OWNER_ID).
func requireOwner() (uuid.UUID, error) {
	if ownerFlag == "" {
		return uuid.Nil, fmt.Errorf("owner id is required (--owner or PAUTA_OWNER_ID)")
	}
	id, err := uuid.Parse(ownerFlag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid owner id %q: %w", ownerFlag, err)
	}
	return id, nil
}
