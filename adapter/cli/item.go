package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/npjlab/pauta/internal/agenda/application"
	"github.com/npjlab/pauta/internal/agenda/domain"
)

const timeLayout = "2006-01-02 15:04"

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage docket items (hearings, meetings, deadlines)",
}

var (
	itemCategory   string
	itemLocation   string
	itemDesc       string
	itemOwnerEmail string
	itemAttendees  []string
	itemRemind     bool
	itemEmailLead  []int
	itemPopupLead  []int
	itemStatus     string
	itemLimit      int
)

var itemAddCmd = &cobra.Command{
	Use:   "add <title> <start> <end>",
	Short: "Add a docket item",
	Long: `Add a hearing, client meeting or procedural deadline to the docket.

Times use the "YYYY-MM-DD HH:MM" layout in local time.

Examples:
  pauta item add "Custody hearing" "2026-09-10 14:00" "2026-09-10 15:30" --category hearing
  pauta item add "Client intake" "2026-09-08 09:00" "2026-09-08 10:00" \
    --category meeting --attendee "Ana Souza <ana@example.org>" --remind`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}
		ownerID, err := requireOwner()
		if err != nil {
			return err
		}
		if itemOwnerEmail == "" {
			return fmt.Errorf("--owner-email is required")
		}

		startsAt, err := time.ParseInLocation(timeLayout, args[1], time.Local)
		if err != nil {
			return fmt.Errorf("invalid start time %q: %w", args[1], err)
		}
		endsAt, err := time.ParseInLocation(timeLayout, args[2], time.Local)
		if err != nil {
			return fmt.Errorf("invalid end time %q: %w", args[2], err)
		}

		item := domain.NewScheduleItem(args[0], domain.Category(itemCategory), ownerID, itemOwnerEmail, startsAt, endsAt)
		if err := item.Validate(); err != nil {
			return fmt.Errorf("invalid time range: start must be before end")
		}
		item.SetDetails(itemDesc, itemLocation)
		if len(itemAttendees) > 0 {
			item.SetAttendees(parseAttendees(itemAttendees))
		}
		if itemRemind || len(itemEmailLead) > 0 || len(itemPopupLead) > 0 {
			item.SetReminders(domain.ReminderPolicy{
				EmailMinutes: itemEmailLead,
				PopupMinutes: itemPopupLead,
			}, true)
		}

		if err := c.ScheduleRepo.Save(cmd.Context(), item); err != nil {
			return fmt.Errorf("failed to save item: %w", err)
		}

		fmt.Println("Item added to the docket.")
		fmt.Printf("  ID:       %s\n", item.ID())
		fmt.Printf("  Title:    %s\n", item.Title())
		fmt.Printf("  Category: %s\n", item.Category())
		fmt.Printf("  When:     %s - %s\n", item.StartsAt().Format(timeLayout), item.EndsAt().Format("15:04"))
		fmt.Println("It will reach the calendar on the next sync run (or run: pauta sync).")
		return nil
	},
}

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List docket items by sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		status := domain.SyncStatus(itemStatus)
		if !status.IsValid() {
			return fmt.Errorf("invalid status %q (pending, in_progress, synced, cancelled)", itemStatus)
		}

		items, err := c.ScheduleRepo.FindByStatus(cmd.Context(), status, itemLimit)
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}
		if len(items) == 0 {
			fmt.Printf("No %s items.\n", status)
			return nil
		}

		for _, item := range items {
			remote := "-"
			if item.HasRemote() {
				remote = item.RemoteID()
			}
			fmt.Printf("%s  %-8s  %-10s  %s  remote=%s\n",
				item.ID().String()[:8],
				item.Category(),
				item.Status(),
				item.StartsAt().Format(timeLayout),
				remote,
			)
			fmt.Printf("          %s\n", item.Title())
			if item.SyncErrors() > 0 {
				fmt.Printf("          errors=%d last=%s\n", item.SyncErrors(), item.LastError())
			}
		}
		return nil
	},
}

var itemShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one docket item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid item id: %w", err)
		}

		item, err := c.ScheduleRepo.FindByID(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to load item: %w", err)
		}
		if item == nil {
			return fmt.Errorf("item %s not found", id)
		}

		fmt.Printf("ID:        %s\n", item.ID())
		fmt.Printf("Title:     %s\n", item.Title())
		fmt.Printf("Category:  %s\n", item.Category())
		fmt.Printf("When:      %s - %s\n", item.StartsAt().Format(timeLayout), item.EndsAt().Format(timeLayout))
		if item.Location() != "" {
			fmt.Printf("Location:  %s\n", item.Location())
		}
		fmt.Printf("Status:    %s\n", item.Status())
		if item.HasRemote() {
			fmt.Printf("Remote:    %s\n", item.RemoteID())
			if item.RemoteLink() != "" {
				fmt.Printf("Link:      %s\n", item.RemoteLink())
			}
		}
		if item.SyncErrors() > 0 {
			fmt.Printf("Failures:  %d (last: %s)\n", item.SyncErrors(), item.LastError())
		}
		for _, a := range item.Attendees() {
			fmt.Printf("Attendee:  %s <%s>\n", a.Name, a.Email)
		}
		return nil
	},
}

var itemCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel an item and remove its calendar event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid item id: %w", err)
		}

		item, err := c.ScheduleRepo.FindByID(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to load item: %w", err)
		}
		if item == nil {
			return fmt.Errorf("item %s not found", id)
		}

		provider := domain.ProviderType(c.Config.CalendarProvider)
		remote, err := c.Registry.Create(cmd.Context(), provider, item.OwnerID())
		if err != nil {
			return fmt.Errorf("no calendar provider for owner: %w", err)
		}

		reconciler := application.NewReconciler(c.ScheduleRepo, remote, c.Publisher, logger)
		outcome := reconciler.CancelAndDelete(cmd.Context(), item)
		if outcome.Failed() {
			return fmt.Errorf("cancel failed (%s): %w", outcome.Kind, outcome.Err)
		}

		if outcome.Action == application.ActionSkipped {
			fmt.Println("Item was already cancelled.")
		} else {
			fmt.Println("Item cancelled and removed from the calendar.")
		}
		return nil
	},
}

// parseAttendees accepts "Name <email>" or plain email entries.
func parseAttendees(raw []string) []domain.Attendee {
	attendees := make([]domain.Attendee, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if open := strings.Index(entry, "<"); open >= 0 && strings.HasSuffix(entry, ">") {
			attendees = append(attendees, domain.Attendee{
				Name:  strings.TrimSpace(entry[:open]),
				Email: strings.TrimSuffix(entry[open+1:], ">"),
			})
			continue
		}
		attendees = append(attendees, domain.Attendee{Email: entry})
	}
	return attendees
}

func init() {
	itemAddCmd.Flags().StringVar(&itemCategory, "category", "other", "hearing, meeting, deadline or other")
	itemAddCmd.Flags().StringVar(&itemLocation, "location", "", "where the event happens")
	itemAddCmd.Flags().StringVar(&itemDesc, "desc", "", "free-form description")
	itemAddCmd.Flags().StringVar(&itemOwnerEmail, "owner-email", "", "email of the responsible staff member")
	itemAddCmd.Flags().StringArrayVar(&itemAttendees, "attendee", nil, `attendee as "Name <email>" (repeatable)`)
	itemAddCmd.Flags().BoolVar(&itemRemind, "remind", false, "send an email reminder before the event")
	itemAddCmd.Flags().IntSliceVar(&itemEmailLead, "email-lead", nil, "email reminder lead times in minutes")
	itemAddCmd.Flags().IntSliceVar(&itemPopupLead, "popup-lead", nil, "popup reminder lead times in minutes")

	itemListCmd.Flags().StringVar(&itemStatus, "status", "pending", "sync status to list")
	itemListCmd.Flags().IntVar(&itemLimit, "limit", 50, "maximum items to show")

	itemCmd.AddCommand(itemAddCmd)
	itemCmd.AddCommand(itemListCmd)
	itemCmd.AddCommand(itemShowCmd)
	itemCmd.AddCommand(itemCancelCmd)
	AddCommand(itemCmd)
}
