package cmd

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/cooldown"
	"github.com/orderdesk/orderdesk-cli/internal/dryrun"
)

func newCooldownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cooldown",
		Aliases: []string{"cd"},
		Short:   "Inspect and manage notification cooldowns",
		Long: strings.TrimSpace(`
After an e-mail notification is sent for a conversation, further e-mails are
held back for the cooldown window (cooldown.minutes, default 15). Messages you
write during the window are counted so an early resend can be offered.
`),
	}

	cmd.AddCommand(newCooldownListCmd())
	cmd.AddCommand(newCooldownStatusCmd())
	cmd.AddCommand(newCooldownRecordCmd())
	cmd.AddCommand(newCooldownBumpCmd())
	cmd.AddCommand(newCooldownResetCmd())
	cmd.AddCommand(newCooldownSweepCmd())
	return cmd
}

func newCooldownListCmd() *cobra.Command {
	var sinceExpr string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cooldown entries",
		Args:    cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			cutoff, err := parseSinceFlag(sinceExpr)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				statuses := make([]cooldown.Status, 0)
				for _, e := range s.cooldowns.List() {
					if e.LastNotifiedAt.Before(cutoff) {
						continue
					}
					statuses = append(statuses, s.cooldowns.Status(e.ConversationID, ""))
				}

				f := newFormatter(cmd)
				if isJSON(cmd) {
					return f.Output(statuses)
				}
				if len(statuses) == 0 {
					f.Empty("No cooldowns.")
					return nil
				}
				f.StartTable([]string{"CONVERSATION", "STATE", "MIN LEFT", "WAITING", "NOTIFIED AT", "BY"})
				for _, st := range statuses {
					f.Row(st.ConversationID, st.State.String(), strconv.Itoa(st.MinutesLeft), strconv.Itoa(st.MessagesWaiting),
						formatNotifiedAt(st.LastNotifiedAt), st.LastNotifiedBy)
				}
				return f.EndTable()
			})
		}),
	}
	cmd.Flags().StringVar(&sinceExpr, "since", "", "Only entries notified since (e.g. 30m, today, 2026-03-01)")
	return cmd
}

func formatNotifiedAt(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func newCooldownStatusCmd() *cobra.Command {
	var recipient string

	cmd := &cobra.Command{
		Use:   "status <conversation-id>",
		Short: "Show the banner state of one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				st := s.cooldowns.Status(args[0], recipient)
				if isJSON(cmd) {
					return printJSON(cmd, st)
				}
				printText(cmd, "%s: %s\n", st.ConversationID, describeStatus(st))
				return nil
			})
		}),
	}
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient user id (online recipients suppress the banner)")
	return cmd
}

// describeStatus renders the banner text for a status.
func describeStatus(st cooldown.Status) string {
	switch st.State {
	case cooldown.Suppressed:
		return "recipient is online"
	case cooldown.Ready:
		return strconv.Itoa(st.MessagesWaiting) + " message(s) waiting, ready to notify"
	case cooldown.CooldownWaiting:
		return strconv.Itoa(st.MessagesWaiting) + " message(s) waiting, next notification in " + strconv.Itoa(st.MinutesLeft) + " min"
	case cooldown.CooldownIdle:
		return "notified, next notification in " + strconv.Itoa(st.MinutesLeft) + " min"
	default:
		return "no cooldown"
	}
}

func newCooldownRecordCmd() *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "record <conversation-id>",
		Short: "Record a notification and start the cooldown window",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				if account, err := config.Resolve(flags.Profile); err == nil {
					actor = account.UserID
				}
			}
			return withSession(cmd, func(s *session) error {
				s.cooldowns.RecordNotification(args[0], actor)
				return printStatus(cmd, s, args[0])
			})
		}),
	}
	cmd.Flags().StringVar(&actor, "actor", "", "User id recorded as the sender (default: your user id)")
	return cmd
}

func newCooldownBumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bump <conversation-id>",
		Short: "Count one message written during the cooldown window",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				s.cooldowns.IncrementMessageCount(args[0])
				return printStatus(cmd, s, args[0])
			})
		}),
	}
}

func newCooldownResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <conversation-id>",
		Short: "Clear the cooldown of one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				st := s.cooldowns.Status(args[0], "")
				preview := (&dryrun.Preview{Action: "reset cooldown of", Target: args[0]}).
					Add("state", st.State).
					Add("messages waiting", st.MessagesWaiting)
				if ok, err := maybeDryRun(cmd, preview); ok {
					return err
				}
				s.cooldowns.ResetCooldown(args[0])
				return printStatus(cmd, s, args[0])
			})
		}),
	}
}

func newCooldownSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove entries older than the retention window",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *session) error {
				retention := s.settings.RetentionWindow()
				preview := (&dryrun.Preview{Action: "remove", Target: "stale cooldowns"}).Add("retention", retention)
				for _, e := range s.cooldowns.List() {
					if time.Since(e.LastNotifiedAt) > retention {
						preview.Add(e.ConversationID, formatNotifiedAt(&e.LastNotifiedAt))
					}
				}
				if ok, err := maybeDryRun(cmd, preview); ok {
					return err
				}
				removed := s.cooldowns.ClearStaleEntries()
				if isJSON(cmd) {
					return printJSON(cmd, map[string]int{"removed": removed})
				}
				printText(cmd, "Removed %d stale cooldown(s)\n", removed)
				return nil
			})
		}),
	}
}

func printStatus(cmd *cobra.Command, s *session, conversationID string) error {
	st := s.cooldowns.Status(conversationID, "")
	if isJSON(cmd) {
		return printJSON(cmd, st)
	}
	printText(cmd, "%s: %s\n", st.ConversationID, describeStatus(st))
	return nil
}
