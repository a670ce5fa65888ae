package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/dryrun"
	"github.com/orderdesk/orderdesk-cli/internal/iocontext"
	"github.com/orderdesk/orderdesk-cli/internal/resolve"
	"github.com/orderdesk/orderdesk-cli/internal/since"
	"github.com/orderdesk/orderdesk-cli/internal/snapshot"
)

func newUnreadCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:     "unread",
		Aliases: []string{"un"},
		Short:   "Inspect and clear unread badges",
		Long:    "Unread badges are kept per conversation for order chats and support tickets.",
	}
	cmd.PersistentFlags().StringVarP(&kind, "kind", "k", "all", "Conversation kind: orders|tickets|all")

	cmd.AddCommand(newUnreadListCmd(&kind))
	cmd.AddCommand(newUnreadTotalCmd(&kind))
	cmd.AddCommand(newUnreadMarkReadCmd(&kind))
	cmd.AddCommand(newUnreadMarkAllReadCmd(&kind))
	cmd.AddCommand(newUnreadSeedCmd(&kind))
	return cmd
}

type unreadRow struct {
	Kind           snapshot.Kind `json:"kind"`
	ConversationID string        `json:"conversation_id"`
	UnreadCount    int           `json:"unread_count"`
	LastEventAt    time.Time     `json:"last_event_at"`
}

func newUnreadListCmd(kind *string) *cobra.Command {
	var sinceExpr string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations with unread messages",
		Example: strings.TrimSpace(`
  od unread list
  od unread list --kind tickets -o json
  od unread list --since 2h
  od unread list --jq '.items[] | select(.unread_count > 3) | .conversation_id'
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			cutoff, err := parseSinceFlag(sinceExpr)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				selected, err := s.trackers(*kind)
				if err != nil {
					return err
				}
				var rows []unreadRow
				for _, kt := range selected {
					for _, st := range kt.tracker.List() {
						if st.LastEventAt.Before(cutoff) {
							continue
						}
						rows = append(rows, unreadRow{Kind: kt.kind, ConversationID: st.ConversationID, UnreadCount: st.UnreadCount, LastEventAt: st.LastEventAt})
					}
				}
				sort.SliceStable(rows, func(i, j int) bool { return rows[i].LastEventAt.After(rows[j].LastEventAt) })

				f := newFormatter(cmd)
				if isJSON(cmd) {
					return f.Output(rows)
				}
				if len(rows) == 0 {
					f.Empty("Nothing unread.")
					return nil
				}
				f.StartTable([]string{"KIND", "CONVERSATION", "UNREAD", "LAST EVENT"})
				for _, r := range rows {
					f.Row(string(r.Kind), r.ConversationID, strconv.Itoa(r.UnreadCount), r.LastEventAt.Local().Format(time.DateTime))
				}
				return f.EndTable()
			})
		}),
	}
	cmd.Flags().StringVar(&sinceExpr, "since", "", "Only conversations with activity since (e.g. 2h, yesterday, monday, 2026-03-01)")
	return cmd
}

type unreadTotals struct {
	Orders  int `json:"orders"`
	Tickets int `json:"tickets"`
	Total   int `json:"total"`
}

func newUnreadTotalCmd(kind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "total",
		Short: "Print the total unread count",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *session) error {
				selected, err := s.trackers(*kind)
				if err != nil {
					return err
				}
				var totals unreadTotals
				for _, kt := range selected {
					n := kt.tracker.Total()
					if kt.kind == snapshot.KindOrders {
						totals.Orders = n
					} else {
						totals.Tickets = n
					}
					totals.Total += n
				}
				if isJSON(cmd) {
					return printJSON(cmd, totals)
				}
				printText(cmd, "%d\n", totals.Total)
				return nil
			})
		}),
	}
}

func newUnreadMarkReadCmd(kind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <conversation-id>",
		Short: "Clear the badge of one conversation",
		Long: strings.TrimSpace(`
Clear the badge of one conversation. The id may be a unique prefix of a
tracked conversation. Any other id is marked read as given.
`),
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session) error {
				selected, err := s.trackers(*kind)
				if err != nil {
					return err
				}
				var ids []string
				seen := make(map[string]bool)
				for _, kt := range selected {
					for _, id := range kt.tracker.IDs() {
						if !seen[id] {
							seen[id] = true
							ids = append(ids, id)
						}
					}
				}
				id, err := resolve.Conversation(args[0], ids)
				var notFound *resolve.NotFoundError
				if errors.Is(err, resolve.ErrEmptyItems) || errors.As(err, &notFound) {
					id, err = strings.TrimSpace(args[0]), nil
				}
				if err != nil {
					return err
				}
				cleared := 0
				for _, kt := range selected {
					cleared += kt.tracker.Count(id)
				}
				preview := (&dryrun.Preview{Action: "mark read", Target: id}).Add("unread cleared", cleared)
				if ok, err := maybeDryRun(cmd, preview); ok {
					return err
				}
				for _, kt := range selected {
					kt.tracker.MarkRead(id)
				}
				if isJSON(cmd) {
					return printJSON(cmd, map[string]any{"conversation_id": id, "cleared": cleared})
				}
				printText(cmd, "Marked %s read (%d cleared)\n", id, cleared)
				if cleared == 0 && !isJSON(cmd) {
					if similar := resolve.Suggest(id, ids, 3); len(similar) > 0 {
						names := make([]string, len(similar))
						for i, m := range similar {
							names[i] = m.ID
						}
						_, _ = fmt.Fprintf(iocontext.GetIO(cmd.Context()).ErrOut, "%s is not tracked. Similar: %s\n", id, strings.Join(names, ", "))
					}
				}
				return nil
			})
		}),
	}
}

func newUnreadMarkAllReadCmd(kind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-all-read",
		Short: "Clear every badge",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *session) error {
				selected, err := s.trackers(*kind)
				if err != nil {
					return err
				}
				cleared := 0
				preview := &dryrun.Preview{Action: "mark read", Target: "every conversation"}
				for _, kt := range selected {
					n := kt.tracker.Total()
					cleared += n
					preview.Add(string(kt.kind), n)
				}
				if ok, err := maybeDryRun(cmd, preview); ok {
					return err
				}
				for _, kt := range selected {
					kt.tracker.MarkAllRead()
				}
				if isJSON(cmd) {
					return printJSON(cmd, map[string]any{"cleared": cleared})
				}
				printText(cmd, "Cleared %d unread\n", cleared)
				return nil
			})
		}),
	}
}

type seedResult struct {
	Kind    snapshot.Kind `json:"kind"`
	Fetched int           `json:"fetched"`
	Total   int           `json:"total"`
}

func newUnreadSeedCmd(kind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed badges from the server snapshot",
		Long: strings.TrimSpace(`
Fetch the server's view of unread conversations and add badges for the ones
not tracked locally yet. Local counts are never overwritten.

The source is chosen by snapshot.source in the settings file (http, postgres or none).
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			account, err := config.Resolve(flags.Profile)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				selected, err := s.trackers(*kind)
				if err != nil {
					return err
				}
				results := make([]seedResult, 0, len(selected))
				for _, kt := range selected {
					src, closeSrc, err := s.snapshotSource(account, kt.kind)
					if err != nil {
						return err
					}
					if src == nil {
						continue
					}
					n, err := snapshot.Seed(cmd.Context(), src, kt.tracker)
					closeSrc()
					if err != nil {
						return fmt.Errorf("seed %s: %w", kt.kind, err)
					}
					results = append(results, seedResult{Kind: kt.kind, Fetched: n, Total: kt.tracker.Total()})
				}
				if isJSON(cmd) {
					return printJSON(cmd, results)
				}
				if len(results) == 0 {
					printText(cmd, "Snapshots are disabled (snapshot.source: none)\n")
					return nil
				}
				for _, r := range results {
					printText(cmd, "%s: %d conversations fetched, %d unread\n", r.Kind, r.Fetched, r.Total)
				}
				return nil
			})
		}),
	}
}

// parseSinceFlag returns the zero time for an empty expression.
func parseSinceFlag(expr string) (time.Time, error) {
	if expr == "" {
		return time.Time{}, nil
	}
	t, err := since.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since: %w", err)
	}
	return t, nil
}
