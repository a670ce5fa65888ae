package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-cli/internal/bridge"
	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/cooldown"
	"github.com/orderdesk/orderdesk-cli/internal/dryrun"
	"github.com/orderdesk/orderdesk-cli/internal/iocontext"
	"github.com/orderdesk/orderdesk-cli/internal/notify"
	"github.com/orderdesk/orderdesk-cli/internal/realtime"
	"github.com/orderdesk/orderdesk-cli/internal/validation"
)

// newSender builds the e-mail sender; tests replace it.
var newSender = func(account config.Account, appURL string) notify.Sender {
	return notify.NewResendSender(account.ResendAPIKey, account.FromEmail, appURL)
}

// presenceWait bounds how long notify waits for the channel's presence list.
var presenceWait = 5 * time.Second

func newNotifyCmd() *cobra.Command {
	var (
		to        string
		recipient string
		force     bool
		ticket    bool
	)

	cmd := &cobra.Command{
		Use:   "notify <conversation-id>",
		Short: "E-mail the counterparty about waiting messages",
		Long: strings.TrimSpace(`
Send an e-mail notification for a conversation. Nothing is sent while the
recipient is online or while the conversation is inside its cooldown window;
--force overrides the cooldown but not presence.

With --recipient, notify joins the realtime channel first to learn who is
online. If presence cannot be read the e-mail is sent anyway.

The cooldown starts as soon as the e-mail is handed off, even if delivery fails.
`),
		Example: strings.TrimSpace(`
  od notify ord_1842 --to buyer@example.com
  od notify ord_1842 --to buyer@example.com --force

  # Skip the e-mail if user u_77 is online
  od notify ord_1842 --to buyer@example.com --recipient u_77
`),
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(to) == "" {
				return errors.New("--to is required")
			}
			if err := validation.Email(to); err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			account, err := config.Resolve(flags.Profile)
			if err != nil {
				return err
			}
			if !account.CanEmail() {
				return errors.New("e-mail is not configured: run 'od auth login --resend-api-key ... --from-email ...'")
			}
			return withSession(cmd, func(s *session) error {
				if recipient != "" {
					if err := loadPresence(cmd.Context(), s, account); err != nil {
						s.logger.Debug("presence unavailable", "error", err)
						_, _ = fmt.Fprintf(iocontext.GetIO(cmd.Context()).ErrOut,
							"warning: could not check whether %s is online: %v\n", recipient, err)
					}
				}
				if ok, err := maybeDryRun(cmd, notifyPreview(s, args[0], recipient, to, force)); ok {
					return err
				}
				d := notify.NewDispatcher(newSender(account, s.settings.Notify.AppURL), s.cooldowns, s.presence, s.logger)
				res, err := d.Send(cmd.Context(), notify.Request{
					ConversationID: args[0],
					Ticket:         ticket || isTicket(s, args[0]),
					RecipientID:    recipient,
					To:             to,
					Actor:          account.UserID,
					Force:          force,
				})
				if err != nil {
					return err
				}
				d.Wait()

				if isJSON(cmd) {
					return printJSON(cmd, res)
				}
				printText(cmd, "Notified %s about %s (%d message(s) waiting)\n", res.To, res.ConversationID, res.Waiting)
				return nil
			})
		}),
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient e-mail address (required)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient user id, used for the presence check")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Send even inside the cooldown window")
	cmd.Flags().BoolVar(&ticket, "ticket", false, "Link to a support ticket instead of an order chat (default: detected from tracked tickets)")
	return cmd
}

// isTicket reports whether only the ticket tracker knows conversationID.
func isTicket(s *session, conversationID string) bool {
	_, order := s.orders.Get(conversationID)
	_, ticket := s.tickets.Get(conversationID)
	return ticket && !order
}

// notifyPreview describes the e-mail notify would send and why it might be refused.
func notifyPreview(s *session, conversationID, recipient, to string, force bool) *dryrun.Preview {
	st := s.cooldowns.Status(conversationID, recipient)
	p := (&dryrun.Preview{Action: "e-mail", Target: to}).
		Add("conversation", conversationID).
		Add("messages waiting", st.MessagesWaiting).
		Add("state", st.State)
	switch {
	case st.State == cooldown.Suppressed:
		p.Warn("recipient is online; nothing would be sent")
	case !st.CanNotifyNow && !force:
		p.Warn("inside the cooldown window (%d min left); use --force", st.MinutesLeft)
	case !st.CanNotifyNow:
		p.Warn("--force overrides %d min of cooldown", st.MinutesLeft)
	}
	return p
}

// loadPresence joins the realtime channel until the server sends its
// presence list and copies it into the session.
func loadPresence(ctx context.Context, s *session, account config.Account) error {
	endpoint, err := realtime.EndpointURL(account.RealtimeURL, account.APIKey)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, presenceWait)
	defer cancel()

	client, err := realtime.Connect(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = client.Close() }()

	topic := s.settings.Realtime.Topic
	if err := client.Join(ctx, topic, joinConfig(nil, account.UserID)); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	decoder := bridge.NewDecoder()
	for fr := range client.ListenWithTimeout(ctx, 0) {
		if fr.Err != nil {
			return fr.Err
		}
		events, err := decoder.Decode(fr.Message)
		if err != nil {
			continue
		}
		for _, ev := range events {
			if ev.Type == bridge.PresenceSync {
				s.presence.Sync(ev.UserIDs)
				_ = client.Leave(ctx, topic)
				return nil
			}
		}
	}
	if ctx.Err() != nil {
		return errors.New("no presence list received")
	}
	return errConnectionClosed
}
