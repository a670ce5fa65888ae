package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orderdesk/orderdesk-cli/internal/bridge"
	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/cooldown"
	"github.com/orderdesk/orderdesk-cli/internal/iocontext"
	"github.com/orderdesk/orderdesk-cli/internal/realtime"
	"github.com/orderdesk/orderdesk-cli/internal/snapshot"
)

type followOptions struct {
	watch     []string
	focus     string
	noSeed    bool
	maxEvents int
}

func newFollowCmd() *cobra.Command {
	var opts followOptions

	cmd := &cobra.Command{
		Use:     "follow",
		Aliases: []string{"f"},
		Short:   "Follow realtime activity and keep badges current",
		Long: strings.TrimSpace(`
Seed unread badges from the server snapshot, then join the realtime channel and
apply new messages, ticket replies and presence changes as they arrive.

Messages you write yourself never raise a badge; they are counted against the
conversation's notification cooldown instead. Stale cooldowns are swept on
cooldown.sweep_interval.
`),
		Example: strings.TrimSpace(`
  # Follow everything, printing badge changes
  od follow

  # Stream events as JSON lines
  od follow -o jsonl

  # Show the cooldown banner for ord_1842 whose counterparty is user u_77
  od follow --watch ord_1842:u_77

  # Keep the order chat you are looking at read
  od follow --focus order:ord_1842
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			account, err := config.Resolve(flags.Profile)
			if err != nil {
				return err
			}
			if err := account.Validate(); err != nil {
				return err
			}
			watches, err := parseWatches(opts.watch)
			if err != nil {
				return err
			}
			focusKind, focusID, err := parseFocus(opts.focus)
			if err != nil {
				return err
			}
			return withSession(cmd, func(s *session) error {
				return runFollow(cmd, s, account, watches, focusKind, focusID, opts)
			})
		}),
	}

	cmd.Flags().StringArrayVar(&opts.watch, "watch", nil, "Watch <conversation-id>:<recipient-user-id> for cooldown banners (repeatable)")
	cmd.Flags().StringVar(&opts.focus, "focus", "", "Keep <order|ticket>:<conversation-id> read while following")
	cmd.Flags().BoolVar(&opts.noSeed, "no-seed", false, "Skip the initial snapshot")
	cmd.Flags().IntVar(&opts.maxEvents, "max-events", 0, "Stop after this many events (0 = run until interrupted)")
	return cmd
}

// watch pairs a conversation with its counterparty.
type watch struct {
	conversationID string
	recipientID    string
}

func parseWatches(values []string) ([]watch, error) {
	out := make([]watch, 0, len(values))
	for _, v := range values {
		conv, recipient, ok := strings.Cut(v, ":")
		conv, recipient = strings.TrimSpace(conv), strings.TrimSpace(recipient)
		if !ok || conv == "" || recipient == "" {
			return nil, fmt.Errorf("invalid --watch %q: must be <conversation-id>:<recipient-user-id>", v)
		}
		out = append(out, watch{conversationID: conv, recipientID: recipient})
	}
	return out, nil
}

func parseFocus(value string) (bridge.Kind, string, error) {
	if strings.TrimSpace(value) == "" {
		return "", "", nil
	}
	kind, id, _ := strings.Cut(value, ":")
	k, id := bridge.Kind(strings.TrimSpace(kind)), strings.TrimSpace(id)
	if id == "" || (k != bridge.KindOrder && k != bridge.KindTicket) {
		return "", "", fmt.Errorf("invalid --focus %q: must be order:<id> or ticket:<id>", value)
	}
	return k, id, nil
}

// joinConfig asks the channel for inserts on every decoded table and for presence.
func joinConfig(tables []string, userID string) map[string]any {
	changes := make([]map[string]string, 0, len(tables))
	for _, t := range tables {
		changes = append(changes, map[string]string{"event": "INSERT", "schema": "public", "table": t})
	}
	return map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": userID},
			"postgres_changes": changes,
		},
	}
}

// Reconnect backoff for follow; tests shorten it.
var (
	followBackoff       = 2 * time.Second
	followMaxBackoff    = 30 * time.Second
	followStableAfter   = 60 * time.Second
	errConnectionClosed = errors.New("connection closed")
)

func runFollow(cmd *cobra.Command, s *session, account config.Account, watches []watch, focusKind bridge.Kind, focusID string, opts followOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	endpoint, err := realtime.EndpointURL(account.RealtimeURL, account.APIKey)
	if err != nil {
		return err
	}

	out := &followPrinter{cmd: cmd, session: s}
	b := bridge.New(bridge.Config{
		LocalUserID: account.UserID,
		Orders:      s.orders,
		Tickets:     s.tickets,
		Cooldowns:   s.cooldowns,
		Presence:    s.presence,
		Logger:      s.logger,
	})
	for _, w := range watches {
		b.Watch(w.conversationID, w.recipientID)
	}
	if focusID != "" {
		b.Focus(focusKind, focusID)
	}

	// Banner re-evaluation runs on the sweep tick and after any cooldown or presence change.
	dirty := make(chan struct{}, 1)
	markDirty := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	defer s.cooldowns.Subscribe(markDirty)()
	defer s.presence.Subscribe(markDirty)()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		_ = sweepLoop(sweepCtx, s, watches, dirty, s.settings.Cooldown.SweepInterval, out)
	}()
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	handled := 0
	onEvent := func(ev bridge.Event, outcome bridge.Outcome) {
		out.event(ev, outcome)
		handled++
		if opts.maxEvents > 0 && handled >= opts.maxEvents {
			cancel()
		}
	}

	backoff := followBackoff
	everConnected := false
	for {
		if !opts.noSeed {
			seedAll(ctx, cmd, s, account)
		}
		started := time.Now()
		connected, err := followConnection(ctx, s, b, endpoint, account.UserID, onEvent)
		if ctx.Err() != nil {
			return nil
		}
		if !connected && !everConnected {
			return err
		}
		everConnected = everConnected || connected
		// Online users are unknown until the next join delivers presence_state.
		s.presence.Sync(nil)

		backoff = nextBackoff(backoff, time.Since(started))
		if isJSON(cmd) {
			s.logger.Warn("disconnected, reconnecting", "error", err, "backoff", backoff)
		} else {
			_, _ = fmt.Fprintf(iocontext.GetIO(cmd.Context()).ErrOut, "disconnected: %v, reconnecting in %s...\n", err, backoff)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, followMaxBackoff)
	}
}

// nextBackoff returns the wait before reconnecting. A connection that stayed
// up past followStableAfter starts over from followBackoff.
func nextBackoff(current, lived time.Duration) time.Duration {
	if lived > followStableAfter {
		return followBackoff
	}
	return current
}

// followConnection runs one realtime session until it drops. connected
// reports whether the channel was joined and tracked.
func followConnection(ctx context.Context, s *session, b *bridge.Bridge, endpoint, userID string, onEvent func(bridge.Event, bridge.Outcome)) (bool, error) {
	connCtx, closeConn := context.WithCancel(ctx)
	defer closeConn()

	client, err := realtime.Connect(connCtx, endpoint)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = client.Close() }()

	decoder := bridge.NewDecoder()
	topic := s.settings.Realtime.Topic
	if err := client.Join(connCtx, topic, joinConfig(decoder.Tables(), userID)); err != nil {
		return false, fmt.Errorf("join: %w", err)
	}
	defer func() {
		leaveCtx, cancelLeave := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancelLeave()
		if err := client.Leave(leaveCtx, topic); err != nil {
			s.logger.Debug("leave failed", "topic", topic, "error", err)
		}
	}()
	if err := client.Track(connCtx, topic, map[string]any{"user_id": userID, "online_at": time.Now().UTC()}); err != nil {
		return false, fmt.Errorf("track presence: %w", err)
	}
	client.StartHeartbeat(connCtx, s.settings.Realtime.HeartbeatInterval, func(err error) {
		s.logger.Warn("heartbeat failed", "error", err)
	})
	s.logger.Debug("following", "topic", topic, "tables", decoder.Tables(),
		"user", b.LocalUserID(), "cooldown", s.cooldowns.Cooldown())

	frames := client.ListenWithTimeout(connCtx, s.settings.Realtime.ReadTimeout)
	events := make(chan bridge.Event, 64)

	// Run drains every decoded event before the connection is given up.
	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error {
		defer close(events)
		return b.Pump(gctx, frames, decoder, events)
	})
	g.Go(func() error {
		return b.Run(connCtx, events, onEvent)
	})
	if err := g.Wait(); err != nil {
		return true, err
	}
	return true, errConnectionClosed
}

// seedAll seeds both trackers. Failures are reported and following continues.
func seedAll(ctx context.Context, cmd *cobra.Command, s *session, account config.Account) {
	selected, _ := s.trackers("all")
	for _, kt := range selected {
		src, closeSrc, err := s.snapshotSource(account, kt.kind)
		if err != nil {
			s.logger.Warn("snapshot unavailable", "kind", kt.kind, "error", err)
			continue
		}
		if src == nil {
			continue
		}
		n, err := snapshot.Seed(ctx, src, kt.tracker)
		closeSrc()
		if err != nil {
			s.logger.Warn("snapshot failed", "kind", kt.kind, "error", err)
			continue
		}
		printText(cmd, "Seeded %s: %d conversations, %d unread\n", kt.kind, n, kt.tracker.Total())
	}
}

func sweepLoop(ctx context.Context, s *session, watches []watch, dirty <-chan struct{}, interval time.Duration, out *followPrinter) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]cooldown.BannerState, len(watches))
	evaluate := func() {
		for _, w := range watches {
			st := s.cooldowns.Status(w.conversationID, w.recipientID)
			if prev, ok := last[w.conversationID]; ok && prev == st.State {
				continue
			}
			last[w.conversationID] = st.State
			out.banner(st)
		}
	}
	evaluate()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.reload(ctx)
			if removed := s.cooldowns.ClearStaleEntries(); removed > 0 {
				s.logger.Debug("swept stale cooldowns", "removed", removed)
			}
			evaluate()
		case <-dirty:
			evaluate()
		}
	}
}

// followRecord is one streamed line in JSON output modes.
type followRecord struct {
	Type    string           `json:"type"`
	Event   *bridge.Event    `json:"event,omitempty"`
	Outcome bridge.Outcome   `json:"outcome,omitempty"`
	Unread  *int             `json:"unread,omitempty"`
	Total   *int             `json:"total,omitempty"`
	Banner  *cooldown.Status `json:"banner,omitempty"`
}

// followPrinter serializes output from the bridge and sweep goroutines.
type followPrinter struct {
	mu      sync.Mutex
	cmd     *cobra.Command
	session *session
}

func (p *followPrinter) event(ev bridge.Event, outcome bridge.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.session
	if isJSON(p.cmd) {
		rec := followRecord{Type: "event", Event: &ev, Outcome: outcome}
		if outcome == bridge.Counted {
			unread, total := p.counts(ev)
			rec.Unread, rec.Total = &unread, &total
		}
		p.write(rec)
		return
	}

	w := iocontext.GetIO(p.cmd.Context()).Out
	switch outcome {
	case bridge.Counted:
		unread, total := p.counts(ev)
		_, _ = fmt.Fprintf(w, "%s %s: %d unread (total %d)\n", kindOf(ev), ev.ConversationID, unread, total)
	case bridge.SelfAuthored:
		if waiting := s.cooldowns.MessagesSinceLastNotification(ev.ConversationID); waiting > 0 {
			_, _ = fmt.Fprintf(w, "%s %s: you wrote (%d waiting since last notification)\n", kindOf(ev), ev.ConversationID, waiting)
		}
	case bridge.PresenceSet:
		_, _ = fmt.Fprintf(w, "online (%d): %s\n", s.presence.Len(), strings.Join(s.presence.Online(), ", "))
	default:
		s.logger.Debug("event not shown", "type", ev.Type, "id", ev.ID, "outcome", outcome)
	}
}

func (p *followPrinter) banner(st cooldown.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isJSON(p.cmd) {
		p.write(followRecord{Type: "banner", Banner: &st})
		return
	}
	_, _ = fmt.Fprintf(iocontext.GetIO(p.cmd.Context()).Out, "banner %s: %s\n", st.ConversationID, describeStatus(st))
}

func (p *followPrinter) write(rec followRecord) {
	if err := printRecord(p.cmd, rec); err != nil && !errors.Is(err, context.Canceled) {
		p.session.logger.Warn("write record", "error", err)
	}
}

func (p *followPrinter) counts(ev bridge.Event) (int, int) {
	tracker := p.session.orders
	if ev.Type == bridge.ReplyInserted {
		tracker = p.session.tickets
	}
	return tracker.Count(ev.ConversationID), p.session.orders.Total() + p.session.tickets.Total()
}

func kindOf(ev bridge.Event) bridge.Kind {
	if ev.Type == bridge.ReplyInserted {
		return bridge.KindTicket
	}
	return bridge.KindOrder
}
