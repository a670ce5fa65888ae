package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orderdesk/orderdesk-cli/internal/config"
	"github.com/orderdesk/orderdesk-cli/internal/cooldown"
	"github.com/orderdesk/orderdesk-cli/internal/iocontext"
	"github.com/orderdesk/orderdesk-cli/internal/presence"
	"github.com/orderdesk/orderdesk-cli/internal/settings"
	"github.com/orderdesk/orderdesk-cli/internal/snapshot"
	"github.com/orderdesk/orderdesk-cli/internal/store"
	"github.com/orderdesk/orderdesk-cli/internal/unread"
)

// session is the local state shared by the unread, cooldown, notify and
// follow commands.
type session struct {
	settings  *settings.Settings
	store     store.Store
	storeErr  error // set when the configured backend failed and state lives in memory
	logger    *slog.Logger
	presence  *presence.Tracker
	orders    *unread.Tracker
	tickets   *unread.Tracker
	cooldowns *cooldown.Tracker
}

// openSession loads settings, opens the configured store and restores every tracker.
func openSession(ctx context.Context) (*session, error) {
	s, err := settings.Load(flags.Settings)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	st, storeErr := store.Open(ctx, s.StoreOptions())
	if storeErr != nil {
		storeErr = fmt.Errorf("open %s store: %w", s.Store.Backend, storeErr)
		logger.Debug("store unavailable, using memory", "backend", s.Store.Backend, "error", storeErr)
		st = store.NewMemoryStore()
	}

	codec := store.NewCodec()
	pres := presence.New()
	sess := &session{
		settings: s,
		store:    st,
		storeErr: storeErr,
		logger:   logger,
		presence: pres,
		orders:   unread.New(ctx, unread.StoreOrders, unread.WithStore(st, codec), unread.WithLogger(logger)),
		tickets:  unread.New(ctx, unread.StoreTickets, unread.WithStore(st, codec), unread.WithLogger(logger)),
		cooldowns: cooldown.New(ctx,
			cooldown.WithStore(st, codec),
			cooldown.WithLogger(logger),
			cooldown.WithPresence(pres),
			cooldown.WithWindows(s.CooldownWindow(), s.RetentionWindow()),
		),
	}
	logger.Debug("session opened", "backend", s.Store.Backend, "writer", codec.Writer())
	return sess, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// withSession opens a session around fn.
func withSession(cmd *cobra.Command, fn func(*session) error) error {
	sess, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	err = fn(sess)
	if sess.storeErr != nil {
		_, _ = fmt.Fprintf(iocontext.GetIO(cmd.Context()).ErrOut,
			"warning: %s store unavailable; changes were kept in memory only\n", sess.settings.Store.Backend)
	} else if names := sess.degraded(); len(names) > 0 {
		_, _ = fmt.Fprintf(iocontext.GetIO(cmd.Context()).ErrOut,
			"warning: %s state could not be loaded; changes were kept in memory only\n", strings.Join(names, ", "))
	}
	return err
}

// degraded names the trackers running without persistence.
func (s *session) degraded() []string {
	var names []string
	if s.orders.Degraded() {
		names = append(names, unread.StoreOrders)
	}
	if s.tickets.Degraded() {
		names = append(names, unread.StoreTickets)
	}
	if s.cooldowns.Degraded() {
		names = append(names, cooldown.StoreName)
	}
	return names
}

// reload picks up changes other od processes saved to the store.
func (s *session) reload(ctx context.Context) {
	s.orders.Reload(ctx)
	s.tickets.Reload(ctx)
	s.cooldowns.Reload(ctx)
}

// kindTracker pairs an unread tracker with the snapshot kind that feeds it.
type kindTracker struct {
	kind    snapshot.Kind
	tracker *unread.Tracker
}

// trackers selects trackers for --kind orders|tickets|all.
func (s *session) trackers(kind string) ([]kindTracker, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "all":
		return []kindTracker{
			{kind: snapshot.KindOrders, tracker: s.orders},
			{kind: snapshot.KindTickets, tracker: s.tickets},
		}, nil
	case string(snapshot.KindOrders), "order":
		return []kindTracker{{kind: snapshot.KindOrders, tracker: s.orders}}, nil
	case string(snapshot.KindTickets), "ticket":
		return []kindTracker{{kind: snapshot.KindTickets, tracker: s.tickets}}, nil
	default:
		return nil, fmt.Errorf("--kind must be orders, tickets or all, got %q", kind)
	}
}

// snapshotSource builds the configured source for kind. A nil source with a
// nil error means snapshots are disabled.
func (s *session) snapshotSource(account config.Account, kind snapshot.Kind) (snapshot.Source, func(), error) {
	noop := func() {}
	switch s.settings.Snapshot.Source {
	case "none":
		return nil, noop, nil
	case "postgres":
		src, err := snapshot.NewPostgresSource(account.PostgresDSN, kind, account.UserID)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres snapshot: %w (set OD_POSTGRES_DSN or run 'od auth login --postgres-dsn')", err)
		}
		return src, func() { _ = src.Close() }, nil
	default:
		endpoint := s.settings.Snapshot.OrdersURL
		if kind == snapshot.KindTickets {
			endpoint = s.settings.Snapshot.TicketsURL
		}
		if endpoint == "" {
			return nil, noop, fmt.Errorf("%w: snapshot.%s_url is not set", snapshot.ErrInvalidSource, kind)
		}
		token := account.SnapshotToken
		if token == "" {
			token = account.APIKey
		}
		src, err := snapshot.NewHTTPSource(endpoint, token)
		if err != nil {
			return nil, noop, err
		}
		src.UserAgent = "od/" + version
		return src, noop, nil
	}
}
