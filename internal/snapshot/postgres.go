package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/orderdesk/orderdesk-cli/internal/unread"
)

const postgresQueryTimeout = 10 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Queries read per-conversation unread counts for one user. $1 is the user id.
var queries = map[Kind]string{
	KindOrders: `
		SELECT m.order_id::text, COUNT(*), MAX(m.created_at)
		FROM messages m
		LEFT JOIN order_read_receipts r ON r.order_id = m.order_id AND r.user_id = $1
		WHERE m.sender_id::text <> $1
		  AND (r.last_read_at IS NULL OR m.created_at > r.last_read_at)
		  AND m.order_id IN (SELECT id FROM orders WHERE buyer_id::text = $1 OR seller_id::text = $1)
		GROUP BY m.order_id`,
	KindTickets: `
		SELECT t.id::text, CASE WHEN t.has_unread_reply THEN 1 ELSE 0 END, t.updated_at
		FROM support_tickets t
		WHERE t.user_id::text = $1 AND t.has_unread_reply`,
}

// PostgresSource reads unread counts straight from the application database.
// Order conversations report exact counts; tickets only carry a flag.
type PostgresSource struct {
	dsn    string
	kind   Kind
	userID string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresSource(dsn string, kind Kind, userID string) (*PostgresSource, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || userID == "" {
		return nil, ErrInvalidSource
	}
	if _, ok := queries[kind]; !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSource, kind)
	}
	return &PostgresSource{dsn: dsn, kind: kind, userID: userID, openDB: sql.Open}, nil
}

func (s *PostgresSource) Fetch(ctx context.Context) ([]unread.ConversationSummary, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queries[s.kind], s.userID)
	if err != nil {
		return nil, fmt.Errorf("query %s snapshot: %w", s.kind, err)
	}
	defer func() { _ = rows.Close() }()

	var out []unread.ConversationSummary
	for rows.Next() {
		var (
			id    string
			count int
			last  sql.NullTime
		)
		if err := rows.Scan(&id, &count, &last); err != nil {
			return nil, fmt.Errorf("scan %s snapshot: %w", s.kind, err)
		}
		row := unread.ConversationSummary{ID: id, Unread: count > 0}
		if s.kind == KindOrders {
			row.UnreadCount = count
		}
		if last.Valid {
			row.LastActivityAt = last.Time
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s snapshot: %w", s.kind, err)
	}
	return out, nil
}

func (s *PostgresSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresSource) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("open postgres: %w", err)
			return
		}
		pingCtx, cancel := context.WithTimeout(ctx, postgresQueryTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("ping postgres: %w", err)
			return
		}
		s.db = db
	})
	return s.initErr
}
