package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk-cli/internal/store"
	"github.com/orderdesk/orderdesk-cli/internal/unread"
)

// addUnread writes n unread events for id into the file store under stateDir.
func addUnread(t *testing.T, stateDir, name, id string, n int, at time.Time) {
	t.Helper()
	tr := unread.New(context.Background(), name,
		unread.WithStore(store.NewFileStore(stateDir), store.NewCodec()),
		unread.WithClock(func() time.Time { return at }))
	for i := 0; i < n; i++ {
		tr.Increment(id, at)
	}
	require.False(t, tr.Degraded())
}

func TestUnreadListAndTotal(t *testing.T) {
	stateDir := setupTestEnv(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	addUnread(t, stateDir, unread.StoreOrders, "ord_1", 2, base)
	addUnread(t, stateDir, unread.StoreOrders, "ord_2", 1, base.Add(time.Minute))
	addUnread(t, stateDir, unread.StoreTickets, "tkt_9", 4, base.Add(2*time.Minute))

	var list struct {
		Items []unreadRow `json:"items"`
	}
	decodeJSON(t, mustRun(t, "unread", "list", "--json"), &list)
	require.Len(t, list.Items, 3)
	assert.Equal(t, "tkt_9", list.Items[0].ConversationID, "newest first")
	assert.Equal(t, "ord_2", list.Items[1].ConversationID)
	assert.Equal(t, 2, list.Items[2].UnreadCount)

	var totals unreadTotals
	decodeJSON(t, mustRun(t, "unread", "total", "--json"), &totals)
	assert.Equal(t, unreadTotals{Orders: 3, Tickets: 4, Total: 7}, totals)

	out := mustRun(t, "unread", "total", "--kind", "tickets")
	assert.Equal(t, "4\n", out)

	text := mustRun(t, "unread", "list", "-k", "orders")
	assert.Contains(t, text, "ord_1")
	assert.NotContains(t, text, "tkt_9")
}

func TestUnreadListEmpty(t *testing.T) {
	setupTestEnv(t)

	out := mustRun(t, "unread", "list")
	assert.Contains(t, out, "Nothing unread.")
}

func TestUnreadCorruptStateWarns(t *testing.T) {
	stateDir := setupTestEnv(t)
	require.NoError(t, os.MkdirAll(stateDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, unread.StoreOrders+".json"), []byte("{not json"), 0o600))

	out, errOut, err := runCmd(t, "unread", "total")
	require.NoError(t, err)
	assert.Contains(t, out, "0")
	assert.Contains(t, errOut, "warning: unread-orders state could not be loaded")
	assert.NotContains(t, errOut, "unread-tickets")
}

func TestUnreadFallsBackToMemoryWhenStoreIsDown(t *testing.T) {
	setupTestEnv(t)
	t.Setenv("OD_STORE_BACKEND", "redis")
	t.Setenv("OD_STORE_REDIS_URL", "redis://127.0.0.1:1/0")

	out, errOut, err := runCmd(t, "unread", "mark-read", "ord_1")
	require.NoError(t, err, errOut)
	assert.Equal(t, "Marked ord_1 read (0 cleared)\n", out)
	assert.Contains(t, errOut, "warning: redis store unavailable; changes were kept in memory only")
}

func TestUnreadInvalidKind(t *testing.T) {
	setupTestEnv(t)

	_, errOut, err := runCmd(t, "unread", "total", "--kind", "invoices")
	require.Error(t, err)
	assert.Contains(t, errOut, "--kind must be orders, tickets or all")
}

func TestUnreadMarkRead(t *testing.T) {
	stateDir := setupTestEnv(t)
	now := time.Now()
	addUnread(t, stateDir, unread.StoreOrders, "ord_1842", 3, now)
	addUnread(t, stateDir, unread.StoreOrders, "ord_2001", 1, now)

	var res map[string]any
	decodeJSON(t, mustRun(t, "unread", "mark-read", "ord_18", "--json"), &res)
	assert.Equal(t, "ord_1842", res["conversation_id"])
	assert.EqualValues(t, 3, res["cleared"])

	assert.Equal(t, "1\n", mustRun(t, "unread", "total"))
}

func TestUnreadMarkReadUntrackedID(t *testing.T) {
	setupTestEnv(t)

	out := mustRun(t, "unread", "mark-read", "ord_404")
	assert.Equal(t, "Marked ord_404 read (0 cleared)\n", out)
}

func TestUnreadMarkReadNeverClearsASimilarID(t *testing.T) {
	stateDir := setupTestEnv(t)
	addUnread(t, stateDir, unread.StoreOrders, "ord_1842", 3, time.Now())

	out, errOut, err := runCmd(t, "unread", "mark-read", "ord_12")
	require.NoError(t, err, errOut)
	assert.Equal(t, "Marked ord_12 read (0 cleared)\n", out)
	assert.Contains(t, errOut, "ord_12 is not tracked. Similar: ord_1842")
	assert.Equal(t, "3\n", mustRun(t, "unread", "total"))

	out = mustRun(t, "unread", "mark-read", "tkt_9")
	assert.Equal(t, "Marked tkt_9 read (0 cleared)\n", out)
	assert.Equal(t, "3\n", mustRun(t, "unread", "total"))
}

func TestUnreadMarkReadAmbiguous(t *testing.T) {
	stateDir := setupTestEnv(t)
	now := time.Now()
	addUnread(t, stateDir, unread.StoreOrders, "ord_100", 1, now)
	addUnread(t, stateDir, unread.StoreOrders, "ord_101", 1, now)

	_, _, err := runCmd(t, "unread", "mark-read", "ord_10")
	require.Error(t, err)
	assert.Equal(t, exitUsage, ExitCode(err))
}

func TestUnreadMarkAllRead(t *testing.T) {
	stateDir := setupTestEnv(t)
	now := time.Now()
	addUnread(t, stateDir, unread.StoreOrders, "ord_1", 2, now)
	addUnread(t, stateDir, unread.StoreTickets, "tkt_1", 5, now)

	out := mustRun(t, "unread", "mark-all-read", "--kind", "tickets")
	assert.Equal(t, "Cleared 5 unread\n", out)

	var totals unreadTotals
	decodeJSON(t, mustRun(t, "unread", "total", "--json"), &totals)
	assert.Equal(t, unreadTotals{Orders: 2, Total: 2}, totals)
}

func TestUnreadSeedFromHTTP(t *testing.T) {
	stateDir := setupTestEnv(t)
	useEnvAccount(t, "https://rt.example.co")
	addUnread(t, stateDir, unread.StoreOrders, "ord_1", 7, time.Now())

	var gotAuth, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/orders":
			_, _ = w.Write([]byte(`[{"id":"ord_1","unread_count":2},{"id":"ord_2","unread":true},{"id":"ord_3"}]`))
		case "/tickets":
			_, _ = w.Write([]byte(`{"data":[{"id":"tkt_1","unread_count":3}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	t.Setenv("OD_SNAPSHOT_SOURCE", "http")
	t.Setenv("OD_SNAPSHOT_ORDERS_URL", srv.URL+"/orders")
	t.Setenv("OD_SNAPSHOT_TICKETS_URL", srv.URL+"/tickets")

	var results struct {
		Items []seedResult `json:"items"`
	}
	decodeJSON(t, mustRun(t, "unread", "seed", "--json"), &results)
	require.Len(t, results.Items, 2)
	assert.Equal(t, seedResult{Kind: "orders", Fetched: 3, Total: 8}, results.Items[0])
	assert.Equal(t, seedResult{Kind: "tickets", Fetched: 1, Total: 3}, results.Items[1])
	assert.Equal(t, "Bearer anon-key", gotAuth)
	assert.Equal(t, "od/"+version, gotAgent)
}

func TestUnreadSeedDisabled(t *testing.T) {
	setupTestEnv(t)
	useEnvAccount(t, "https://rt.example.co")

	out := mustRun(t, "unread", "seed")
	assert.Contains(t, out, "Snapshots are disabled")
}

func TestUnreadSeedHTTPErrorMapsExitCode(t *testing.T) {
	setupTestEnv(t)
	useEnvAccount(t, "https://rt.example.co")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"bad token"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("OD_SNAPSHOT_SOURCE", "http")
	t.Setenv("OD_SNAPSHOT_ORDERS_URL", srv.URL)

	_, _, err := runCmd(t, "unread", "seed", "--kind", "orders")
	require.Error(t, err)
	assert.Equal(t, exitAuth, ExitCode(err))
}

func TestUnreadSeedRequiresCredentials(t *testing.T) {
	setupTestEnv(t)

	_, errOut, err := runCmd(t, "unread", "seed")
	require.Error(t, err)
	assert.Equal(t, exitAuth, ExitCode(err))
	assert.Contains(t, errOut, "od auth login")
}

func TestUnreadListSince(t *testing.T) {
	stateDir := setupTestEnv(t)
	now := time.Now()
	addUnread(t, stateDir, unread.StoreOrders, "ord_old", 1, now.Add(-48*time.Hour))
	addUnread(t, stateDir, unread.StoreOrders, "ord_new", 1, now.Add(-10*time.Minute))

	out := mustRun(t, "unread", "list", "--since", "2h")
	assert.Contains(t, out, "ord_new")
	assert.NotContains(t, out, "ord_old")

	_, errOut, err := runCmd(t, "unread", "list", "--since", "next week")
	require.Error(t, err)
	assert.Contains(t, errOut, "invalid --since")
}

func TestUnreadMarkAllReadDryRun(t *testing.T) {
	stateDir := setupTestEnv(t)
	addUnread(t, stateDir, unread.StoreOrders, "ord_1", 2, time.Now())

	out := mustRun(t, "unread", "mark-all-read", "--dry-run")
	assert.Contains(t, out, "[dry-run] would mark read every conversation")
	assert.Contains(t, out, "orders: 2")
	assert.Equal(t, "2\n", mustRun(t, "unread", "total"))
}
