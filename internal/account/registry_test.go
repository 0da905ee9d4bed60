package account

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/candlelabs/portsync/internal/catalog"
	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue"
	"github.com/candlelabs/portsync/internal/weights"
)

// fakeConnectivity records handshake calls and snapshots the task index size
// at teardown time, so ordering between index cleanup and teardown is
// observable.
type fakeConnectivity struct {
	registry *Registry

	connected         []string
	channels          []schema.FeedChannel
	disconnected      []string
	indexAtDisconnect []int
}

func (f *fakeConnectivity) ConnectAccount(_ context.Context, st *State) error {
	f.connected = append(f.connected, st.AccountID)
	return nil
}

func (f *fakeConnectivity) ConnectChannel(_ context.Context, st *State, channel schema.FeedChannel) error {
	f.channels = append(f.channels, channel)
	return nil
}

func (f *fakeConnectivity) DisconnectAccount(_ context.Context, st *State) {
	f.disconnected = append(f.disconnected, st.AccountID)
	if f.registry != nil {
		f.indexAtDisconnect = append(f.indexAtDisconnect, f.registry.TaskIndexLen())
	}
}

func writeRoster(t *testing.T, path string, entries []RosterEntry) {
	t.Helper()
	content, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal roster: %v", err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
}

func newTestRegistry(t *testing.T, rosterPath string) (*Registry, *fakeConnectivity) {
	t.Helper()
	conn := &fakeConnectivity{}
	r := NewRegistry(RegistryConfig{
		Logger: quietLogger(),
		Factory: func(entry RosterEntry) (venue.Client, error) {
			v, err := entry.ParsedVenue()
			if err != nil {
				return nil, err
			}
			return &fakeClient{name: v}, nil
		},
		Connectivity: conn,
		Reconciler:   NewReconciler(quietLogger(), nil),
		Catalog:      catalog.New(),
		Targets:      weights.NewTable(),
		RosterPath:   rosterPath,
	})
	conn.registry = r
	return r, conn
}

func TestLoadInitialRegistersWithoutConnecting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{
		testEntry("alpha", 1, 2),
		testEntry("beta", 3, 4),
	})

	r, conn := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if r.Len() != 2 || r.TaskIndexLen() != 4 {
		t.Fatalf("registry size = %d accounts, %d index entries", r.Len(), r.TaskIndexLen())
	}
	if len(conn.connected) != 0 {
		t.Fatalf("initial load must not drive connectivity, got %v", conn.connected)
	}
}

func TestReloadAddsAndConnectsNewAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{testEntry("alpha", 1, 2)})

	r, conn := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	writeRoster(t, path, []RosterEntry{
		testEntry("alpha", 1, 2),
		testEntry("beta", 3, 4),
	})
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if r.Len() != 2 || r.TaskIndexLen() != 4 {
		t.Fatalf("registry size = %d accounts, %d index entries", r.Len(), r.TaskIndexLen())
	}
	if len(conn.connected) != 1 || conn.connected[0] != "beta" {
		t.Fatalf("connected = %v, want [beta]", conn.connected)
	}
	if len(conn.disconnected) != 0 {
		t.Fatalf("disconnected = %v, want none", conn.disconnected)
	}
}

func TestReloadRemovesIndexEntriesBeforeTeardown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{
		testEntry("alpha", 1, 2),
		testEntry("beta", 3, 4),
	})

	r, conn := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	writeRoster(t, path, []RosterEntry{testEntry("alpha", 1, 2)})
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if r.Len() != 1 || r.TaskIndexLen() != 2 {
		t.Fatalf("registry size = %d accounts, %d index entries", r.Len(), r.TaskIndexLen())
	}
	if len(conn.disconnected) != 1 || conn.disconnected[0] != "beta" {
		t.Fatalf("disconnected = %v, want [beta]", conn.disconnected)
	}
	// The removed account's index entries were gone before teardown ran.
	if len(conn.indexAtDisconnect) != 1 || conn.indexAtDisconnect[0] != 2 {
		t.Fatalf("index size at teardown = %v, want [2]", conn.indexAtDisconnect)
	}
}

func TestReloadIgnoresCredentialOnlyChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{testEntry("alpha", 1, 2)})

	r, conn := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	before, _ := r.Account("alpha")

	rotated := testEntry("alpha", 1, 2)
	rotated.APIKey = "rotated-key"
	rotated.APISecret = "rotated-secret"
	writeRoster(t, path, []RosterEntry{rotated})
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	after, _ := r.Account("alpha")
	if before != after {
		t.Fatal("credential-only change must not replace the account state")
	}
	if len(conn.connected) != 0 || len(conn.disconnected) != 0 {
		t.Fatalf("credential-only change must not rewire feeds: %v %v", conn.connected, conn.disconnected)
	}
}

func TestReloadRewiresOnTaskIDChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{testEntry("alpha", 1, 2)})

	r, conn := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	writeRoster(t, path, []RosterEntry{testEntry("alpha", 9, 10)})
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if len(conn.disconnected) != 1 || len(conn.connected) != 1 {
		t.Fatalf("rewire calls = disconnect %v connect %v", conn.disconnected, conn.connected)
	}
	st, ok := r.Account("alpha")
	if !ok || st.OrderFeedTaskID != 9 || st.BalanceFeedTaskID != 10 {
		t.Fatalf("account not rewired: %+v", st)
	}
	if r.TaskIndexLen() != 2 {
		t.Fatalf("task index = %d entries, want 2", r.TaskIndexLen())
	}
	if _, ok := r.Account("alpha"); !ok {
		t.Fatal("account lost during rewire")
	}
}

func TestUnknownTaskIDIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{testEntry("alpha", 1, 2)})

	r, conn := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	r.HandleOrders(context.Background(), &schema.Event{
		TaskID: 999,
		Type:   schema.EventTypeOrders,
		Orders: []schema.OrderUpdate{{Symbol: "BTCUSDT"}},
	})
	r.HandleFeedStatus(context.Background(), &schema.Event{
		TaskID: 999,
		Type:   schema.EventTypeFeedStatus,
		FeedStatus: &schema.FeedStatusEvent{
			Channel: schema.FeedChannelOrders,
			Status:  schema.FeedStatusProvisioned,
		},
	})
	if len(conn.channels) != 0 {
		t.Fatalf("unknown task must not drive handshakes, got %v", conn.channels)
	}
}

func TestHandleFeedStatusDrivesHandshake(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{testEntry("alpha", 1, 2)})

	r, conn := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	r.HandleFeedStatus(context.Background(), &schema.Event{
		TaskID: 2,
		Type:   schema.EventTypeFeedStatus,
		FeedStatus: &schema.FeedStatusEvent{
			Channel: schema.FeedChannelBalancePosition,
			Status:  schema.FeedStatusProvisioned,
		},
	})
	if len(conn.channels) != 1 || conn.channels[0] != schema.FeedChannelBalancePosition {
		t.Fatalf("channels = %v", conn.channels)
	}
}

func TestUpdateAllIsolatesAccountFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	writeRoster(t, path, []RosterEntry{
		testEntry("healthy", 1, 2),
		testEntry("broken", 3, 4),
	})

	r, _ := newTestRegistry(t, path)
	if err := r.LoadInitial(); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	healthy, _ := r.Account("healthy")
	healthy.Client.(*fakeClient).balances = []schema.Balance{{Asset: "USDT", Total: 777}}
	broken, _ := r.Account("broken")
	broken.Client.(*fakeClient).balancesErr = os.ErrDeadlineExceeded

	r.UpdateAll(context.Background())

	if healthy.TotalEquity != 777 {
		t.Fatalf("healthy equity = %v, want 777", healthy.TotalEquity)
	}
	if broken.TotalEquity != 0 {
		t.Fatalf("broken account must be skipped, equity = %v", broken.TotalEquity)
	}
}
