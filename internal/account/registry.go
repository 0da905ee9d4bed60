package account

import (
	"context"
	"log"
	"os"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/candlelabs/portsync/internal/catalog"
	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue"
	"github.com/candlelabs/portsync/internal/weights"
)

// ClientFactory builds a fresh venue client for a roster entry.
type ClientFactory func(entry RosterEntry) (venue.Client, error)

// Connectivity drives the per-account feed handshakes. Implemented by the
// connectivity orchestrator; faked in tests.
type Connectivity interface {
	ConnectAccount(ctx context.Context, st *State) error
	ConnectChannel(ctx context.Context, st *State, channel schema.FeedChannel) error
	DisconnectAccount(ctx context.Context, st *State)
}

// Registry owns every account state and the task index used to route inbound
// feed events back to their account. All mutation happens serially from the
// engine loop.
type Registry struct {
	logger     *log.Logger
	factory    ClientFactory
	conn       Connectivity
	reconciler *Reconciler
	catalog    *catalog.Catalog
	targets    *weights.Table
	rosterPath string

	accounts  map[string]*State
	taskIndex map[uint64]string

	refreshWorkers int

	eventsRouted  metric.Int64Counter
	eventsDropped metric.Int64Counter
	reloadChanges metric.Int64Counter
}

// RegistryConfig wires the registry collaborators.
type RegistryConfig struct {
	Logger         *log.Logger
	Factory        ClientFactory
	Connectivity   Connectivity
	Reconciler     *Reconciler
	Catalog        *catalog.Catalog
	Targets        *weights.Table
	RosterPath     string
	RefreshWorkers int
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "account-registry ", log.LstdFlags|log.Lmicroseconds)
	}
	if cfg.RefreshWorkers <= 0 {
		cfg.RefreshWorkers = 4
	}
	r := &Registry{
		logger:         cfg.Logger,
		factory:        cfg.Factory,
		conn:           cfg.Connectivity,
		reconciler:     cfg.Reconciler,
		catalog:        cfg.Catalog,
		targets:        cfg.Targets,
		rosterPath:     cfg.RosterPath,
		accounts:       make(map[string]*State),
		taskIndex:      make(map[uint64]string),
		refreshWorkers: cfg.RefreshWorkers,
		eventsRouted:   nil,
		eventsDropped:  nil,
		reloadChanges:  nil,
	}
	meter := otel.Meter("account")
	r.eventsRouted, _ = meter.Int64Counter("account.events.routed",
		metric.WithDescription("Number of inbound feed events routed to an account"),
		metric.WithUnit("{event}"))
	r.eventsDropped, _ = meter.Int64Counter("account.events.dropped",
		metric.WithDescription("Number of inbound feed events dropped during routing"),
		metric.WithUnit("{event}"))
	r.reloadChanges, _ = meter.Int64Counter("account.reload.changes",
		metric.WithDescription("Number of account changes applied by hot reload"),
		metric.WithUnit("{account}"))
	return r
}

// Len reports the number of registered accounts.
func (r *Registry) Len() int { return len(r.accounts) }

// Accounts returns every registered account state, in no particular order.
func (r *Registry) Accounts() []*State {
	out := make([]*State, 0, len(r.accounts))
	for _, st := range r.accounts {
		out = append(out, st)
	}
	return out
}

// Account returns the state registered under the id.
func (r *Registry) Account(id string) (*State, bool) {
	st, ok := r.accounts[id]
	return st, ok
}

// TaskIndexLen reports the number of live task-index entries.
func (r *Registry) TaskIndexLen() int { return len(r.taskIndex) }

// LoadInitial populates the registry from the roster without driving any
// connectivity; feeds connect later when their provisioning status events
// arrive.
func (r *Registry) LoadInitial() error {
	entries, err := LoadRoster(r.rosterPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		client, err := r.factory(entry)
		if err != nil {
			r.logger.Printf("skipping account %s: %v", entry.AccountID, err)
			continue
		}
		r.add(NewState(entry, client))
	}
	r.logger.Printf("accounts loaded: %d", len(r.accounts))
	return nil
}

func (r *Registry) add(st *State) {
	r.taskIndex[st.OrderFeedTaskID] = st.AccountID
	r.taskIndex[st.BalanceFeedTaskID] = st.AccountID
	r.accounts[st.AccountID] = st
}

// UpdateAll refreshes balances and position weights over REST for every
// account and then reconciles each against the target table. Accounts are
// processed concurrently; a failure on one account never affects another.
func (r *Registry) UpdateAll(ctx context.Context) {
	p := concpool.New().WithMaxGoroutines(r.refreshWorkers)
	for _, st := range r.accounts {
		st := st
		p.Go(func() {
			if err := st.RefreshBalance(ctx); err != nil {
				r.logger.Printf("balance refresh failed for account %s: %v; skipping", st.AccountID, err)
				return
			}
			if err := st.RefreshPositionWeights(ctx, r.catalog); err != nil {
				r.logger.Printf("position refresh failed for account %s: %v; skipping", st.AccountID, err)
				return
			}
			if err := r.reconciler.Reconcile(ctx, st, r.targets, r.catalog); err != nil {
				r.logger.Printf("reconcile failed for account %s: %v; skipping", st.AccountID, err)
			}
		})
	}
	p.Wait()
}

// ReconcileAll reconciles every account against the target table without a
// REST refresh. Triggered by prediction events between update ticks.
func (r *Registry) ReconcileAll(ctx context.Context) {
	for _, st := range r.accounts {
		if err := r.reconciler.Reconcile(ctx, st, r.targets, r.catalog); err != nil {
			r.logger.Printf("reconcile failed for account %s: %v; skipping", st.AccountID, err)
		}
	}
}

// Reload re-reads the roster and applies the configuration diff: new
// accounts are registered then connected, removed accounts have their task
// index entries deleted before teardown, and retained accounts are rewired
// only when their identity fields changed.
func (r *Registry) Reload(ctx context.Context) error {
	entries, err := LoadRoster(r.rosterPath)
	if err != nil {
		return err
	}

	incoming := make(map[string]*State, len(entries))
	for _, entry := range entries {
		client, err := r.factory(entry)
		if err != nil {
			r.logger.Printf("skipping account %s: %v", entry.AccountID, err)
			continue
		}
		incoming[entry.AccountID] = NewState(entry, client)
	}

	for id, st := range incoming {
		if _, exists := r.accounts[id]; exists {
			continue
		}
		r.logger.Printf("new account detected: %s", id)
		r.add(st)
		r.countReloadChange(ctx, "added")
		if err := r.conn.ConnectAccount(ctx, st); err != nil {
			r.logger.Printf("feed connect failed for new account %s: %v", id, err)
		}
	}

	for id, old := range r.accounts {
		if _, kept := incoming[id]; kept {
			continue
		}
		r.logger.Printf("account removed from roster: %s", id)
		// Index entries go first so no inbound event can resolve to an
		// account that is mid-teardown.
		delete(r.taskIndex, old.OrderFeedTaskID)
		delete(r.taskIndex, old.BalanceFeedTaskID)
		delete(r.accounts, id)
		r.countReloadChange(ctx, "removed")
		r.conn.DisconnectAccount(ctx, old)
	}

	for id, next := range incoming {
		old, exists := r.accounts[id]
		if !exists || !next.configChanged(old) {
			continue
		}
		r.logger.Printf("account updated: %s (task ids changed)", id)
		r.accounts[id] = next
		delete(r.taskIndex, old.OrderFeedTaskID)
		delete(r.taskIndex, old.BalanceFeedTaskID)
		r.taskIndex[next.OrderFeedTaskID] = id
		r.taskIndex[next.BalanceFeedTaskID] = id
		r.countReloadChange(ctx, "updated")
		r.conn.DisconnectAccount(ctx, old)
		if err := r.conn.ConnectAccount(ctx, next); err != nil {
			r.logger.Printf("feed connect failed for updated account %s: %v", id, err)
		}
	}

	return nil
}

func (r *Registry) countReloadChange(ctx context.Context, kind string) {
	if r.reloadChanges != nil {
		r.reloadChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("change", kind)))
	}
}

// resolve maps a feed task id to its owning account. Unknown ids and ids
// pointing at a missing account are routing errors: logged, counted, and
// dropped.
func (r *Registry) resolve(ctx context.Context, taskID uint64, kind string) (*State, bool) {
	id, ok := r.taskIndex[taskID]
	if !ok {
		r.logger.Printf("[%s] unknown task_id=%d; ignored", kind, taskID)
		r.drop(ctx)
		return nil, false
	}
	st, ok := r.accounts[id]
	if !ok {
		r.logger.Printf("[%s] task_id=%d mapped to account_id=%s, but account missing", kind, taskID, id)
		r.drop(ctx)
		return nil, false
	}
	if r.eventsRouted != nil {
		r.eventsRouted.Add(ctx, 1)
	}
	return st, true
}

func (r *Registry) drop(ctx context.Context) {
	if r.eventsDropped != nil {
		r.eventsDropped.Add(ctx, 1)
	}
}

// HandleOrders folds an inbound order-update batch into its account.
func (r *Registry) HandleOrders(ctx context.Context, ev *schema.Event) {
	st, ok := r.resolve(ctx, ev.TaskID, "orders")
	if !ok {
		return
	}
	for _, upd := range ev.Orders {
		if _, found := r.catalog.Lookup(upd.Symbol, st.Client.Name()); !found {
			continue
		}
		st.ApplyOrderUpdate(r.logger, upd)
	}
}

// HandleBalancesPositions folds an inbound balance/position batch into its
// account.
func (r *Registry) HandleBalancesPositions(ctx context.Context, ev *schema.Event) {
	st, ok := r.resolve(ctx, ev.TaskID, "balances_positions")
	if !ok {
		return
	}
	for _, batch := range ev.BalPos {
		for _, pos := range batch.Positions {
			info, found := r.catalog.Lookup(pos.Symbol, st.Client.Name())
			if !found {
				continue
			}
			st.ApplyPositionUpdate(pos, info)
		}
	}
}

// HandleFeedStatus reacts to a feed lifecycle event by driving the handshake
// for the affected channel.
func (r *Registry) HandleFeedStatus(ctx context.Context, ev *schema.Event) {
	st, ok := r.resolve(ctx, ev.TaskID, "feed_status")
	if !ok {
		return
	}
	if ev.FeedStatus == nil {
		return
	}
	if err := r.conn.ConnectChannel(ctx, st, ev.FeedStatus.Channel); err != nil {
		r.logger.Printf("feed handshake failed for account %s channel %s: %v",
			st.AccountID, ev.FeedStatus.Channel, err)
	}
}
