package main

import (
	"context"
	"log"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/candlelabs/portsync/internal/account"
	"github.com/candlelabs/portsync/internal/bus/eventbus"
	"github.com/candlelabs/portsync/internal/conn"
	"github.com/candlelabs/portsync/internal/feed"
	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue/binanceum"
	"github.com/candlelabs/portsync/internal/venue/okx"
)

// listenKeyKeepAlive is well inside the venue's lease window; an expired
// lease only costs one reconnect cycle.
const listenKeyKeepAlive = 30 * time.Minute

// leaseKeeper is implemented by venue clients whose feed connection rides a
// provisioned lease that must be extended periodically.
type leaseKeeper interface {
	KeepAliveListenKey(ctx context.Context) error
}

// feedSupervisor fronts the handshake orchestrator with feed-task
// provisioning. Connecting an account whose tasks have no live runner spawns
// one per channel; the runner's provisioning announcement then drives the
// first handshake through the control loop, so freshly spawned tasks are not
// handshaken a second time here.
type feedSupervisor struct {
	orchestrator *conn.Orchestrator
	feeds        *feed.Registry
	bus          *eventbus.MemoryBus
	lifecycle    *conc.WaitGroup
	runCtx       context.Context
	logger       *log.Logger

	// Touched only from the engine loop and pre-loop provisioning.
	leases map[string]context.CancelFunc
}

var _ account.Connectivity = (*feedSupervisor)(nil)

// provision spawns runners for every channel of the account that lacks one.
// It reports whether any runner was created.
func (s *feedSupervisor) provision(st *account.State) bool {
	created := s.ensureChannel(st, schema.FeedChannelOrders)
	if s.ensureChannel(st, schema.FeedChannelBalancePosition) {
		created = true
	}
	s.keepLease(st)
	return created
}

// keepLease extends the account's feed lease on an interval for venues that
// expire provisioned streams. Stopped on account teardown or shutdown.
func (s *feedSupervisor) keepLease(st *account.State) {
	keeper, ok := st.Client.(leaseKeeper)
	if !ok {
		return
	}
	if s.leases == nil {
		s.leases = make(map[string]context.CancelFunc)
	}
	if _, exists := s.leases[st.AccountID]; exists {
		return
	}

	leaseCtx, cancel := context.WithCancel(s.runCtx)
	s.leases[st.AccountID] = cancel
	accountID := st.AccountID
	s.lifecycle.Go(func() {
		ticker := time.NewTicker(listenKeyKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				if err := keeper.KeepAliveListenKey(leaseCtx); err != nil {
					s.logger.Printf("feed lease keepalive failed: account=%s: %v", accountID, err)
				}
			}
		}
	})
}

func (s *feedSupervisor) ensureChannel(st *account.State, channel schema.FeedChannel) bool {
	taskID, ok := st.TaskIDFor(channel)
	if !ok {
		return false
	}
	if _, exists := s.feeds.Lookup(taskID); exists {
		return false
	}

	decoder := decoderFor(st.Client.Name())
	handle := feed.NewHandle(taskID, feedCommandBuffer)
	s.feeds.Register(handle)
	runner := feed.NewRunner(handle, st.Client.Name(), channel, decoder, s.bus, nil)
	s.lifecycle.Go(func() {
		defer s.feeds.Remove(taskID)
		runner.Run(s.runCtx)
	})
	s.logger.Printf("feed task provisioned: account=%s channel=%s task_id=%d", st.AccountID, channel, taskID)
	return true
}

func (s *feedSupervisor) ConnectAccount(ctx context.Context, st *account.State) error {
	if s.provision(st) {
		return nil
	}
	return s.orchestrator.ConnectAccount(ctx, st)
}

func (s *feedSupervisor) ConnectChannel(ctx context.Context, st *account.State, channel schema.FeedChannel) error {
	if s.ensureChannel(st, channel) {
		return nil
	}
	return s.orchestrator.ConnectChannel(ctx, st, channel)
}

func (s *feedSupervisor) DisconnectAccount(ctx context.Context, st *account.State) {
	if cancel, ok := s.leases[st.AccountID]; ok {
		cancel()
		delete(s.leases, st.AccountID)
	}
	s.orchestrator.DisconnectAccount(ctx, st)
}

func decoderFor(v schema.Venue) feed.FrameDecoder {
	switch v {
	case schema.VenueOKX:
		return okx.DecodeFrame
	case schema.VenueBinanceUM:
		return binanceum.DecodeFrame
	default:
		return nil
	}
}
