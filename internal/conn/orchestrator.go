// Package conn drives the per-venue private feed handshakes and teardowns.
package conn

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/account"
	"github.com/candlelabs/portsync/internal/schema"
)

// Handle is the command mailbox for one live feed task. Send pairs a command
// with a single-use acknowledgement receiver and blocks until the ack arrives
// or the transport fails; SendAsync enqueues without awaiting.
type Handle interface {
	Send(ctx context.Context, cmd schema.FeedCommand, kind schema.AckKind) (schema.Acknowledgement, error)
	SendAsync(ctx context.Context, cmd schema.FeedCommand) error
}

// LookupFunc resolves the live handle for a feed task id.
type LookupFunc func(taskID uint64) (Handle, bool)

// handshakeState tracks progress through the multi-step feed handshake.
type handshakeState string

const (
	stateDisconnected  handshakeState = "disconnected"
	stateConnected     handshakeState = "connected"
	stateAuthenticated handshakeState = "authenticated"
	stateSubscribed    handshakeState = "subscribed"
)

// defaultLoginPacing is the fixed pause between login and subscribe demanded
// by venues that rate-limit handshake control frames.
const defaultLoginPacing = 100 * time.Millisecond

// Orchestrator performs the connect/authenticate/subscribe sequence for an
// account's feed channels and tears the same channels down. It never retries
// internally; a failed step aborts the sequence and propagates.
type Orchestrator struct {
	logger *log.Logger
	lookup LookupFunc
	pacing time.Duration
}

// NewOrchestrator constructs an orchestrator over the given handle lookup.
func NewOrchestrator(logger *log.Logger, lookup LookupFunc) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stdout, "connectivity ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Orchestrator{
		logger: logger,
		lookup: lookup,
		pacing: defaultLoginPacing,
	}
}

// ConnectAccount connects both of the account's feed channels in order. The
// balance channel is only attempted after the order channel's handshake fully
// succeeded.
func (o *Orchestrator) ConnectAccount(ctx context.Context, st *account.State) error {
	o.logger.Printf("feed connect: account=%s", st.AccountID)
	if err := o.ConnectChannel(ctx, st, schema.FeedChannelOrders); err != nil {
		return err
	}
	return o.ConnectChannel(ctx, st, schema.FeedChannelBalancePosition)
}

// ConnectChannel runs the venue handshake for one channel. A missing handle
// means the feed is not provisioned or already torn down: logged, treated as
// a no-op success.
func (o *Orchestrator) ConnectChannel(ctx context.Context, st *account.State, channel schema.FeedChannel) error {
	taskID, ok := st.TaskIDFor(channel)
	if !ok {
		return errs.New(string(st.Client.Name()), errs.CodeConnectivity,
			errs.WithMessage("unsupported feed channel "+string(channel)))
	}

	handle, ok := o.lookup(taskID)
	if !ok {
		o.logger.Printf("no feed handle for account=%s channel=%s task_id=%d", st.AccountID, channel, taskID)
		return nil
	}

	o.logger.Printf("handshake start: account=%s channel=%s task_id=%d", st.AccountID, channel, taskID)
	state := stateDisconnected

	connectURL, err := st.Client.ConnectMessage(ctx, channel)
	if err != nil {
		return o.fail(st, channel, state, err)
	}
	if _, err := sendAcked(ctx, handle, schema.FeedCommand{
		Type:    schema.FeedCommandConnect,
		Payload: connectURL,
	}, schema.AckConnect); err != nil {
		return o.fail(st, channel, state, err)
	}
	state = stateConnected

	if st.Client.RequiresLogin() {
		loginMsg, err := st.Client.LoginMessage()
		if err != nil {
			return o.fail(st, channel, state, err)
		}
		if _, err := sendAcked(ctx, handle, schema.FeedCommand{
			Type:    schema.FeedCommandSend,
			Payload: loginMsg,
		}, schema.AckSend); err != nil {
			return o.fail(st, channel, state, err)
		}
		state = stateAuthenticated

		// Handshake pacing demanded by the venue between login and subscribe.
		select {
		case <-time.After(o.pacing):
		case <-ctx.Done():
			return o.fail(st, channel, state, ctx.Err())
		}

		subMsg, err := st.Client.SubscribeMessage(channel)
		if err != nil {
			return o.fail(st, channel, state, err)
		}
		if _, err := sendAcked(ctx, handle, schema.FeedCommand{
			Type:    schema.FeedCommandSend,
			Payload: subMsg,
		}, schema.AckSend); err != nil {
			return o.fail(st, channel, state, err)
		}
	}
	state = stateSubscribed

	o.logger.Printf("handshake done: account=%s channel=%s task_id=%d state=%s",
		st.AccountID, channel, taskID, state)
	return nil
}

// DisconnectAccount sends a fire-and-forget shutdown on both of the
// account's channels. Missing handles are logged, never errors.
func (o *Orchestrator) DisconnectAccount(ctx context.Context, st *account.State) {
	o.logger.Printf("feed teardown: account=%s", st.AccountID)

	channels := []schema.FeedChannel{schema.FeedChannelOrders, schema.FeedChannelBalancePosition}
	for _, channel := range channels {
		taskID, ok := st.TaskIDFor(channel)
		if !ok {
			continue
		}
		handle, ok := o.lookup(taskID)
		if !ok {
			o.logger.Printf("no feed handle for channel=%s task_id=%d during teardown", channel, taskID)
			continue
		}
		if err := handle.SendAsync(ctx, schema.FeedCommand{
			Type:    schema.FeedCommandShutdown,
			Payload: "account removed",
		}); err != nil {
			o.logger.Printf("shutdown send failed for channel=%s task_id=%d: %v", channel, taskID, err)
		}
	}
}

func (o *Orchestrator) fail(st *account.State, channel schema.FeedChannel, reached handshakeState, err error) error {
	o.logger.Printf("handshake aborted: account=%s channel=%s reached=%s: %v",
		st.AccountID, channel, reached, err)
	return err
}

func sendAcked(ctx context.Context, handle Handle, cmd schema.FeedCommand, kind schema.AckKind) (schema.Acknowledgement, error) {
	ack, err := handle.Send(ctx, cmd, kind)
	if err != nil {
		return schema.Acknowledgement{}, err
	}
	if !ack.Success {
		return ack, errs.New("conn/handshake", errs.CodeConnectivity,
			errs.WithMessage(string(cmd.Type)+" rejected: "+ack.Error))
	}
	return ack, nil
}
