package feed

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/candlelabs/portsync/internal/schema"
)

const (
	feedReadLimit       = 2 * 1024 * 1024
	feedWriteTimeout    = 5 * time.Second
	feedMaxDialInterval = 20 * time.Second
	feedMaxDialAttempts = 3
)

// Publisher delivers inbound events to the broadcast bus.
type Publisher interface {
	Publish(ctx context.Context, evt *schema.Event) error
}

// FrameDecoder turns one inbound websocket frame into a typed event, or
// returns nil for frames that carry nothing of interest (acks, keepalives).
type FrameDecoder func(frame []byte) (*schema.Event, error)

// Runner executes the commands of one feed task: it dials on Connect, writes
// payloads on Send, closes on Shutdown, and pumps decoded inbound frames onto
// the event bus under the task's id.
type Runner struct {
	handle  *Handle
	venue   schema.Venue
	channel schema.FeedChannel
	decoder FrameDecoder
	pub     Publisher
	logger  *log.Logger

	conn       *websocket.Conn
	pumpCancel context.CancelFunc
	pumpDone   sync.WaitGroup
}

// NewRunner constructs a runner for the handle.
func NewRunner(handle *Handle, v schema.Venue, channel schema.FeedChannel, decoder FrameDecoder, pub Publisher, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stdout, "feed-task-"+strconv.FormatUint(handle.TaskID(), 10)+" ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Runner{
		handle:  handle,
		venue:   v,
		channel: channel,
		decoder: decoder,
		pub:     pub,
		logger:  logger,
		conn:    nil,
	}
}

// Run consumes commands until the task shuts down or the context ends.
// Announces the task as provisioned so the engine can drive the first
// handshake.
func (r *Runner) Run(ctx context.Context) {
	r.announce(ctx, schema.FeedStatusProvisioned)

	defer r.disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.handle.closed:
			return
		case cmd := <-r.handle.Commands():
			if done := r.execute(ctx, cmd); done {
				return
			}
		}
	}
}

// execute runs one command; it reports true when the task should stop.
func (r *Runner) execute(ctx context.Context, cmd Command) bool {
	switch cmd.Cmd.Type {
	case schema.FeedCommandConnect:
		r.disconnect()
		conn, err := r.dial(ctx, cmd.Cmd.Payload)
		if err != nil {
			r.logger.Printf("connect failed: %v", err)
			cmd.Ack(schema.AckConnect, false, err.Error())
			return false
		}
		r.conn = conn
		r.startPump(ctx, conn)
		cmd.Ack(schema.AckConnect, true, "")
		return false

	case schema.FeedCommandSend:
		if r.conn == nil {
			cmd.Ack(schema.AckSend, false, "no live connection")
			return false
		}
		writeCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
		err := r.conn.Write(writeCtx, websocket.MessageText, []byte(cmd.Cmd.Payload))
		cancel()
		if err != nil {
			r.logger.Printf("write failed: %v", err)
			cmd.Ack(schema.AckSend, false, err.Error())
			return false
		}
		cmd.Ack(schema.AckSend, true, "")
		return false

	case schema.FeedCommandShutdown:
		r.logger.Printf("shutdown: %s", cmd.Cmd.Payload)
		r.disconnect()
		r.handle.Close()
		return true

	default:
		r.logger.Printf("unsupported command %q ignored", cmd.Cmd.Type)
		return false
	}
}

// dial attempts the websocket connection a bounded number of times so the
// awaited Connect acknowledgement cannot stall indefinitely.
func (r *Runner) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = feedMaxDialInterval

	var lastErr error
	for attempt := 0; attempt < feedMaxDialAttempts; attempt++ {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err == nil {
			conn.SetReadLimit(feedReadLimit)
			return conn, nil
		}
		lastErr = err

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = feedMaxDialInterval
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, lastErr
}

func (r *Runner) startPump(ctx context.Context, conn *websocket.Conn) {
	pumpCtx, cancel := context.WithCancel(ctx)
	r.pumpCancel = cancel
	r.pumpDone.Add(1)
	go func() {
		defer r.pumpDone.Done()
		r.pump(pumpCtx, conn)
	}()
}

// pump reads frames until the connection drops, publishing decoded events
// under the task id. A dropped connection is announced so the engine can
// re-run the handshake.
func (r *Runner) pump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Printf("read loop ended: %v", err)
				r.announce(ctx, schema.FeedStatusDisconnected)
			}
			return
		}

		if r.decoder == nil {
			continue
		}
		evt, err := r.decoder(frame)
		if err != nil {
			r.logger.Printf("frame decode failed: %v", err)
			continue
		}
		if evt == nil {
			continue
		}
		evt.TaskID = r.handle.TaskID()
		if err := r.pub.Publish(ctx, evt); err != nil {
			r.logger.Printf("event publish failed: %v", err)
		}
	}
}

func (r *Runner) announce(ctx context.Context, status schema.FeedStatus) {
	evt := &schema.Event{
		TaskID: r.handle.TaskID(),
		Type:   schema.EventTypeFeedStatus,
		FeedStatus: &schema.FeedStatusEvent{
			Venue:   r.venue,
			Channel: r.channel,
			Status:  status,
		},
	}
	if err := r.pub.Publish(ctx, evt); err != nil {
		r.logger.Printf("status publish failed: %v", err)
	}
}

func (r *Runner) disconnect() {
	if r.pumpCancel != nil {
		r.pumpCancel()
		r.pumpCancel = nil
	}
	if r.conn != nil {
		_ = r.conn.Close(websocket.StatusNormalClosure, "shutdown")
		r.conn = nil
	}
	r.pumpDone.Wait()
}
