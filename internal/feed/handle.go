// Package feed implements the long-lived feed tasks: the command/ack
// mailboxes the handshake orchestrator drives and the websocket runners that
// execute them.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

// Command pairs a feed command with its optional single-use reply channel.
// Reply is nil for fire-and-forget commands.
type Command struct {
	Cmd     schema.FeedCommand
	AckKind schema.AckKind
	Reply   chan schema.Acknowledgement
}

// Handle is the command mailbox for one feed task. The orchestrator sends
// commands through it; the task's runner consumes them.
type Handle struct {
	taskID   uint64
	commands chan Command

	closeOnce sync.Once
	closed    chan struct{}
}

// NewHandle constructs a mailbox for the feed task.
func NewHandle(taskID uint64, buffer int) *Handle {
	if buffer <= 0 {
		buffer = 4
	}
	return &Handle{
		taskID:   taskID,
		commands: make(chan Command, buffer),
		closed:   make(chan struct{}),
	}
}

// TaskID returns the feed task identifier the handle serves.
func (h *Handle) TaskID() uint64 { return h.taskID }

// Commands exposes the mailbox to the consuming runner.
func (h *Handle) Commands() <-chan Command { return h.commands }

// Close marks the handle dead; pending and future sends fail.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// Send enqueues the command with a single-use acknowledgement receiver and
// blocks until the acknowledgement arrives, the context ends, or the handle
// closes.
func (h *Handle) Send(ctx context.Context, cmd schema.FeedCommand, kind schema.AckKind) (schema.Acknowledgement, error) {
	reply := make(chan schema.Acknowledgement, 1)
	if err := h.enqueue(ctx, Command{Cmd: cmd, AckKind: kind, Reply: reply}); err != nil {
		return schema.Acknowledgement{}, err
	}
	select {
	case ack := <-reply:
		return ack, nil
	case <-ctx.Done():
		return schema.Acknowledgement{}, errs.New("feed/handle", errs.CodeConnectivity,
			errs.WithMessage("await acknowledgement"), errs.WithCause(ctx.Err()))
	case <-h.closed:
		return schema.Acknowledgement{}, errs.New("feed/handle", errs.CodeUnavailable,
			errs.WithMessage("feed task closed while awaiting acknowledgement"))
	}
}

// SendAsync enqueues the command without awaiting any acknowledgement.
func (h *Handle) SendAsync(ctx context.Context, cmd schema.FeedCommand) error {
	return h.enqueue(ctx, Command{Cmd: cmd, AckKind: schema.AckKind(""), Reply: nil})
}

func (h *Handle) enqueue(ctx context.Context, cmd Command) error {
	// Checked first: a closed handle with free mailbox space must still
	// reject the command.
	select {
	case <-h.closed:
		return errs.New("feed/handle", errs.CodeUnavailable,
			errs.WithMessage("feed task closed"))
	default:
	}
	select {
	case h.commands <- cmd:
		return nil
	case <-ctx.Done():
		return errs.New("feed/handle", errs.CodeConnectivity,
			errs.WithMessage("enqueue command"), errs.WithCause(ctx.Err()))
	case <-h.closed:
		return errs.New("feed/handle", errs.CodeUnavailable,
			errs.WithMessage("feed task closed"))
	}
}

// Ack answers a command's reply channel, if one is attached.
func (c Command) Ack(kind schema.AckKind, success bool, errMsg string) {
	if c.Reply == nil {
		return
	}
	c.Reply <- schema.Acknowledgement{
		Kind:      kind,
		Success:   success,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
}

// Registry maps live feed task ids to their handles.
type Registry struct {
	mu      sync.RWMutex
	handles map[uint64]*Handle
}

// NewRegistry constructs an empty handle registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[uint64]*Handle)}
}

// Register adds the handle under its task id, replacing any previous one.
func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	r.handles[h.taskID] = h
	r.mu.Unlock()
}

// Lookup returns the handle registered for the task id.
func (r *Registry) Lookup(taskID uint64) (*Handle, bool) {
	r.mu.RLock()
	h, ok := r.handles[taskID]
	r.mu.RUnlock()
	return h, ok
}

// Remove drops and closes the handle for the task id.
func (r *Registry) Remove(taskID uint64) {
	r.mu.Lock()
	if h, ok := r.handles[taskID]; ok {
		h.Close()
		delete(r.handles, taskID)
	}
	r.mu.Unlock()
}
