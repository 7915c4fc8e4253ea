package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
)

// TagState represents the state of a tag in the async state machine
type TagState int

const (
	TagStateFree      TagState = iota // Unused; available to Submit
	TagStateInFlight                  // Executing; owned by a worker
	TagStateCompleted                 // Finished; waiting to be reaped
)

func (s TagState) String() string {
	switch s {
	case TagStateFree:
		return "free"
	case TagStateInFlight:
		return "in-flight"
	case TagStateCompleted:
		return "completed"
	}
	return fmt.Sprintf("TagState(%d)", int(s))
}

// ErrClosed is returned when submitting to a closed runner
var ErrClosed = errors.New("async runner closed")

// Executor runs one command to completion
type Executor func(cmd *interfaces.Command) (interfaces.Ret, error)

type Config struct {
	Depth    int
	Executor Executor
	Logger   *logging.Logger
}

type tagSlot struct {
	state TagState
	cmd   *interfaces.Command
	cb    interfaces.Callback
	ret   interfaces.Ret
	err   error
}

// Runner executes submitted commands on worker goroutines and hands their
// completions back to whoever reaps them. At most depth commands are
// outstanding at any time.
type Runner struct {
	depth  int
	exec   Executor
	ctx    context.Context
	cancel context.CancelFunc
	logger *logging.Logger

	mu        sync.Mutex
	tags      []tagSlot
	free      []uint16
	completed []uint16
	notify    chan struct{}

	outstanding atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup
}

// NewRunner creates a runner with depth tags
func NewRunner(ctx context.Context, config Config) (*Runner, error) {
	if config.Depth <= 0 || config.Depth > 1<<16 {
		return nil, fmt.Errorf("invalid depth %d: %w", config.Depth, syscall.EINVAL)
	}
	if config.Executor == nil {
		return nil, fmt.Errorf("nil executor: %w", syscall.EINVAL)
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(ctx)

	r := &Runner{
		depth:  config.Depth,
		exec:   config.Executor,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		tags:   make([]tagSlot, config.Depth),
		free:   make([]uint16, 0, config.Depth),
		notify: make(chan struct{}, 1),
	}
	for tag := config.Depth - 1; tag >= 0; tag-- {
		r.free = append(r.free, uint16(tag))
	}

	logger.Debug("created async runner", "depth", config.Depth)

	return r, nil
}

// Depth returns the number of tags
func (r *Runner) Depth() int {
	return r.depth
}

// Outstanding returns the number of submitted but unreaped commands
func (r *Runner) Outstanding() int {
	return int(r.outstanding.Load())
}

// Submit assigns a free tag to cmd and starts executing it
func (r *Runner) Submit(cmd *interfaces.Command, cb interfaces.Callback) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if cmd == nil {
		return syscall.EINVAL
	}

	r.mu.Lock()
	if len(r.free) == 0 {
		r.mu.Unlock()
		return syscall.EAGAIN
	}
	tag := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.tags[tag] = tagSlot{state: TagStateInFlight, cmd: cmd, cb: cb}
	r.mu.Unlock()

	r.outstanding.Add(1)
	r.wg.Add(1)
	go r.run(tag, cmd)

	return nil
}

func (r *Runner) run(tag uint16, cmd *interfaces.Command) {
	defer r.wg.Done()

	var ret interfaces.Ret
	var err error
	if cerr := r.ctx.Err(); cerr != nil {
		err = cerr
	} else {
		ret, err = r.exec(cmd)
	}

	r.mu.Lock()
	slot := &r.tags[tag]
	slot.ret, slot.err = ret, err
	slot.state = TagStateCompleted
	r.completed = append(r.completed, tag)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// reap pops up to max completed tags and runs their callbacks
func (r *Runner) reap(max int) int {
	r.mu.Lock()
	n := len(r.completed)
	if max > 0 && n > max {
		n = max
	}
	done := make([]tagSlot, n)
	for i, tag := range r.completed[:n] {
		done[i] = r.tags[tag]
		r.tags[tag] = tagSlot{state: TagStateFree}
		r.free = append(r.free, tag)
	}
	r.completed = append(r.completed[:0], r.completed[n:]...)
	r.mu.Unlock()

	r.outstanding.Add(int32(-n))

	for _, slot := range done {
		if slot.err != nil {
			r.logger.Debug("async command failed", "opcode", slot.cmd.Opcode, "error", slot.err)
		}
		if slot.cb != nil {
			slot.cb(slot.ret, slot.err)
		}
	}

	return n
}

// Poke reaps completions without blocking
func (r *Runner) Poke(max int) (int, error) {
	return r.reap(max), nil
}

// Wait reaps completions until nothing is outstanding
func (r *Runner) Wait() (int, error) {
	total := 0
	for r.outstanding.Load() > 0 {
		total += r.reap(0)
		if r.outstanding.Load() == 0 {
			break
		}
		select {
		case <-r.notify:
		case <-r.ctx.Done():
			// Workers observe the cancellation and still complete their tags
			r.wg.Wait()
			total += r.reap(0)
			return total, r.ctx.Err()
		}
	}
	return total, nil
}

// TagStates returns a snapshot of every tag state
func (r *Runner) TagStates() []TagState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]TagState, len(r.tags))
	for i, slot := range r.tags {
		states[i] = slot.state
	}
	return states
}

// Close stops accepting commands, waits for in-flight work and drops any
// unreaped completions.
func (r *Runner) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.cancel()
	r.wg.Wait()

	if dropped := r.Outstanding(); dropped > 0 {
		r.logger.Debug("dropping unreaped completions", "count", dropped)
	}
	return nil
}

var _ interfaces.AsyncContext = (*Runner)(nil)
