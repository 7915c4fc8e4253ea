package lightnvm

import (
	"errors"
	"syscall"
	"time"
)

// AsyncCtx is a queue of asynchronous commands on one device. Completion
// callbacks run on the goroutine calling Poke or Wait.
type AsyncCtx struct {
	dev   *Device
	ctx   AsyncContext
	flags int
}

// AsyncInit creates an asynchronous context holding up to depth commands in
// flight. depth <= 0 selects DefaultAsyncDepth.
func (d *Device) AsyncInit(depth int, flags int) (*AsyncCtx, error) {
	const op = "async_init"
	if err := d.checkOpen(op); err != nil {
		return nil, err
	}
	abe, ok := d.be.(AsyncBackend)
	if !ok {
		return nil, d.errorf(op, ErrCodeNotSupported, "backend %s has no asynchronous interface", d.beID)
	}
	if depth <= 0 {
		depth = DefaultAsyncDepth
	}

	actx, err := abe.NewAsync(depth)
	if err != nil {
		return nil, d.wrap(op, err)
	}
	d.logger.Debug("async context created", "depth", depth)
	return &AsyncCtx{dev: d, ctx: actx, flags: flags}, nil
}

// SubmitAsync queues one command of opcode OpcErase, OpcWrite or OpcRead.
// The addresses must fit a single command. When the queue is full,
// completions are reaped until the command can be queued. Buffers must stay
// untouched until cb runs.
func (d *Device) SubmitAsync(actx *AsyncCtx, opcode uint8, addrs []Addr, data, meta []byte, flags uint16, cb Callback) error {
	const op = "async_submit"
	if actx == nil || actx.dev != d {
		return d.errorf(op, ErrCodeInvalidArgument, "async context does not belong to device")
	}
	if err := d.validate(op, addrs); err != nil {
		return err
	}

	var max int
	switch opcode {
	case OpcErase:
		max = d.EraseNaddrsMax()
		if data != nil {
			return d.errorf(op, ErrCodeInvalidArgument, "erase takes no data buffer")
		}
		if meta != nil {
			if !d.is2() {
				return d.errorf(op, ErrCodeInvalidArgument, "erase descriptors need a 2.0 device")
			}
			if err := d.checkBuf(op, "meta", meta, len(addrs), ChunkDescrNBytes); err != nil {
				return err
			}
		}
	case OpcWrite, OpcRead:
		if opcode == OpcWrite {
			max = d.WriteNaddrsMax()
		} else {
			max = d.ReadNaddrsMax()
		}
		if data == nil {
			return d.errorf(op, ErrCodeInvalidArgument, "no data buffer")
		}
		if err := d.checkBuf(op, "data", data, len(addrs), d.geo.SectorNBytes); err != nil {
			return err
		}
		if meta != nil {
			if err := d.checkBuf(op, "meta", meta, len(addrs), d.geo.MetaNBytes); err != nil {
				return err
			}
		}
	default:
		return d.errorf(op, ErrCodeNotSupported, "opcode 0x%02x cannot be submitted asynchronously", opcode)
	}
	if len(addrs) > max {
		return d.errorf(op, ErrCodeInvalidArgument, "%d addresses exceed the limit of %d per command", len(addrs), max)
	}

	ppas := make([]uint64, len(addrs))
	for i, a := range addrs {
		ppas[i] = d.format.Gen2Dev(a)
	}
	cmd := &Command{Opcode: opcode, Ppas: ppas, Data: data, Meta: meta, Flags: flags}

	start := time.Now()
	wrapped := func(ret Ret, err error) {
		d.observer.ObserveCommand(opFromOpcode(opcode), len(ppas), uint64(len(data)),
			uint64(time.Since(start).Nanoseconds()), err == nil)
		if err == nil && opcode == OpcRead {
			d.readFixup(data, meta)
		}
		if err != nil {
			e := NewIOError(op, ret, err)
			e.Device = d.name
			e.Addr = &addrs[0]
			err = e
		}
		if cb != nil {
			cb(ret, err)
		}
	}

	for {
		err := actx.ctx.Submit(cmd, wrapped)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syscall.EAGAIN) {
			return d.wrap(op, err)
		}
		if _, err := actx.ctx.Wait(); err != nil {
			return d.wrap(op, err)
		}
	}
}

// Poke reaps up to max completions without blocking; max <= 0 reaps all
// that are available.
func (a *AsyncCtx) Poke(max int) (int, error) {
	n, err := a.ctx.Poke(max)
	return n, a.dev.wrap("async_poke", err)
}

// Wait reaps completions until none are outstanding
func (a *AsyncCtx) Wait() (int, error) {
	n, err := a.ctx.Wait()
	return n, a.dev.wrap("async_wait", err)
}

// Outstanding returns the number of submitted but unreaped commands
func (a *AsyncCtx) Outstanding() int { return a.ctx.Outstanding() }

// Depth returns the maximum number of commands in flight
func (a *AsyncCtx) Depth() int { return a.ctx.Depth() }

// Flags returns the flags the context was created with
func (a *AsyncCtx) Flags() int { return a.flags }

// Close releases the context. Unreaped completions are dropped.
func (a *AsyncCtx) Close() error {
	return a.dev.wrap("async_term", a.ctx.Close())
}
