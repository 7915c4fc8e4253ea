package lightnvm

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ehrlich-b/go-lightnvm/internal/logging"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// ChunkDescrNBytes is the size of one chunk descriptor returned by Erase
const ChunkDescrNBytes = uapi.RprtDescrSize

// BatchSize returns the number of addresses per command when n addresses
// are split into commands of at most max: the largest divisor of n that
// does not exceed max. It returns 0 when n or max is not positive.
func BatchSize(n, max int) int {
	if n <= 0 || max <= 0 {
		return 0
	}
	s := n
	if max < s {
		s = max
	}
	for n%s != 0 {
		s--
	}
	return s
}

// BatchSizeUnit is BatchSize for commands that must keep runs of unit
// consecutive addresses together. When n is a multiple of unit the size
// steps down in whole units: the largest multiple of unit, at most max,
// that divides n. Otherwise it falls back to BatchSize.
func BatchSizeUnit(n, max, unit int) int {
	if unit <= 1 || n <= 0 || n%unit != 0 || max < unit {
		return BatchSize(n, max)
	}
	for s := max - max%unit; s > unit; s -= unit {
		if n%s == 0 {
			return s
		}
	}
	return unit
}

// batchUnit is the run of addresses one command must not split: the planes
// of a sector under a multi-plane mode (1.2) or ws_min sectors of a 2.0
// write.
func (d *Device) batchUnit(flags uint16, write bool) int {
	if d.is2() {
		if write {
			return d.geo.L.WsMin
		}
		return 1
	}
	if flags&flagPModeMask != FlagPModeSngl {
		return d.geo.NPlanes
	}
	return 1
}

// vector describes one logical command before it is split into batches
type vector struct {
	op      string
	opcode  uint8
	addrs   []Addr
	dst     []Addr
	data    []byte
	meta    []byte
	dstride int
	mstride int
	max     int
	unit    int
	exec    func(ppas, dst []uint64, data, meta []byte) (Ret, error)
	after   func(data, meta []byte)
}

// run splits v into batches, encodes and submits each. Every batch is
// attempted unless the device aborts on error; failures are aggregated and
// the completion codes of the first failing batch are returned.
func (d *Device) run(v *vector) (Ret, error) {
	_, abort := d.settings()

	n := len(v.addrs)
	bs := BatchSizeUnit(n, v.max, v.unit)
	ppas := make([]uint64, bs)
	var dst []uint64
	if v.dst != nil {
		dst = make([]uint64, bs)
	}

	debug := d.logger.Enabled(logging.LevelDebug)
	var cmdLogger *logging.Logger
	if debug {
		cmdLogger = d.logger.WithCommand(v.op, bs)
	}

	var last, first Ret
	var errs *multierror.Error
	var failedAt Addr

	for off := 0; off < n; off += bs {
		for i := 0; i < bs; i++ {
			ppas[i] = d.format.Gen2Dev(v.addrs[off+i])
			if dst != nil {
				dst[i] = d.format.Gen2Dev(v.dst[off+i])
			}
		}

		var data, meta []byte
		if v.data != nil {
			data = v.data[off*v.dstride : (off+bs)*v.dstride]
		}
		if v.meta != nil {
			meta = v.meta[off*v.mstride : (off+bs)*v.mstride]
		}

		if debug {
			cmdLogger.Debug("submit", "offset", off, "ppa0", fmt.Sprintf("0x%016x", ppas[0]))
		}

		start := time.Now()
		ret, err := v.exec(ppas, dst, data, meta)
		d.observer.ObserveCommand(opFromOpcode(v.opcode), bs, uint64(len(data)),
			uint64(time.Since(start).Nanoseconds()), err == nil)

		if err != nil {
			d.logger.Warn("command failed",
				"op", v.op, "offset", off, "naddrs", bs,
				"status", fmt.Sprintf("0x%x", ret.Status),
				"result", fmt.Sprintf("0x%x", ret.Result),
				"error", err)
			if errs == nil {
				first = ret
				failedAt = v.addrs[off]
			}
			errs = multierror.Append(errs, fmt.Errorf("addrs [%d:%d]: %w", off, off+bs, err))
			if abort {
				break
			}
			continue
		}

		if v.after != nil {
			v.after(data, meta)
		}
		last = ret
	}

	if errs != nil {
		e := NewIOError(v.op, first, errs.ErrorOrNil())
		e.Device = d.name
		e.Addr = &failedAt
		return first, e
	}
	return last, nil
}

func (d *Device) validate(op string, addrs []Addr) error {
	if err := d.checkOpen(op); err != nil {
		return err
	}
	if len(addrs) == 0 {
		return d.errorf(op, ErrCodeInvalidArgument, "no addresses")
	}
	if check, _ := d.settings(); check {
		return d.checkAddrs(op, addrs)
	}
	return nil
}

func (d *Device) checkBuf(op, what string, buf []byte, naddrs, stride int) error {
	if len(buf) < naddrs*stride {
		return d.errorf(op, ErrCodeInvalidArgument, "%s buffer holds %d bytes, need %d", what, len(buf), naddrs*stride)
	}
	return nil
}

// unrollPlanes expands every address to all planes of its block, keeping
// the order of first appearance.
func (d *Device) unrollPlanes(addrs []Addr) []Addr {
	seen := make(map[Addr]struct{}, len(addrs)*d.geo.NPlanes)
	out := make([]Addr, 0, len(addrs)*d.geo.NPlanes)
	for _, a := range addrs {
		for pl := 0; pl < d.geo.NPlanes; pl++ {
			p := a
			p.SetPl(pl)
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Erase resets the blocks (1.2) or chunks (2.0) at addrs. On 2.0 devices
// meta may receive one ChunkDescrNBytes descriptor per address, index
// aligned with addrs.
func (d *Device) Erase(addrs []Addr, meta []byte, flags uint16) (Ret, error) {
	const op = "erase"
	if err := d.validate(op, addrs); err != nil {
		return Ret{}, err
	}
	if meta != nil {
		if !d.is2() {
			return Ret{}, d.errorf(op, ErrCodeInvalidArgument, "erase descriptors need a 2.0 device")
		}
		if err := d.checkBuf(op, "meta", meta, len(addrs), ChunkDescrNBytes); err != nil {
			return Ret{}, err
		}
	}

	if d.quirks.Has(QuirkPModeEraseRunroll) && !d.is2() && flags&flagPModeMask != FlagPModeSngl {
		addrs = d.unrollPlanes(addrs)
		flags &^= flagPModeMask
	}

	return d.run(&vector{
		op:      op,
		opcode:  OpcErase,
		addrs:   addrs,
		meta:    meta,
		mstride: ChunkDescrNBytes,
		max:     d.EraseNaddrsMax(),
		unit:    d.batchUnit(flags, false),
		exec: func(ppas, _ []uint64, _, meta []byte) (Ret, error) {
			return d.be.Erase(ppas, meta, flags)
		},
	})
}

// Write programs one sector per address from data. meta, when non-nil,
// holds one OOB area per address. Under a 1.2 multi-plane mode the planes of
// each sector must be adjacent in addrs; batches never separate them, and
// 2.0 batches are whole multiples of ws_min.
func (d *Device) Write(addrs []Addr, data, meta []byte, flags uint16) (Ret, error) {
	const op = "write"
	if err := d.validate(op, addrs); err != nil {
		return Ret{}, err
	}
	if data == nil {
		return Ret{}, d.errorf(op, ErrCodeInvalidArgument, "no data buffer")
	}
	if err := d.checkBuf(op, "data", data, len(addrs), d.geo.SectorNBytes); err != nil {
		return Ret{}, err
	}
	if meta != nil {
		if err := d.checkBuf(op, "meta", meta, len(addrs), d.geo.MetaNBytes); err != nil {
			return Ret{}, err
		}
	}

	return d.run(&vector{
		op:      op,
		opcode:  OpcWrite,
		addrs:   addrs,
		data:    data,
		meta:    meta,
		dstride: d.geo.SectorNBytes,
		mstride: d.geo.MetaNBytes,
		max:     d.WriteNaddrsMax(),
		unit:    d.batchUnit(flags, true),
		exec: func(ppas, _ []uint64, data, meta []byte) (Ret, error) {
			return d.be.Write(ppas, data, meta, flags)
		},
	})
}

// Read fetches one sector per address into data and, when meta is non-nil,
// one OOB area per address into meta.
func (d *Device) Read(addrs []Addr, data, meta []byte, flags uint16) (Ret, error) {
	const op = "read"
	if err := d.validate(op, addrs); err != nil {
		return Ret{}, err
	}
	if data == nil {
		return Ret{}, d.errorf(op, ErrCodeInvalidArgument, "no data buffer")
	}
	if err := d.checkBuf(op, "data", data, len(addrs), d.geo.SectorNBytes); err != nil {
		return Ret{}, err
	}
	if meta != nil {
		if err := d.checkBuf(op, "meta", meta, len(addrs), d.geo.MetaNBytes); err != nil {
			return Ret{}, err
		}
	}

	return d.run(&vector{
		op:      op,
		opcode:  OpcRead,
		addrs:   addrs,
		data:    data,
		meta:    meta,
		dstride: d.geo.SectorNBytes,
		mstride: d.geo.MetaNBytes,
		max:     d.ReadNaddrsMax(),
		unit:    d.batchUnit(flags, false),
		exec: func(ppas, _ []uint64, data, meta []byte) (Ret, error) {
			return d.be.Read(ppas, data, meta, flags)
		},
		after: d.readFixup,
	})
}

// readFixup applies read quirks to a completed batch
func (d *Device) readFixup(_, meta []byte) {
	if meta == nil || !d.quirks.Has(QuirkOOBRead1st4BytesNull) || d.geo.MetaNBytes < 4 {
		return
	}
	for off := 0; off+d.geo.MetaNBytes <= len(meta); off += d.geo.MetaNBytes {
		clear(meta[off : off+4])
	}
}

// Copy moves sectors from src to dst on the device
func (d *Device) Copy(src, dst []Addr, flags uint16) (Ret, error) {
	const op = "copy"
	if len(src) != len(dst) {
		return Ret{}, d.errorf(op, ErrCodeInvalidArgument, "%d sources for %d destinations", len(src), len(dst))
	}
	if err := d.validate(op, src); err != nil {
		return Ret{}, err
	}
	if check, _ := d.settings(); check {
		if err := d.checkAddrs(op, dst); err != nil {
			return Ret{}, err
		}
	}

	max := d.ReadNaddrsMax()
	if w := d.WriteNaddrsMax(); w < max {
		max = w
	}

	return d.run(&vector{
		op:     op,
		opcode: OpcCopy,
		addrs:  src,
		dst:    dst,
		max:    max,
		unit:   d.batchUnit(flags, true),
		exec: func(ppas, dst []uint64, _, _ []byte) (Ret, error) {
			return d.be.Copy(ppas, dst, flags)
		},
	})
}
