package lightnvm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dgroup"

	"github.com/ehrlich-b/go-lightnvm/internal/queue"
)

// padChunkNBytes bounds the filler buffer used by Pad
const padChunkNBytes = 1 << 20

// Vblk is a virtual block: an ordered set of blocks (1.2) or chunks (2.0)
// addressed as one linear byte range. Virtual pages are striped across the
// set, so consecutive pages land on consecutive blocks.
//
// A Vblk borrows its device and is not safe for concurrent use.
type Vblk struct {
	dev   *Device
	ctx   context.Context
	blks  []Addr
	flags uint16

	nbytes   uint64
	posWrite uint64
	posRead  uint64
}

func (d *Device) normalizeBlk(a Addr) Addr {
	if d.is2() {
		return AddrS20(a.Pugrp(), a.Punit(), a.Chunk(), 0)
	}
	return AddrS12(a.Ch(), a.Lun(), 0, a.Blk(), 0, 0)
}

func (d *Device) blkBounds(a Addr) BoundsMask {
	if d.is2() {
		return d.geo.CheckS20(a) & (BoundsPugrp | BoundsPunit | BoundsChunk)
	}
	return d.geo.CheckS12(a) & (BoundsCh | BoundsLun | BoundsBlk)
}

// NewVblk creates a virtual block over the blocks (1.2) or chunks (2.0) of
// addrs. Page, plane and sector fields are ignored.
func NewVblk(dev *Device, addrs []Addr) (*Vblk, error) {
	const op = "vblk_alloc"
	if dev == nil {
		return nil, NewError(op, ErrCodeInvalidArgument, "nil device")
	}
	if len(addrs) == 0 {
		return nil, dev.errorf(op, ErrCodeInvalidArgument, "no addresses")
	}

	blks := make([]Addr, len(addrs))
	seen := make(map[Addr]struct{}, len(addrs))
	for i, a := range addrs {
		if m := dev.blkBounds(a); m != 0 {
			e := NewBoundsError(op, a, m)
			e.Device = dev.name
			return nil, e
		}
		blks[i] = dev.normalizeBlk(a)
		if _, ok := seen[blks[i]]; ok {
			return nil, dev.errorf(op, ErrCodeInvalidArgument, "block %s listed twice", dev.Describe(blks[i]))
		}
		seen[blks[i]] = struct{}{}
	}

	geo := dev.Geo()
	v := &Vblk{
		dev:   dev,
		ctx:   context.Background(),
		blks:  blks,
		flags: dev.PMode(),
	}
	if dev.is2() {
		v.nbytes = uint64(len(blks)) * uint64(geo.L.NSectr) * uint64(geo.L.NBytes)
	} else {
		v.nbytes = uint64(len(blks)) * uint64(geo.NPlanes) * uint64(geo.NPages) *
			uint64(geo.NSectors) * uint64(geo.SectorNBytes)
	}
	return v, nil
}

// NewVblkSpan creates a virtual block spanning block blk of every
// (ch, lun) in the inclusive ranges; on 2.0 devices the ranges are parallel
// unit groups and units and blk is the chunk. Channels vary fastest.
func NewVblkSpan(dev *Device, chBgn, chEnd, lunBgn, lunEnd, blk int) (*Vblk, error) {
	const op = "vblk_alloc_span"
	if dev == nil {
		return nil, NewError(op, ErrCodeInvalidArgument, "nil device")
	}
	geo := dev.Geo()
	nch, nluns := geo.NChannels, geo.NLuns
	if chBgn < 0 || chBgn > chEnd || chEnd >= nch {
		return nil, dev.errorf(op, ErrCodeInvalidArgument, "channel range %d..%d not within 0..%d", chBgn, chEnd, nch-1)
	}
	if lunBgn < 0 || lunBgn > lunEnd || lunEnd >= nluns {
		return nil, dev.errorf(op, ErrCodeInvalidArgument, "lun range %d..%d not within 0..%d", lunBgn, lunEnd, nluns-1)
	}

	addrs := make([]Addr, 0, (chEnd-chBgn+1)*(lunEnd-lunBgn+1))
	for lun := lunBgn; lun <= lunEnd; lun++ {
		for ch := chBgn; ch <= chEnd; ch++ {
			if dev.is2() {
				addrs = append(addrs, AddrS20(ch, lun, blk, 0))
			} else {
				addrs = append(addrs, AddrS12(ch, lun, 0, blk, 0, 0))
			}
		}
	}
	return NewVblk(dev, addrs)
}

// WithContext sets the parent context of the worker goroutines
func (v *Vblk) WithContext(ctx context.Context) *Vblk {
	if ctx != nil {
		v.ctx = ctx
	}
	return v
}

// Device returns the device the virtual block belongs to
func (v *Vblk) Device() *Device { return v.dev }

// Addrs returns the block (1.2) or chunk (2.0) addresses
func (v *Vblk) Addrs() []Addr { return append([]Addr(nil), v.blks...) }

// NBytes returns the capacity in bytes
func (v *Vblk) NBytes() uint64 { return v.nbytes }

// Alignment returns the unit of offsets and lengths: one virtual page
func (v *Vblk) Alignment() uint64 { return uint64(v.dev.geo.VpgNBytes) }

// PosWrite returns the write cursor
func (v *Vblk) PosWrite() uint64 { return v.posWrite }

// PosRead returns the read cursor
func (v *Vblk) PosRead() uint64 { return v.posRead }

// SetPosWrite moves the write cursor; pos must be within 0..NBytes
func (v *Vblk) SetPosWrite(pos uint64) error {
	if pos > v.nbytes {
		return v.dev.errorf("vblk_set_pos_write", ErrCodeInvalidArgument, "position %d beyond capacity %d", pos, v.nbytes)
	}
	v.posWrite = pos
	return nil
}

// SetPosRead moves the read cursor; pos must be within 0..NBytes
func (v *Vblk) SetPosRead(pos uint64) error {
	if pos > v.nbytes {
		return v.dev.errorf("vblk_set_pos_read", ErrCodeInvalidArgument, "position %d beyond capacity %d", pos, v.nbytes)
	}
	v.posRead = pos
	return nil
}

// pageAddrs returns the addresses of virtual page pg of block idx: every
// plane and sector of the page (1.2) or ws_opt consecutive sectors (2.0).
// 1.2 pages are sector-major with the planes of a sector adjacent, so a
// command split on plane boundaries still carries whole plane sets.
func (v *Vblk) pageAddrs(idx, pg int) []Addr {
	geo := &v.dev.geo
	n := geo.NPlanes * geo.NSectors
	addrs := make([]Addr, n)
	for i := range addrs {
		a := v.blks[idx]
		if v.dev.is2() {
			a.SetSectr(pg*n + i)
		} else {
			a.SetPl(i % geo.NPlanes)
			a.SetPg(pg)
			a.SetSec(i / geo.NPlanes)
		}
		addrs[i] = a
	}
	return addrs
}

// fanout runs work for tid 0..nworkers-1 on their own goroutines. Failures
// are counted and collected; every worker runs to completion.
func (v *Vblk) fanout(op string, nworkers int, work func(tid int, fail func(error) bool)) error {
	var nerr atomic.Int64
	var mu sync.Mutex
	var errs derror.MultiError

	_, abort := v.dev.settings()
	fail := func(err error) bool {
		nerr.Add(1)
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		return abort
	}

	grp := dgroup.NewGroup(v.ctx, dgroup.GroupConfig{DisableLogging: true})
	for tid := 0; tid < nworkers; tid++ {
		tid := tid
		grp.Go(fmt.Sprintf("%s-%d", op, tid), func(context.Context) error {
			work(tid, fail)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return v.dev.wrap(op, err)
	}

	if n := nerr.Load(); n > 0 {
		e := v.dev.errorf(op, ErrCodeIOError, "%d commands failed", n)
		e.Inner = errs
		var first *Error
		if errors.As(errs[0], &first) {
			e.Status, e.Result, e.Errno, e.Addr = first.Status, first.Result, first.Errno, first.Addr
		}
		return e
	}
	return nil
}

// byteCount converts a span size to the int returned by the transfer
// methods, saturating at math.MaxInt on 32-bit platforms
func byteCount(n uint64) int {
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// Erase resets every block or chunk, one worker per block. It returns the
// erased span in bytes, saturated at math.MaxInt; NBytes is exact.
func (v *Vblk) Erase() (int, error) {
	const op = "vblk_erase"
	geo := &v.dev.geo

	err := v.fanout(op, len(v.blks), func(tid int, fail func(error) bool) {
		var addrs []Addr
		if v.dev.is2() {
			addrs = []Addr{v.blks[tid]}
		} else {
			addrs = make([]Addr, geo.NPlanes)
			for pl := range addrs {
				addrs[pl] = v.blks[tid]
				addrs[pl].SetPl(pl)
			}
		}
		if _, err := v.dev.Erase(addrs, nil, v.flags); err != nil {
			fail(err)
		}
	})
	if err != nil {
		return 0, err
	}
	return byteCount(v.nbytes), nil
}

// pio transfers buf at offset, which must both be virtual page aligned and
// within capacity. Worker tid owns block tid and issues its pages in order.
func (v *Vblk) pio(op string, buf []byte, offset uint64, write bool) (int, error) {
	align := v.Alignment()
	count := uint64(len(buf))
	if count == 0 {
		return 0, nil
	}
	if offset%align != 0 || count%align != 0 {
		return 0, v.dev.errorf(op, ErrCodeInvalidArgument,
			"offset %d and count %d must be multiples of %d", offset, count, align)
	}
	if offset+count > v.nbytes {
		return 0, v.dev.errorf(op, ErrCodeInvalidArgument,
			"offset %d + count %d beyond capacity %d", offset, count, v.nbytes)
	}

	nblks := uint64(len(v.blks))
	npages := uint64(v.dev.geo.NPages)
	spgBgn := offset / align
	spgEnd := spgBgn + count/align

	nworkers := len(v.blks)
	if count/align < nblks {
		nworkers = int(count / align)
	}

	err := v.fanout(op, nworkers, func(tid int, fail func(error) bool) {
		for spg := spgBgn + uint64(tid); spg < spgEnd; spg += nblks {
			idx := int(spg % nblks)
			pg := int((spg / nblks) % npages)
			addrs := v.pageAddrs(idx, pg)
			bufOff := (spg - spgBgn) * align
			data := buf[bufOff : bufOff+align]

			var err error
			if write {
				_, err = v.dev.Write(addrs, data, nil, v.flags)
			} else {
				_, err = v.dev.Read(addrs, data, nil, v.flags)
			}
			if err != nil && fail(err) {
				return
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Pwrite writes buf at offset without moving the write cursor
func (v *Vblk) Pwrite(buf []byte, offset uint64) (int, error) {
	return v.pio("vblk_pwrite", buf, offset, true)
}

// Pread reads into buf from offset without moving the read cursor
func (v *Vblk) Pread(buf []byte, offset uint64) (int, error) {
	return v.pio("vblk_pread", buf, offset, false)
}

// Write writes buf at the write cursor and advances it
func (v *Vblk) Write(buf []byte) (int, error) {
	n, err := v.pio("vblk_write", buf, v.posWrite, true)
	if err != nil {
		return 0, err
	}
	v.posWrite += uint64(n)
	return n, nil
}

// Read reads into buf from the read cursor and advances it
func (v *Vblk) Read(buf []byte) (int, error) {
	n, err := v.pio("vblk_read", buf, v.posRead, false)
	if err != nil {
		return 0, err
	}
	v.posRead += uint64(n)
	return n, nil
}

// Pad fills the unwritten remainder with filler data and moves the write
// cursor to the capacity. It returns the number of bytes written, saturated
// like Erase.
func (v *Vblk) Pad() (int, error) {
	rem := v.nbytes - v.posWrite
	if rem == 0 {
		return 0, nil
	}

	align := v.Alignment()
	chunk := align
	if padChunkNBytes > align {
		chunk = padChunkNBytes / align * align
	}
	if chunk > rem {
		chunk = rem
	}

	buf := queue.GetBuffer(uint32(chunk))
	defer queue.PutBuffer(buf)
	BufFill(buf)

	var total uint64
	for v.posWrite < v.nbytes {
		n := v.nbytes - v.posWrite
		if n > chunk {
			n = chunk
		}
		wrote, err := v.Write(buf[:n])
		total += uint64(wrote)
		if err != nil {
			return byteCount(total), err
		}
	}
	return byteCount(total), nil
}
