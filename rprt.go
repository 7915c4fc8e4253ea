package lightnvm

import (
	"fmt"
	"syscall"
	"time"

	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// ChunkDescr describes one 2.0 chunk
type ChunkDescr struct {
	State     ChunkState `json:"state"`
	Type      ChunkType  `json:"type"`
	WearIndex uint8      `json:"wear_index"`
	Addr      Addr       `json:"addr"`   // First sector of the chunk
	NAddrs    uint64     `json:"naddrs"` // Sectors in the chunk
	Wptr      Addr       `json:"wptr"`   // Next writable sector
}

// Written returns the number of sectors written since the last reset
func (c *ChunkDescr) Written() int {
	return c.Wptr.Sectr() - c.Addr.Sectr()
}

func (opt ReportOpt) match(s ChunkState) bool {
	switch opt {
	case RprtFree:
		return s == ChunkFree
	case RprtFull:
		return s == ChunkClosed
	case RprtOpen:
		return s == ChunkOpen
	case RprtBad:
		return s == ChunkOffline
	}
	return true
}

// Report returns the chunk descriptors matching opt, for the whole device
// when addr is nil or for the parallel unit of addr.
func (d *Device) Report(addr *Addr, opt ReportOpt) ([]ChunkDescr, error) {
	const op = "rprt"
	if err := d.checkOpen(op); err != nil {
		return nil, err
	}
	if !d.is2() {
		return nil, d.errorf(op, ErrCodeNotSupported, "chunk reports need a 2.0 device")
	}
	rbe, ok := d.be.(ReportBackend)
	if !ok {
		return nil, d.errorf(op, ErrCodeNotSupported, "backend %s has no chunk report", d.beID)
	}
	if opt < RprtAll || opt > RprtBad {
		return nil, d.errorf(op, ErrCodeInvalidArgument, "invalid report option %d", opt)
	}
	if addr != nil {
		if m := d.geo.CheckS20(*addr) & (BoundsPugrp | BoundsPunit); m != 0 {
			e := NewBoundsError(op, *addr, m)
			e.Device = d.name
			return nil, e
		}
	}

	start := time.Now()
	raw, ret, err := rbe.Report()
	d.observer.ObserveCommand(OpReport, 0, uint64(len(raw)), uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		e := NewIOError(op, ret, err)
		e.Device = d.name
		return nil, e
	}

	descrs, err := uapi.DecodeRprt(raw)
	if err != nil {
		e := NewIOError(op, ret, err)
		e.Device = d.name
		return nil, e
	}

	out := make([]ChunkDescr, 0, len(descrs))
	for i := range descrs {
		c := ChunkDescr{
			State:     ChunkState(descrs[i].State),
			Type:      ChunkType(descrs[i].Type),
			WearIndex: descrs[i].Limits,
			Addr:      d.Dev2Gen(descrs[i].Addr),
			NAddrs:    descrs[i].Naddrs,
			Wptr:      d.Dev2Gen(descrs[i].Wptr),
		}
		if addr != nil && (c.Addr.Pugrp() != addr.Pugrp() || c.Addr.Punit() != addr.Punit()) {
			continue
		}
		if !opt.match(c.State) {
			continue
		}
		out = append(out, c)
	}

	return out, nil
}

// ReportFind returns the addresses of n chunks matching opt, taking one
// chunk per parallel unit in turn. When fewer match, the ones found are
// returned with an error.
func (d *Device) ReportFind(opt ReportOpt, n int) ([]Addr, error) {
	const op = "rprt_find"
	if n <= 0 {
		return nil, d.errorf(op, ErrCodeInvalidArgument, "n must be positive, got %d", n)
	}

	descrs, err := d.Report(nil, opt)
	if err != nil {
		return nil, err
	}

	npu := d.geo.L.NPugrp * d.geo.L.NPunit
	perPU := make([][]Addr, npu)
	for i := range descrs {
		a := descrs[i].Addr
		pu := a.Pugrp()*d.geo.L.NPunit + a.Punit()
		if pu >= npu {
			continue
		}
		perPU[pu] = append(perPU[pu], a)
	}

	found := make([]Addr, 0, n)
	for round := 0; len(found) < n; round++ {
		progress := false
		for pu := 0; pu < npu && len(found) < n; pu++ {
			if round < len(perPU[pu]) {
				found = append(found, perPU[pu][round])
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	if len(found) < n {
		e := NewErrorWithErrno(op, ErrCodeInsufficientMemory, syscall.ENOSPC)
		e.Device = d.name
		e.Msg = fmt.Sprintf("found %d of %d %s chunks", len(found), n, opt)
		return found, e
	}
	return found, nil
}
