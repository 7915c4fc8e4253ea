package lightnvm

import (
	"context"
)

// Bp bundles what a test or tool needs to exercise a device: the open
// device, a virtual block over naddrs parallel units and a filled buffer
// set the size of the virtual block.
type Bp struct {
	Dev   *Device
	Vblk  *Vblk
	Bufs  *BufSet
	Addrs []Addr
}

// NewBp opens path and prepares a virtual block over naddrs free chunks
// (2.0) or block 0 of the first naddrs (ch,lun) pairs (1.2).
func NewBp(ctx context.Context, path string, cfg Config, naddrs int) (*Bp, error) {
	dev, err := Open(path, cfg)
	if err != nil {
		return nil, err
	}
	bp, err := newBp(ctx, dev, naddrs)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return bp, nil
}

func newBp(ctx context.Context, dev *Device, naddrs int) (*Bp, error) {
	const op = "bp_init"
	geo := dev.Geo()
	if naddrs <= 0 || naddrs > geo.NChannels*geo.NLuns {
		return nil, dev.errorf(op, ErrCodeInvalidArgument, "naddrs %d not in 1..%d", naddrs, geo.NChannels*geo.NLuns)
	}

	var addrs []Addr
	if dev.is2() {
		found, err := dev.ReportFind(RprtFree, naddrs)
		if err != nil {
			return nil, err
		}
		addrs = found
	} else {
		addrs = make([]Addr, naddrs)
		for i := range addrs {
			addrs[i] = AddrS12(i%geo.NChannels, (i/geo.NChannels)%geo.NLuns, 0, 0, 0, 0)
		}
	}

	vblk, err := NewVblk(dev, addrs)
	if err != nil {
		return nil, err
	}
	vblk.WithContext(ctx)

	bufs, err := NewBufSet(geo, int(vblk.NBytes()), dev.MetaMode())
	if err != nil {
		return nil, err
	}
	bufs.Fill()

	return &Bp{Dev: dev, Vblk: vblk, Bufs: bufs, Addrs: addrs}, nil
}

// Close closes the device
func (bp *Bp) Close() error {
	return bp.Dev.Close()
}
