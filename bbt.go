package lightnvm

import (
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/hashicorp/go-multierror"

	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// Bbt is the bad block table of one (ch, lun). Blks holds one state per
// plane-block at index blk*nplanes + pl.
type Bbt struct {
	Addr  Addr    `json:"addr"`
	NBlks int     `json:"nblks"`
	NBad  int     `json:"nbad"`
	NGBad int     `json:"ngbad"`
	NDmrk int     `json:"ndmrk"`
	NHmrk int     `json:"nhmrk"`
	Blks  []uint8 `json:"blks"`
}

// Clone returns a deep copy of b
func (b *Bbt) Clone() *Bbt {
	cp := *b
	cp.Blks = append([]uint8(nil), b.Blks...)
	return &cp
}

// State returns the state of the plane-block at index i
func (b *Bbt) State(i int) BbtState {
	return BbtState(b.Blks[i])
}

func (b *Bbt) recount() {
	b.NBlks = len(b.Blks)
	b.NBad, b.NGBad, b.NDmrk, b.NHmrk = 0, 0, 0, 0
	for _, s := range b.Blks {
		switch BbtState(s) {
		case BbtBad:
			b.NBad++
		case BbtGBad:
			b.NGBad++
		case BbtDmrk:
			b.NDmrk++
		case BbtHmrk:
			b.NHmrk++
		}
	}
}

type bbtEntry struct {
	bbt   *Bbt
	dirty bool
}

// bbtCache keeps tables keyed by parallel unit. Evicting a dirty table
// writes it back. It is guarded by Device.bbtMu.
type bbtCache struct {
	lru      *lru.Cache
	dropping bool
}

func (d *Device) newBbtCache(size int) (*bbtCache, error) {
	c := &bbtCache{}
	cache, err := lru.NewWithEvict(size, func(_, value interface{}) {
		e := value.(*bbtEntry)
		if !e.dirty || c.dropping {
			return
		}
		if err := d.writeBbt(e.bbt); err != nil {
			d.logger.Warn("bbt write-back on eviction failed",
				"ch", e.bbt.Addr.Ch(), "lun", e.bbt.Addr.Lun(), "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.lru = cache
	return c, nil
}

func (c *bbtCache) get(key int) (*bbtEntry, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*bbtEntry), true
}

func (c *bbtCache) keys() []int {
	var keys []int
	for _, k := range c.lru.Keys() {
		keys = append(keys, k.(int))
	}
	sort.Ints(keys)
	return keys
}

// purge drops every table without writing it back
func (c *bbtCache) purge() {
	c.dropping = true
	c.lru.Purge()
	c.dropping = false
}

func (d *Device) bbtKey(a Addr) int {
	return a.Ch()*d.geo.NLuns + a.Lun()
}

func (d *Device) bbtNBlks() int {
	return d.geo.NBlocks * d.geo.NPlanes
}

// BbtIndex returns the index of the plane-block of a within Bbt.Blks
func (d *Device) BbtIndex(a Addr) int {
	return a.Blk()*d.geo.NPlanes + a.Pl()
}

func (d *Device) bbtBackend(op string) (BbtBackend, error) {
	if err := d.checkOpen(op); err != nil {
		return nil, err
	}
	if d.verid != VeridS12 {
		return nil, d.errorf(op, ErrCodeNotSupported, "bad block tables need a 1.2 device")
	}
	bbe, ok := d.be.(BbtBackend)
	if !ok {
		return nil, d.errorf(op, ErrCodeNotSupported, "backend %s has no bad block tables", d.beID)
	}
	return bbe, nil
}

func (d *Device) checkPU(op string, a Addr) error {
	if m := d.geo.CheckS12(a) & (BoundsCh | BoundsLun); m != 0 {
		e := NewBoundsError(op, a, m)
		e.Device = d.name
		return e
	}
	return nil
}

// fetchBbt reads the table of the parallel unit of pu from the device
func (d *Device) fetchBbt(pu Addr) (*Bbt, error) {
	const op = "bbt_get"
	bbe := d.be.(BbtBackend)
	pu = AddrS12(pu.Ch(), pu.Lun(), 0, 0, 0, 0)
	nblks := d.bbtNBlks()

	start := time.Now()
	raw, ret, err := bbe.GetBbt(d.Gen2Dev(pu), nblks)
	d.observer.ObserveCommand(OpGetBbt, 1, uint64(len(raw)), uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		e := NewIOError(op, ret, err)
		e.Device = d.name
		e.Addr = &pu
		return nil, e
	}

	_, blks, err := uapi.DecodeBbt(raw, nblks)
	if err != nil {
		e := NewIOError(op, ret, err)
		e.Device = d.name
		e.Addr = &pu
		return nil, e
	}

	b := &Bbt{Addr: pu, Blks: blks}
	b.recount()
	return b, nil
}

// writeBbt marks every entry of b that differs from the device table, in
// commands of at most NaddrMax addresses per state.
func (d *Device) writeBbt(b *Bbt) error {
	const op = "bbt_set"
	bbe := d.be.(BbtBackend)

	cur, err := d.fetchBbt(b.Addr)
	if err != nil {
		return err
	}

	changed := make(map[BbtState][]uint64)
	for i, s := range b.Blks {
		if cur.Blks[i] == s {
			continue
		}
		a := AddrS12(b.Addr.Ch(), b.Addr.Lun(), i%d.geo.NPlanes, i/d.geo.NPlanes, 0, 0)
		changed[BbtState(s)] = append(changed[BbtState(s)], d.Gen2Dev(a))
	}

	states := make([]BbtState, 0, len(changed))
	for s := range changed {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })

	var errs *multierror.Error
	for _, s := range states {
		ppas := changed[s]
		for off := 0; off < len(ppas); off += NaddrMax {
			end := off + NaddrMax
			if end > len(ppas) {
				end = len(ppas)
			}
			start := time.Now()
			ret, err := bbe.SetBbt(ppas[off:end], uint16(s))
			d.observer.ObserveCommand(OpSetBbt, end-off, 0, uint64(time.Since(start).Nanoseconds()), err == nil)
			if err != nil {
				e := NewIOError(op, ret, err)
				e.Device = d.name
				errs = multierror.Append(errs, e)
			}
		}
	}

	return errs.ErrorOrNil()
}

// SetBbtCached turns the bad block table cache on or off. Turning it off
// flushes dirty tables first.
func (d *Device) SetBbtCached(on bool) error {
	const op = "bbt_cache"
	if _, err := d.bbtBackend(op); err != nil {
		return err
	}

	if !on {
		flushErr := d.FlushAllBbt()
		d.bbtMu.Lock()
		if d.bbts != nil {
			d.bbts.purge()
			d.bbts = nil
		}
		d.bbtMu.Unlock()
		return flushErr
	}

	d.bbtMu.Lock()
	defer d.bbtMu.Unlock()
	if d.bbts != nil {
		return nil
	}
	size := d.bbtCacheSize
	if size <= 0 {
		size = DefaultBbtCacheSize
	}
	c, err := d.newBbtCache(size)
	if err != nil {
		return d.errorf(op, ErrCodeInvalidArgument, "%v", err)
	}
	d.bbts = c
	return nil
}

// BbtCached reports whether the bad block table cache is on
func (d *Device) BbtCached() bool {
	d.bbtMu.Lock()
	defer d.bbtMu.Unlock()
	return d.bbts != nil
}

// GetBbt returns the bad block table of the (ch, lun) of addr, from the
// cache when present.
func (d *Device) GetBbt(addr Addr) (*Bbt, error) {
	const op = "bbt_get"
	if _, err := d.bbtBackend(op); err != nil {
		return nil, err
	}
	if err := d.checkPU(op, addr); err != nil {
		return nil, err
	}

	d.bbtMu.Lock()
	defer d.bbtMu.Unlock()

	key := d.bbtKey(addr)
	if d.bbts != nil {
		if e, ok := d.bbts.get(key); ok {
			return e.bbt.Clone(), nil
		}
	}

	b, err := d.fetchBbt(addr)
	if err != nil {
		return nil, err
	}
	if d.bbts != nil {
		d.bbts.lru.Add(key, &bbtEntry{bbt: b.Clone()})
	}
	return b, nil
}

// SetBbt replaces the table of bbt.Addr. With the cache on the table is
// stored and written on flush; otherwise changed entries are marked now.
func (d *Device) SetBbt(bbt *Bbt) error {
	const op = "bbt_set"
	if _, err := d.bbtBackend(op); err != nil {
		return err
	}
	if bbt == nil || len(bbt.Blks) != d.bbtNBlks() {
		return d.errorf(op, ErrCodeInvalidArgument, "table must hold %d entries", d.bbtNBlks())
	}
	for i, s := range bbt.Blks {
		if !BbtState(s).Valid() {
			return d.errorf(op, ErrCodeInvalidArgument, "entry %d has invalid state 0x%x", i, s)
		}
	}
	if err := d.checkPU(op, bbt.Addr); err != nil {
		return err
	}

	b := bbt.Clone()
	b.Addr = AddrS12(bbt.Addr.Ch(), bbt.Addr.Lun(), 0, 0, 0, 0)
	b.recount()

	d.bbtMu.Lock()
	defer d.bbtMu.Unlock()

	if d.bbts != nil {
		d.bbts.lru.Add(d.bbtKey(b.Addr), &bbtEntry{bbt: b, dirty: true})
		return nil
	}
	return d.writeBbt(b)
}

// MarkBbt sets the state of the plane-blocks at addrs. At most NaddrMax
// addresses are accepted.
func (d *Device) MarkBbt(addrs []Addr, state BbtState) error {
	const op = "bbt_mark"
	bbe, err := d.bbtBackend(op)
	if err != nil {
		return err
	}
	if !state.Valid() {
		return d.errorf(op, ErrCodeInvalidArgument, "invalid state 0x%x", uint8(state))
	}
	if len(addrs) == 0 || len(addrs) > NaddrMax {
		return d.errorf(op, ErrCodeInvalidArgument, "naddrs %d not in 1..%d", len(addrs), NaddrMax)
	}
	for _, a := range addrs {
		if m := d.geo.CheckS12(a) & (BoundsCh | BoundsLun | BoundsPl | BoundsBlk); m != 0 {
			e := NewBoundsError(op, a, m)
			e.Device = d.name
			return e
		}
	}

	d.bbtMu.Lock()
	defer d.bbtMu.Unlock()

	if d.bbts != nil {
		for _, a := range addrs {
			key := d.bbtKey(a)
			e, ok := d.bbts.get(key)
			if !ok {
				b, err := d.fetchBbt(a)
				if err != nil {
					return err
				}
				e = &bbtEntry{bbt: b}
				d.bbts.lru.Add(key, e)
			}
			e.bbt.Blks[d.BbtIndex(a)] = uint8(state)
			e.bbt.recount()
			e.dirty = true
		}
		return nil
	}

	ppas := make([]uint64, len(addrs))
	for i, a := range addrs {
		ppas[i] = d.Gen2Dev(a)
	}

	start := time.Now()
	ret, err := bbe.SetBbt(ppas, uint16(state))
	d.observer.ObserveCommand(OpSetBbt, len(ppas), 0, uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		e := NewIOError(op, ret, err)
		e.Device = d.name
		return e
	}
	return nil
}

// FlushBbt writes back the cached table of the (ch, lun) of addr if dirty
func (d *Device) FlushBbt(addr Addr) error {
	const op = "bbt_flush"
	if _, err := d.bbtBackend(op); err != nil {
		return err
	}
	if err := d.checkPU(op, addr); err != nil {
		return err
	}

	d.bbtMu.Lock()
	defer d.bbtMu.Unlock()

	if d.bbts == nil {
		return nil
	}
	e, ok := d.bbts.get(d.bbtKey(addr))
	if !ok || !e.dirty {
		return nil
	}
	if err := d.writeBbt(e.bbt); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// FlushAllBbt writes back every dirty cached table. Every table is attempted.
func (d *Device) FlushAllBbt() error {
	d.bbtMu.Lock()
	defer d.bbtMu.Unlock()

	if d.bbts == nil {
		return nil
	}

	var errs *multierror.Error
	for _, key := range d.bbts.keys() {
		v, ok := d.bbts.lru.Peek(key)
		if !ok {
			continue
		}
		e := v.(*bbtEntry)
		if !e.dirty {
			continue
		}
		if err := d.writeBbt(e.bbt); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("ch %d lun %d: %w", e.bbt.Addr.Ch(), e.bbt.Addr.Lun(), err))
			continue
		}
		e.dirty = false
	}

	if err := errs.ErrorOrNil(); err != nil {
		return WrapError("bbt_flush", err)
	}
	return nil
}
