// Package lightnvm provides typed, address translating access to
// Open-Channel SSDs following the LightNVM 1.2 and 2.0 specifications.
package lightnvm

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
)

// oobClampNBytes is the OOB size used when QuirkOOBTooLarge fires
const oobClampNBytes = 16

// Device is an open Open-Channel SSD
type Device struct {
	name   string
	path   string
	be     Backend
	beID   BackendID
	closed atomic.Bool

	verid  uint8
	geo    Geometry
	format *Format
	ssw    uint
	mccap  uint32
	quirks Quirks

	// Settings changed through validated setters
	mu             sync.RWMutex
	pmode          uint16
	metaMode       MetaMode
	eraseNaddrsMax int
	readNaddrsMax  int
	writeNaddrsMax int
	boundsCheck    bool
	abortOnError   bool

	bbtMu        sync.Mutex
	bbts         *bbtCache
	bbtCacheSize int

	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
}

// Open opens the device at path through cfg.Registry
func Open(path string, cfg Config) (*Device, error) {
	if cfg.Registry == nil {
		return nil, NewError("open", ErrCodeInvalidArgument, "no backend registry")
	}

	flags := 0
	if cfg.Writable {
		flags |= OpenWritable
	}
	if cfg.IOUring {
		flags |= OpenIOUring
	}

	be, id, err := cfg.Registry.Open(path, cfg.Backend, flags)
	if err != nil {
		return nil, err
	}

	dev, err := OpenBackend(path, be, id, cfg)
	if err != nil {
		be.Close()
		return nil, err
	}
	return dev, nil
}

// OpenBackend creates a device on an already opened transport. The device
// owns be from here on, unless an error is returned.
func OpenBackend(path string, be Backend, id BackendID, cfg Config) (*Device, error) {
	if be == nil {
		return nil, NewError("open", ErrCodeInvalidArgument, "nil backend")
	}

	name := filepath.Base(strings.TrimPrefix(path, SimPrefix))
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithDevice(name)

	raw, err := be.Identify()
	if err != nil {
		return nil, WrapError("identify", err)
	}

	ident, err := Derive(raw)
	if err != nil {
		return nil, err
	}

	d := &Device{
		name:           name,
		path:           path,
		be:             be,
		beID:           id,
		verid:          ident.Verid,
		geo:            ident.Geo,
		format:         ident.Format,
		ssw:            uint(ilog2(uint(ident.Geo.SectorNBytes))),
		mccap:          ident.Mccap,
		pmode:          ident.PMode,
		metaMode:       cfg.MetaMode,
		eraseNaddrsMax: NaddrMax,
		readNaddrsMax:  NaddrMax,
		writeNaddrsMax: NaddrMax,
		boundsCheck:    !cfg.NoBoundsCheck,
		abortOnError:   cfg.AbortOnError,
		bbtCacheSize:   cfg.BbtCacheSize,
		logger:         logger,
		metrics:        NewMetrics(),
	}

	d.observer = cfg.Observer
	if d.observer == nil {
		d.observer = NewMetricsObserver(d.metrics)
	}

	d.quirks = cfg.Quirks
	if sb, ok := be.(SerialBackend); ok {
		d.quirks |= QuirksFromSerial(sb.Serial(), d.verid)
	}
	d.applyQuirks()

	if cfg.PMode != nil {
		if err := d.SetPMode(*cfg.PMode); err != nil {
			return nil, err
		}
	}
	for _, lim := range []struct {
		n   int
		set func(int) error
	}{
		{cfg.EraseNaddrsMax, d.SetEraseNaddrsMax},
		{cfg.ReadNaddrsMax, d.SetReadNaddrsMax},
		{cfg.WriteNaddrsMax, d.SetWriteNaddrsMax},
	} {
		if lim.n == 0 {
			continue
		}
		if err := lim.set(lim.n); err != nil {
			return nil, err
		}
	}

	if cfg.BbtCache {
		if _, ok := be.(BbtBackend); ok && d.verid == VeridS12 {
			if err := d.SetBbtCached(true); err != nil {
				return nil, err
			}
		} else {
			d.logger.Debug("bbt cache requested but device has no bad block tables")
		}
	}

	d.logger.Info("device opened",
		"backend", id.String(),
		"verid", fmt.Sprintf("0x%02x", d.verid),
		"pmode", PModeString(d.pmode),
		"quirks", d.quirks.String(),
		"tbytes", d.geo.TBytes)

	return d, nil
}

// QuirksFromSerial returns the quirks known for a controller serial
func QuirksFromSerial(serial string, verid uint8) Quirks {
	if !strings.HasPrefix(serial, constants.CX8800ESSerial) {
		return 0
	}
	q := QuirkPModeEraseRunroll
	if verid == VeridS12 {
		q |= QuirkOOBTooLarge
	} else {
		q |= QuirkOOBRead1st4BytesNull
	}
	return q
}

// applyQuirks adjusts the geometry for quirks that change it
func (d *Device) applyQuirks() {
	if !d.quirks.Has(QuirkOOBTooLarge) {
		return
	}
	if d.geo.MetaNBytes*10 > d.geo.SectorNBytes {
		d.logger.Warn("clamping oversized OOB area",
			"meta_nbytes", d.geo.MetaNBytes, "clamp", oobClampNBytes)
		d.geo.MetaNBytes = oobClampNBytes
	}
}

// Close flushes cached bad block tables and releases the backend. A failing
// flush is logged and retried once; it never fails Close.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.bbtMu.Lock()
	cached := d.bbts != nil
	d.bbtMu.Unlock()

	if cached {
		if err := d.FlushAllBbt(); err != nil {
			d.logger.Warn("bbt flush failed on close, retrying", "error", err)
			if err := d.FlushAllBbt(); err != nil {
				d.logger.Warn("bbt flush failed on close, cached tables dropped", "error", err)
			}
		}
		d.bbtMu.Lock()
		d.bbts.purge()
		d.bbts = nil
		d.bbtMu.Unlock()
	}

	d.metrics.Stop()
	err := d.be.Close()
	d.logger.Info("device closed")

	return d.wrap("close", err)
}

// Name returns the device name derived from its path
func (d *Device) Name() string { return d.name }

// Path returns the path the device was opened with
func (d *Device) Path() string { return d.path }

// Backend returns the transport
func (d *Device) Backend() Backend { return d.be }

// BackendID returns the identifier of the transport
func (d *Device) BackendID() BackendID { return d.beID }

// Geo returns the device geometry. It must not be modified.
func (d *Device) Geo() *Geometry { return &d.geo }

// Verid returns the identify revision: VeridS12, VeridS13 or VeridS20
func (d *Device) Verid() uint8 { return d.verid }

// Format returns the device address format
func (d *Device) Format() *Format { return d.format }

// Mccap returns the media and controller capabilities
func (d *Device) Mccap() uint32 { return d.mccap }

// Quirks returns the active quirks
func (d *Device) Quirks() Quirks { return d.quirks }

// Metrics returns the built-in metrics
func (d *Device) Metrics() *Metrics { return d.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the built-in metrics
func (d *Device) MetricsSnapshot() MetricsSnapshot { return d.metrics.Snapshot() }

// Logger returns the device logger
func (d *Device) Logger() *Logger { return d.logger }

// is2 reports whether addresses use the 2.0 layout
func (d *Device) is2() bool { return d.verid == VeridS20 }

// PMode returns the default plane mode
func (d *Device) PMode() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pmode
}

// SetPMode changes the default plane mode. The mode must not use more planes
// than the device has.
func (d *Device) SetPMode(pmode uint16) error {
	need := 1
	switch pmode {
	case FlagPModeSngl:
	case FlagPModeDual:
		need = 2
	case FlagPModeQuad:
		need = 4
	default:
		return d.errorf("set_pmode", ErrCodeInvalidArgument, "invalid pmode 0x%x", pmode)
	}
	if need > d.geo.NPlanes {
		return d.errorf("set_pmode", ErrCodeInvalidArgument, "%s needs %d planes, device has %d",
			PModeString(pmode), need, d.geo.NPlanes)
	}

	d.mu.Lock()
	d.pmode = pmode
	d.mu.Unlock()
	return nil
}

// MetaMode returns the meta fill mode
func (d *Device) MetaMode() MetaMode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metaMode
}

// SetMetaMode changes the meta fill mode
func (d *Device) SetMetaMode(mode MetaMode) error {
	switch mode {
	case MetaModeNone, MetaModeAlpha, MetaModeConst:
	default:
		return d.errorf("set_meta_mode", ErrCodeInvalidArgument, "invalid meta mode %d", mode)
	}
	d.mu.Lock()
	d.metaMode = mode
	d.mu.Unlock()
	return nil
}

// naddrsUnit is the granularity of the per-opcode address limits
func (d *Device) naddrsUnit() int {
	if d.verid == VeridS12 {
		return d.geo.NPlanes
	}
	return d.geo.L.WsMin
}

func (d *Device) checkNaddrsMax(op string, n int) error {
	unit := d.naddrsUnit()
	if n <= 0 || n > NaddrMax {
		return d.errorf(op, ErrCodeInvalidArgument, "naddrs max %d not in 1..%d", n, NaddrMax)
	}
	if n%unit != 0 {
		return d.errorf(op, ErrCodeInvalidArgument, "naddrs max %d is not a multiple of %d", n, unit)
	}
	return nil
}

// EraseNaddrsMax returns the maximum addresses per erase command
func (d *Device) EraseNaddrsMax() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eraseNaddrsMax
}

// SetEraseNaddrsMax sets the maximum addresses per erase command: a positive
// multiple of nplanes (1.2) or ws_min (2.0), at most NaddrMax.
func (d *Device) SetEraseNaddrsMax(n int) error {
	if err := d.checkNaddrsMax("set_erase_naddrs_max", n); err != nil {
		return err
	}
	d.mu.Lock()
	d.eraseNaddrsMax = n
	d.mu.Unlock()
	return nil
}

// ReadNaddrsMax returns the maximum addresses per read command
func (d *Device) ReadNaddrsMax() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readNaddrsMax
}

// SetReadNaddrsMax sets the maximum addresses per read command
func (d *Device) SetReadNaddrsMax(n int) error {
	if err := d.checkNaddrsMax("set_read_naddrs_max", n); err != nil {
		return err
	}
	d.mu.Lock()
	d.readNaddrsMax = n
	d.mu.Unlock()
	return nil
}

// WriteNaddrsMax returns the maximum addresses per write command
func (d *Device) WriteNaddrsMax() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writeNaddrsMax
}

// SetWriteNaddrsMax sets the maximum addresses per write command
func (d *Device) SetWriteNaddrsMax(n int) error {
	if err := d.checkNaddrsMax("set_write_naddrs_max", n); err != nil {
		return err
	}
	d.mu.Lock()
	d.writeNaddrsMax = n
	d.mu.Unlock()
	return nil
}

// SetBoundsCheck enables or disables address validation
func (d *Device) SetBoundsCheck(on bool) {
	d.mu.Lock()
	d.boundsCheck = on
	d.mu.Unlock()
}

// SetAbortOnError selects abort-on-first-failure for multi-command calls
func (d *Device) SetAbortOnError(on bool) {
	d.mu.Lock()
	d.abortOnError = on
	d.mu.Unlock()
}

func (d *Device) settings() (boundsCheck, abort bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.boundsCheck, d.abortOnError
}

// Gen2Dev encodes a generic address in the device format
func (d *Device) Gen2Dev(a Addr) uint64 { return d.format.Gen2Dev(a) }

// Dev2Gen decodes a device address
func (d *Device) Dev2Gen(dev uint64) Addr { return d.format.Dev2Gen(dev) }

// Gen2Off converts a generic address to a byte offset. Derive only accepts
// geometries whose offsets and LBAs round-trip: sectors of at least 512
// bytes and a device format that fits 64 bits after the sector shift.
func (d *Device) Gen2Off(a Addr) uint64 { return d.Gen2Dev(a) << d.ssw }

// Off2Gen converts a byte offset to a generic address
func (d *Device) Off2Gen(off uint64) Addr { return d.Dev2Gen(off >> d.ssw) }

// Gen2LBA converts a generic address to a 512 byte LBA
func (d *Device) Gen2LBA(a Addr) uint64 { return d.Gen2Off(a) >> SectorShift }

// LBA2Gen converts a 512 byte LBA to a generic address
func (d *Device) LBA2Gen(lba uint64) Addr { return d.Off2Gen(lba << SectorShift) }

// Check validates a against the geometry; zero means in bounds
func (d *Device) Check(a Addr) BoundsMask { return d.geo.Check(a, d.verid) }

// Describe prints the fields of a in the device layout
func (d *Device) Describe(a Addr) string { return a.Describe(d.verid) }

// checkAddrs ORs the violations of every address and reports the first
// offending one.
func (d *Device) checkAddrs(op string, addrs []Addr) error {
	var mask BoundsMask
	first := -1
	for i, a := range addrs {
		if m := d.Check(a); m != 0 {
			mask |= m
			if first < 0 {
				first = i
			}
		}
	}
	if mask == 0 {
		return nil
	}
	e := NewBoundsError(op, addrs[first], mask)
	e.Device = d.name
	return e
}

func (d *Device) checkOpen(op string) error {
	if d.closed.Load() {
		return d.errorf(op, ErrCodeDeviceNotFound, "device closed")
	}
	return nil
}
