// Package backend provides the built-in transports for go-lightnvm devices
package backend

import (
	"context"
	"fmt"
	"math/bits"
	"strings"
	"sync"
	"syscall"

	"github.com/boljen/go-bitmap"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
	"github.com/ehrlich-b/go-lightnvm/internal/queue"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// SimPrefix marks paths served by the simulator, e.g. "sim:s20"
const SimPrefix = "sim:"

// SimConfig describes a simulated Open-Channel SSD. Verid selects which of
// the geometry groups is used.
type SimConfig struct {
	Verid uint8

	// 1.2 geometry
	NChannels int
	NLuns     int
	NPlanes   int
	NBlocks   int
	NPages    int
	NSectors  int // Sectors per page

	// 2.0 geometry
	NPugrp int
	NPunit int
	NChunk int
	NSectr int
	WsMin  int
	WsOpt  int

	SectorNBytes int
	MetaNBytes   int

	// FactoryBad marks block (1.2) or chunk (2.0) b of every parallel unit
	// bad when b%FactoryBad == FactoryBad-1. Zero disables.
	FactoryBad int

	Serial   string
	Writable bool
	Logger   *logging.Logger
}

var simProfiles = map[string]SimConfig{
	"s12": {
		Verid:     constants.VeridS12,
		NChannels: 2, NLuns: 4, NPlanes: 2, NBlocks: 32, NPages: 16, NSectors: 4,
		SectorNBytes: 4096, MetaNBytes: 16,
		FactoryBad: 16,
		Serial:     "SIM12-0001",
	},
	"s20": {
		Verid:  constants.VeridS20,
		NPugrp: 2, NPunit: 4, NChunk: 32, NSectr: 256, WsMin: 4, WsOpt: 8,
		SectorNBytes: 4096, MetaNBytes: 16,
		FactoryBad: 16,
		Serial:     "SIM20-0001",
	},
}

// SimProfile returns the named built-in profile, "s12" or "s20"
func SimProfile(name string) (SimConfig, error) {
	cfg, ok := simProfiles[name]
	if !ok {
		return SimConfig{}, fmt.Errorf("unknown sim profile %q: %w", name, syscall.ENODEV)
	}
	return cfg, nil
}

// SimProfiles returns the names of the built-in profiles
func SimProfiles() []string {
	return []string{"s12", "s20"}
}

type simField struct {
	off, len uint8
}

func (f simField) get(ppa uint64) int {
	return int((ppa >> f.off) & (1<<f.len - 1))
}

func (f simField) put(v int) uint64 {
	return uint64(v) << f.off
}

// simLoc is a decoded address: sec counts sectors within the (blk, pl)
type simLoc struct {
	pu, blk, pl, sec int
}

type simChunk struct {
	state uint8
	wp    int
}

// Sim is an in-memory Open-Channel SSD. 1.2 profiles require erase before
// rewrite and keep per (ch,lun) bad block tables. 2.0 profiles keep chunk
// states and write pointers, and enforce sequential writes.
type Sim struct {
	cfg      SimConfig
	identify []byte
	logger   *logging.Logger

	// Dimensions flattened across both revisions
	npu, nblk, npl, nsec int

	// 1.2: ch lun pl blk pg sec, 2.0: pugrp punit chunk sectr
	fields map[string]simField

	mu      sync.Mutex
	closed  bool
	sectors map[int][]byte
	metas   map[int][]byte
	written bitmap.Bitmap
	bbts    [][]uint8
	bbtMod  bitmap.Bitmap
	chunks  []simChunk
	fail    map[uint8]simFailure

	erases, writes, reads, copies uint64
}

type simFailure struct {
	ret interfaces.Ret
	err error
}

func fieldBits(n int) uint8 {
	if n <= 1 {
		return 1
	}
	return uint8(bits.Len(uint(n - 1)))
}

// NewSim creates a simulated device
func NewSim(cfg SimConfig) (*Sim, error) {
	if cfg.SectorNBytes <= 0 || cfg.SectorNBytes&(cfg.SectorNBytes-1) != 0 {
		return nil, fmt.Errorf("sector size %d: %w", cfg.SectorNBytes, syscall.EINVAL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Sim{
		cfg:     cfg,
		logger:  logger,
		fields:  make(map[string]simField),
		sectors: make(map[int][]byte),
		metas:   make(map[int][]byte),
		fail:    make(map[uint8]simFailure),
	}

	var err error
	switch cfg.Verid {
	case constants.VeridS12:
		err = s.initS12()
	case constants.VeridS20:
		err = s.initS20()
	default:
		err = fmt.Errorf("verid 0x%x: %w", cfg.Verid, syscall.EINVAL)
	}
	if err != nil {
		return nil, err
	}

	s.written = bitmap.New(s.npu * s.nblk * s.npl * s.nsec)
	s.logger.Debug("created simulated device",
		"verid", cfg.Verid, "npu", s.npu, "nblk", s.nblk, "serial", cfg.Serial)

	return s, nil
}

func (s *Sim) initS12() error {
	c := s.cfg
	for _, n := range []int{c.NChannels, c.NLuns, c.NPlanes, c.NBlocks, c.NPages, c.NSectors} {
		if n <= 0 {
			return fmt.Errorf("zero 1.2 dimension: %w", syscall.EINVAL)
		}
	}
	if c.NPlanes != 1 && c.NPlanes != 2 && c.NPlanes != 4 {
		return fmt.Errorf("nplanes %d: %w", c.NPlanes, syscall.EINVAL)
	}

	s.npu = c.NChannels * c.NLuns
	s.nblk = c.NBlocks
	s.npl = c.NPlanes
	s.nsec = c.NPages * c.NSectors

	var ppaf uapi.Ppaf
	off := uint8(0)
	for _, f := range []struct {
		name     string
		off, len *uint8
		n        int
	}{
		{"sec", &ppaf.SecOff, &ppaf.SecLen, c.NSectors},
		{"pl", &ppaf.PlOff, &ppaf.PlLen, c.NPlanes},
		{"pg", &ppaf.PgOff, &ppaf.PgLen, c.NPages},
		{"blk", &ppaf.BlkOff, &ppaf.BlkLen, c.NBlocks},
		{"lun", &ppaf.LunOff, &ppaf.LunLen, c.NLuns},
		{"ch", &ppaf.ChOff, &ppaf.ChLen, c.NChannels},
	} {
		*f.off = off
		*f.len = fieldBits(f.n)
		s.fields[f.name] = simField{off: off, len: *f.len}
		off += *f.len
	}

	idfy := &uapi.IdfyS12{Verid: constants.VeridS12, Cgroups: 1, Ppaf: ppaf}
	grp := &idfy.Grp[0]
	grp.NumCh = uint8(c.NChannels)
	grp.NumLun = uint8(c.NLuns)
	grp.NumPln = uint8(c.NPlanes)
	grp.NumBlk = uint16(c.NBlocks)
	grp.NumPg = uint16(c.NPages)
	grp.FpgSz = uint16(c.NSectors * c.SectorNBytes)
	grp.Csecs = uint16(c.SectorNBytes)
	grp.Sos = uint16(c.MetaNBytes)

	buf, err := uapi.EncodeIdfy(idfy)
	if err != nil {
		return err
	}
	s.identify = buf

	s.bbts = make([][]uint8, s.npu)
	s.bbtMod = bitmap.New(s.npu)
	for pu := range s.bbts {
		s.bbts[pu] = make([]uint8, s.nblk*s.npl)
		for blk := 0; blk < s.nblk; blk++ {
			if s.factoryBad(blk) {
				for pl := 0; pl < s.npl; pl++ {
					s.bbts[pu][blk*s.npl+pl] = constants.BbtBad
				}
			}
		}
	}
	return nil
}

func (s *Sim) initS20() error {
	c := s.cfg
	for _, n := range []int{c.NPugrp, c.NPunit, c.NChunk, c.NSectr, c.WsMin, c.WsOpt} {
		if n <= 0 {
			return fmt.Errorf("zero 2.0 dimension: %w", syscall.EINVAL)
		}
	}
	if c.WsOpt%c.WsMin != 0 || c.NSectr%c.WsOpt != 0 {
		return fmt.Errorf("ws_min %d, ws_opt %d, nsectr %d: %w", c.WsMin, c.WsOpt, c.NSectr, syscall.EINVAL)
	}

	s.npu = c.NPugrp * c.NPunit
	s.nblk = c.NChunk
	s.npl = 1
	s.nsec = c.NSectr

	lbaf := uapi.Lbaf{
		PugrpLen: fieldBits(c.NPugrp),
		PunitLen: fieldBits(c.NPunit),
		ChunkLen: fieldBits(c.NChunk),
		SectrLen: fieldBits(c.NSectr),
	}
	s.fields["sectr"] = simField{off: 0, len: lbaf.SectrLen}
	s.fields["chunk"] = simField{off: lbaf.SectrLen, len: lbaf.ChunkLen}
	s.fields["punit"] = simField{off: lbaf.SectrLen + lbaf.ChunkLen, len: lbaf.PunitLen}
	s.fields["pugrp"] = simField{off: lbaf.SectrLen + lbaf.ChunkLen + lbaf.PunitLen, len: lbaf.PugrpLen}

	idfy := &uapi.IdfyS20{
		Verid: constants.VeridS20,
		Lbaf:  lbaf,
		Lgeo: uapi.Lgeo{
			Npugrp:    uint16(c.NPugrp),
			Npunit:    uint16(c.NPunit),
			Nchunk:    uint32(c.NChunk),
			Nsectr:    uint32(c.NSectr),
			Nbytes:    uint32(c.SectorNBytes),
			NbytesOOB: uint32(c.MetaNBytes),
		},
		Wrt: uapi.Wrt{WsMin: uint32(c.WsMin), WsOpt: uint32(c.WsOpt)},
	}
	buf, err := uapi.EncodeIdfy(idfy)
	if err != nil {
		return err
	}
	s.identify = buf

	s.chunks = make([]simChunk, s.npu*s.nblk)
	for i := range s.chunks {
		s.chunks[i].state = constants.ChunkStateFree
		if s.factoryBad(i % s.nblk) {
			s.chunks[i].state = constants.ChunkStateOffline
		}
	}
	return nil
}

func (s *Sim) factoryBad(blk int) bool {
	return s.cfg.FactoryBad > 0 && blk%s.cfg.FactoryBad == s.cfg.FactoryBad-1
}

func (s *Sim) is2() bool { return s.cfg.Verid == constants.VeridS20 }

// decode splits a device address, rejecting fields beyond the geometry
func (s *Sim) decode(ppa uint64) (simLoc, error) {
	f := s.fields
	var loc simLoc
	if s.is2() {
		grp, pu := f["pugrp"].get(ppa), f["punit"].get(ppa)
		loc = simLoc{pu: grp*s.cfg.NPunit + pu, blk: f["chunk"].get(ppa), sec: f["sectr"].get(ppa)}
		if grp >= s.cfg.NPugrp || pu >= s.cfg.NPunit {
			return loc, syscall.EINVAL
		}
	} else {
		ch, lun := f["ch"].get(ppa), f["lun"].get(ppa)
		pg, sec := f["pg"].get(ppa), f["sec"].get(ppa)
		loc = simLoc{pu: ch*s.cfg.NLuns + lun, blk: f["blk"].get(ppa), pl: f["pl"].get(ppa), sec: pg*s.cfg.NSectors + sec}
		if ch >= s.cfg.NChannels || lun >= s.cfg.NLuns || pg >= s.cfg.NPages || sec >= s.cfg.NSectors {
			return loc, syscall.EINVAL
		}
	}
	if loc.blk >= s.nblk || loc.pl >= s.npl || loc.sec >= s.nsec {
		return loc, syscall.EINVAL
	}
	return loc, nil
}

func (s *Sim) decodeAll(ppas []uint64) ([]simLoc, error) {
	if len(ppas) == 0 || len(ppas) > constants.NaddrMax {
		return nil, syscall.EINVAL
	}
	locs := make([]simLoc, len(ppas))
	for i, ppa := range ppas {
		loc, err := s.decode(ppa)
		if err != nil {
			s.logger.Debug("address outside geometry", "ppa", fmt.Sprintf("0x%016x", ppa))
			return nil, err
		}
		locs[i] = loc
	}
	return locs, nil
}

// chunkAddr encodes the first sector of chunk blk of parallel unit pu
func (s *Sim) chunkAddr(pu, blk int) uint64 {
	f := s.fields
	return f["pugrp"].put(pu/s.cfg.NPunit) | f["punit"].put(pu%s.cfg.NPunit) | f["chunk"].put(blk)
}

// checkPlanes rejects a 1.2 multi-plane command unless every block and
// sector it names is addressed on all planes.
func (s *Sim) checkPlanes(ppas []uint64, flags uint16) error {
	if s.is2() || flags&constants.FlagPModeMask == constants.FlagPModeSngl {
		return nil
	}
	locs, err := s.decodeAll(ppas)
	if err != nil {
		return err
	}
	planes := make(map[simLoc]int, len(locs))
	for _, l := range locs {
		key := l
		key.pl = 0
		planes[key] |= 1 << l.pl
	}
	all := 1<<s.npl - 1
	for key, got := range planes {
		if got != all {
			s.logger.Debug("multi-plane command misses planes",
				"pu", key.pu, "blk", key.blk, "sec", key.sec, "planes", fmt.Sprintf("0b%b", got))
			return syscall.EINVAL
		}
	}
	return nil
}

func (s *Sim) blockIdx(l simLoc) int { return (l.pu*s.nblk+l.blk)*s.npl + l.pl }

func (s *Sim) sectorIdx(l simLoc) int { return s.blockIdx(l)*s.nsec + l.sec }

func (s *Sim) chunk(l simLoc) *simChunk { return &s.chunks[l.pu*s.nblk+l.blk] }

func (s *Sim) bad(l simLoc) bool {
	if s.is2() {
		return s.chunk(l).state == constants.ChunkStateOffline
	}
	return s.bbts[l.pu][l.blk*s.npl+l.pl]&(constants.BbtBad|constants.BbtGBad) != 0
}

// begin runs the checks shared by every command and reports whether the
// command ends with f. The lock must be held.
func (s *Sim) begin(opcode uint8, mutating bool) (f simFailure, done bool) {
	if s.closed {
		return simFailure{err: syscall.EBADF}, true
	}
	if mutating && !s.cfg.Writable {
		return simFailure{err: syscall.EROFS}, true
	}
	if f, ok := s.fail[opcode]; ok {
		delete(s.fail, opcode)
		return f, true
	}
	return simFailure{}, false
}

func offline() (interfaces.Ret, error) {
	return interfaces.Ret{Status: constants.StatusOffline}, syscall.EIO
}

func writePtr() (interfaces.Ret, error) {
	return interfaces.Ret{Status: constants.StatusWritePtr}, syscall.EIO
}

// InjectError makes the next command with opcode fail with ret and err.
// OpcGBbt and OpcRprt share an opcode; the simulator serves only one of
// them per revision.
func (s *Sim) InjectError(opcode uint8, ret interfaces.Ret, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[opcode] = simFailure{ret: ret, err: err}
}

// Identify implements interfaces.Backend
func (s *Sim) Identify() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, syscall.EBADF
	}
	return append([]byte(nil), s.identify...), nil
}

// Serial implements interfaces.SerialBackend
func (s *Sim) Serial() string {
	return s.cfg.Serial
}

// Erase implements interfaces.Backend. Erasing a bad block or an offline
// chunk fails with StatusOffline. On 2.0 meta receives one chunk
// descriptor per address.
func (s *Sim) Erase(ppas []uint64, meta []byte, flags uint16) (interfaces.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, done := s.begin(constants.OpcErase, true); done {
		return f.ret, f.err
	}

	locs, err := s.decodeAll(ppas)
	if err != nil {
		return interfaces.Ret{}, err
	}
	if meta != nil && (!s.is2() || len(meta) < len(ppas)*uapi.RprtDescrSize) {
		return interfaces.Ret{}, syscall.EINVAL
	}
	for _, l := range locs {
		if s.bad(l) {
			s.logger.Debug("erase of bad block", "pu", l.pu, "blk", l.blk, "pl", l.pl)
			return offline()
		}
	}

	descrs := make([]uapi.RprtDescr, 0, len(locs))
	for _, l := range locs {
		s.eraseBlock(l)
		if s.is2() {
			c := s.chunk(l)
			c.state, c.wp = constants.ChunkStateFree, 0
			descrs = append(descrs, s.descr(l.pu, l.blk))
		}
	}
	if meta != nil {
		copy(meta, uapi.EncodeRprt(descrs)[uapi.RprtHdrNBytes:])
	}
	s.erases++

	return interfaces.Ret{}, nil
}

func (s *Sim) eraseBlock(l simLoc) {
	l.sec = 0
	base := s.sectorIdx(l)
	for i := base; i < base+s.nsec; i++ {
		if s.written.Get(i) {
			s.written.Set(i, false)
			delete(s.sectors, i)
			delete(s.metas, i)
		}
	}
}

// Write implements interfaces.Backend. 1.2 sectors must be erased before
// they are programmed again. 2.0 writes must start at the chunk write
// pointer and carry a multiple of ws_min sectors.
func (s *Sim) Write(ppas []uint64, data, meta []byte, flags uint16) (interfaces.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, done := s.begin(constants.OpcWrite, true); done {
		return f.ret, f.err
	}
	if err := s.checkPlanes(ppas, flags); err != nil {
		return interfaces.Ret{}, err
	}
	ret, err := s.write(ppas, data, meta)
	if err == nil {
		s.writes++
	}
	return ret, err
}

func (s *Sim) write(ppas []uint64, data, meta []byte) (interfaces.Ret, error) {
	locs, err := s.decodeAll(ppas)
	if err != nil {
		return interfaces.Ret{}, err
	}
	if len(data) < len(locs)*s.cfg.SectorNBytes {
		return interfaces.Ret{}, syscall.EINVAL
	}
	if s.is2() && len(locs)%s.cfg.WsMin != 0 {
		return interfaces.Ret{}, syscall.EINVAL
	}

	// Validate the whole command before anything is programmed
	wps := make(map[int]int)
	seen := make(map[int]struct{}, len(locs))
	for _, l := range locs {
		if s.bad(l) {
			return offline()
		}
		idx := s.sectorIdx(l)
		if _, dup := seen[idx]; dup || s.written.Get(idx) {
			return writePtr()
		}
		seen[idx] = struct{}{}

		if !s.is2() {
			continue
		}
		key := l.pu*s.nblk + l.blk
		wp, ok := wps[key]
		if !ok {
			wp = s.chunks[key].wp
		}
		if l.sec != wp {
			return writePtr()
		}
		wps[key] = wp + 1
	}

	msz := 0
	if meta != nil && s.cfg.MetaNBytes > 0 {
		msz = s.cfg.MetaNBytes
		if len(meta) < len(locs)*msz {
			return interfaces.Ret{}, syscall.EINVAL
		}
	}

	sz := s.cfg.SectorNBytes
	for i, l := range locs {
		idx := s.sectorIdx(l)
		s.written.Set(idx, true)
		s.sectors[idx] = append([]byte(nil), data[i*sz:(i+1)*sz]...)
		if msz > 0 {
			s.metas[idx] = append([]byte(nil), meta[i*msz:(i+1)*msz]...)
		}
	}
	for key, wp := range wps {
		c := &s.chunks[key]
		c.wp = wp
		c.state = constants.ChunkStateOpen
		if wp >= s.nsec {
			c.state = constants.ChunkStateClosed
		}
	}
	return interfaces.Ret{}, nil
}

// Read implements interfaces.Backend. Unwritten sectors read as zeroes and
// complete with StatusEmptyPage in the result.
func (s *Sim) Read(ppas []uint64, data, meta []byte, flags uint16) (interfaces.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, done := s.begin(constants.OpcRead, false); done {
		return f.ret, f.err
	}
	if err := s.checkPlanes(ppas, flags); err != nil {
		return interfaces.Ret{}, err
	}
	ret, err := s.read(ppas, data, meta)
	if err == nil {
		s.reads++
	}
	return ret, err
}

func (s *Sim) read(ppas []uint64, data, meta []byte) (interfaces.Ret, error) {
	locs, err := s.decodeAll(ppas)
	if err != nil {
		return interfaces.Ret{}, err
	}
	sz := s.cfg.SectorNBytes
	if len(data) < len(locs)*sz {
		return interfaces.Ret{}, syscall.EINVAL
	}
	msz := 0
	if meta != nil && s.cfg.MetaNBytes > 0 {
		msz = s.cfg.MetaNBytes
		if len(meta) < len(locs)*msz {
			return interfaces.Ret{}, syscall.EINVAL
		}
	}

	var ret interfaces.Ret
	for i, l := range locs {
		idx := s.sectorIdx(l)
		dst := data[i*sz : (i+1)*sz]
		if src, ok := s.sectors[idx]; ok {
			copy(dst, src)
		} else {
			clear(dst)
			ret.Result = constants.StatusEmptyPage
		}
		if msz == 0 {
			continue
		}
		mdst := meta[i*msz : (i+1)*msz]
		if src, ok := s.metas[idx]; ok {
			copy(mdst, src)
		} else {
			clear(mdst)
		}
	}
	return ret, nil
}

// Copy implements interfaces.Backend. The destination follows the same
// rules as Write.
func (s *Sim) Copy(src, dst []uint64, flags uint16) (interfaces.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, done := s.begin(constants.OpcCopy, true); done {
		return f.ret, f.err
	}
	if len(src) != len(dst) {
		return interfaces.Ret{}, syscall.EINVAL
	}

	data := make([]byte, len(src)*s.cfg.SectorNBytes)
	var meta []byte
	if s.cfg.MetaNBytes > 0 {
		meta = make([]byte, len(src)*s.cfg.MetaNBytes)
	}
	if ret, err := s.read(src, data, meta); err != nil {
		return ret, err
	}
	ret, err := s.write(dst, data, meta)
	if err == nil {
		s.copies++
	}
	return ret, err
}

// GetBbt implements interfaces.BbtBackend
func (s *Sim) GetBbt(ppa uint64, nblks int) ([]byte, interfaces.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, done := s.begin(constants.OpcGBbt, false); done {
		return nil, f.ret, f.err
	}
	if s.is2() {
		return nil, interfaces.Ret{}, syscall.ENOSYS
	}
	l, err := s.decode(ppa)
	if err != nil {
		return nil, interfaces.Ret{}, err
	}
	if nblks != s.nblk*s.npl {
		return nil, interfaces.Ret{}, syscall.EINVAL
	}
	return uapi.EncodeBbt(s.bbts[l.pu]), interfaces.Ret{}, nil
}

// SetBbt implements interfaces.BbtBackend
func (s *Sim) SetBbt(ppas []uint64, state uint16) (interfaces.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, done := s.begin(constants.OpcSBbt, true); done {
		return f.ret, f.err
	}
	if s.is2() {
		return interfaces.Ret{}, syscall.ENOSYS
	}
	switch state {
	case constants.BbtFree, constants.BbtBad, constants.BbtGBad, constants.BbtDmrk, constants.BbtHmrk:
	default:
		return interfaces.Ret{}, syscall.EINVAL
	}
	locs, err := s.decodeAll(ppas)
	if err != nil {
		return interfaces.Ret{}, err
	}
	for _, l := range locs {
		s.bbts[l.pu][l.blk*s.npl+l.pl] = uint8(state)
		s.bbtMod.Set(l.pu, true)
	}
	return interfaces.Ret{}, nil
}

func (s *Sim) descr(pu, blk int) uapi.RprtDescr {
	c := &s.chunks[pu*s.nblk+blk]
	slba := s.chunkAddr(pu, blk)
	return uapi.RprtDescr{
		State:  c.state,
		Type:   constants.ChunkTypeWSeq,
		Addr:   slba,
		Naddrs: uint64(s.nsec),
		Wptr:   slba + uint64(c.wp),
	}
}

// Report implements interfaces.ReportBackend
func (s *Sim) Report() ([]byte, interfaces.Ret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, done := s.begin(constants.OpcRprt, false); done {
		return nil, f.ret, f.err
	}
	if !s.is2() {
		return nil, interfaces.Ret{}, syscall.ENOSYS
	}

	descrs := make([]uapi.RprtDescr, 0, len(s.chunks))
	for pu := 0; pu < s.npu; pu++ {
		for blk := 0; blk < s.nblk; blk++ {
			descrs = append(descrs, s.descr(pu, blk))
		}
	}
	return uapi.EncodeRprt(descrs), interfaces.Ret{}, nil
}

// NewAsync implements interfaces.AsyncBackend. Commands run on runner
// goroutines and serialize on the simulator lock.
func (s *Sim) NewAsync(depth int) (interfaces.AsyncContext, error) {
	r, err := queue.NewRunner(context.Background(), queue.Config{
		Depth:  depth,
		Logger: s.logger,
		Executor: func(cmd *interfaces.Command) (interfaces.Ret, error) {
			switch cmd.Opcode {
			case constants.OpcErase:
				return s.Erase(cmd.Ppas, cmd.Meta, cmd.Flags)
			case constants.OpcWrite:
				return s.Write(cmd.Ppas, cmd.Data, cmd.Meta, cmd.Flags)
			case constants.OpcRead:
				return s.Read(cmd.Ppas, cmd.Data, cmd.Meta, cmd.Flags)
			case constants.OpcCopy:
				return s.Copy(cmd.Ppas, cmd.Dst, cmd.Flags)
			}
			return interfaces.Ret{}, syscall.ENOSYS
		},
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close implements interfaces.Backend and releases the stored sectors
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.sectors = nil
	s.metas = nil
	return nil
}

// Stats returns simulator statistics
func (s *Sim) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]interface{}{
		"type":            "sim",
		"verid":           s.cfg.Verid,
		"sectors_written": len(s.sectors),
		"erases":          s.erases,
		"writes":          s.writes,
		"reads":           s.reads,
		"copies":          s.copies,
	}
	if s.is2() {
		counts := make(map[uint8]int)
		for _, c := range s.chunks {
			counts[c.state]++
		}
		stats["chunks_free"] = counts[constants.ChunkStateFree]
		stats["chunks_open"] = counts[constants.ChunkStateOpen]
		stats["chunks_closed"] = counts[constants.ChunkStateClosed]
		stats["chunks_offline"] = counts[constants.ChunkStateOffline]
	} else {
		modified := 0
		for pu := 0; pu < s.npu; pu++ {
			if s.bbtMod.Get(pu) {
				modified++
			}
		}
		stats["bbts_modified"] = modified
	}
	return stats
}

// OpenSim is the Opener for SimPrefix paths. The part after the prefix
// names a profile.
func OpenSim(path string, flags int) (interfaces.Backend, error) {
	if !strings.HasPrefix(path, SimPrefix) {
		return nil, syscall.ENODEV
	}
	cfg, err := SimProfile(strings.TrimPrefix(path, SimPrefix))
	if err != nil {
		return nil, err
	}
	cfg.Writable = flags&interfaces.OpenWritable != 0
	cfg.Logger = logging.Default().WithDevice(path)
	return NewSim(cfg)
}

var (
	_ interfaces.BbtBackend    = (*Sim)(nil)
	_ interfaces.ReportBackend = (*Sim)(nil)
	_ interfaces.SerialBackend = (*Sim)(nil)
	_ interfaces.AsyncBackend  = (*Sim)(nil)
)
