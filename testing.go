package lightnvm

import (
	"context"
	"math/bits"
	"sync"
	"syscall"

	"github.com/ehrlich-b/go-lightnvm/internal/queue"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// MockGeoS12 describes the 1.2 device returned by its Identify method
type MockGeoS12 struct {
	NChannels    int
	NLuns        int
	NPlanes      int
	NBlocks      int
	NPages       int
	NSectors     int // Sectors per page
	SectorNBytes int
	MetaNBytes   int
}

// MockGeoS20 describes the 2.0 device returned by its Identify method
type MockGeoS20 struct {
	NPugrp    int
	NPunit    int
	NChunk    int
	NSectr    int
	NBytes    int
	NBytesOOB int
	WsMin     int
	WsOpt     int
}

// fieldBits returns the address bits needed for n values, at least one
func fieldBits(n int) uint8 {
	if n <= 1 {
		return 1
	}
	return uint8(bits.Len(uint(n - 1)))
}

// Identify encodes g as a 1.2 identify payload. Fields are packed from the
// least significant bit as sec, pl, pg, blk, lun, ch.
func (g MockGeoS12) Identify() []byte {
	var ppaf uapi.Ppaf
	off := uint8(0)
	for _, f := range []struct {
		off, len *uint8
		n        int
	}{
		{&ppaf.SecOff, &ppaf.SecLen, g.NSectors},
		{&ppaf.PlOff, &ppaf.PlLen, g.NPlanes},
		{&ppaf.PgOff, &ppaf.PgLen, g.NPages},
		{&ppaf.BlkOff, &ppaf.BlkLen, g.NBlocks},
		{&ppaf.LunOff, &ppaf.LunLen, g.NLuns},
		{&ppaf.ChOff, &ppaf.ChLen, g.NChannels},
	} {
		*f.off = off
		*f.len = fieldBits(f.n)
		off += *f.len
	}

	idfy := &uapi.IdfyS12{Verid: VeridS12, Cgroups: 1, Ppaf: ppaf}
	grp := &idfy.Grp[0]
	grp.NumCh = uint8(g.NChannels)
	grp.NumLun = uint8(g.NLuns)
	grp.NumPln = uint8(g.NPlanes)
	grp.NumBlk = uint16(g.NBlocks)
	grp.NumPg = uint16(g.NPages)
	grp.FpgSz = uint16(g.NSectors * g.SectorNBytes)
	grp.Csecs = uint16(g.SectorNBytes)
	grp.Sos = uint16(g.MetaNBytes)

	buf, _ := uapi.EncodeIdfy(idfy)
	return buf
}

// Identify encodes g as a 2.0 identify payload
func (g MockGeoS20) Identify() []byte {
	idfy := &uapi.IdfyS20{
		Verid: VeridS20,
		Lbaf: uapi.Lbaf{
			PugrpLen: fieldBits(g.NPugrp),
			PunitLen: fieldBits(g.NPunit),
			ChunkLen: fieldBits(g.NChunk),
			SectrLen: fieldBits(g.NSectr),
		},
		Lgeo: uapi.Lgeo{
			Npugrp:    uint16(g.NPugrp),
			Npunit:    uint16(g.NPunit),
			Nchunk:    uint32(g.NChunk),
			Nsectr:    uint32(g.NSectr),
			Nbytes:    uint32(g.NBytes),
			NbytesOOB: uint32(g.NBytesOOB),
		},
		Wrt: uapi.Wrt{WsMin: uint32(g.WsMin), WsOpt: uint32(g.WsOpt)},
	}
	buf, _ := uapi.EncodeIdfy(idfy)
	return buf
}

// MockCall is one command seen by MockBackend
type MockCall struct {
	Op    Op
	Ppas  []uint64
	Dst   []uint64
	Flags uint16
	State uint16 // Bad block state of SetBbt
	NData int
	NMeta int
}

type mockFailure struct {
	ret Ret
	err error
}

type mockChunk struct {
	state ChunkState
	wp    int
}

// MockBackend is an in-memory Backend recording every command. Sectors are
// stored by their device address. It implements every optional backend
// interface; bad block tables and chunk reports follow the identify
// geometry.
type MockBackend struct {
	mu       sync.Mutex
	identify []byte
	ident    *Identity
	serial   string
	closed   bool

	sectors map[uint64][]byte
	metas   map[uint64][]byte
	bbts    map[uint64][]uint8
	chunks  map[Addr]*mockChunk

	calls  []MockCall
	failOp map[Op]mockFailure
	failAt map[int]mockFailure
}

// NewMockBackend creates a mock answering Identify with identify
func NewMockBackend(identify []byte) *MockBackend {
	m := &MockBackend{
		identify: append([]byte(nil), identify...),
		sectors:  make(map[uint64][]byte),
		metas:    make(map[uint64][]byte),
		bbts:     make(map[uint64][]uint8),
		chunks:   make(map[Addr]*mockChunk),
		failOp:   make(map[Op]mockFailure),
		failAt:   make(map[int]mockFailure),
	}
	if ident, err := Derive(identify); err == nil {
		m.ident = ident
	}
	return m
}

// SetSerial sets the controller serial reported to quirk detection
func (m *MockBackend) SetSerial(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serial = serial
}

// FailOp makes every following command of op fail with ret and err
func (m *MockBackend) FailOp(op Op, ret Ret, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOp[op] = mockFailure{ret, err}
}

// FailCall makes the command with zero based index n fail with ret and err
func (m *MockBackend) FailCall(n int, ret Ret, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt[n] = mockFailure{ret, err}
}

// ClearFailures removes every injected failure
func (m *MockBackend) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOp = make(map[Op]mockFailure)
	m.failAt = make(map[int]mockFailure)
}

// Calls returns a copy of the recorded commands
func (m *MockBackend) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of recorded commands of op
func (m *MockBackend) CallCount(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets recorded commands
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// IsClosed reports whether Close was called
func (m *MockBackend) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetChunkState forces the state of the 2.0 chunk holding a
func (m *MockBackend) SetChunkState(a Addr, state ChunkState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunk(a).state = state
}

// record appends a call and returns the injected failure, if any. The
// caller holds m.mu.
func (m *MockBackend) record(c MockCall) (mockFailure, bool) {
	c.Ppas = append([]uint64(nil), c.Ppas...)
	if c.Dst != nil {
		c.Dst = append([]uint64(nil), c.Dst...)
	}
	idx := len(m.calls)
	m.calls = append(m.calls, c)

	if m.closed {
		return mockFailure{err: syscall.EBADF}, true
	}
	if f, ok := m.failAt[idx]; ok {
		return f, true
	}
	if f, ok := m.failOp[c.Op]; ok {
		return f, true
	}
	return mockFailure{}, false
}

func (m *MockBackend) geo() *Geometry {
	if m.ident == nil {
		return nil
	}
	return &m.ident.Geo
}

func (m *MockBackend) is2() bool {
	return m.ident != nil && m.ident.Verid == VeridS20
}

func (m *MockBackend) decode(ppa uint64) Addr {
	return m.ident.Format.Dev2Gen(ppa)
}

// blockOf clears the sub-block fields of a
func (m *MockBackend) blockOf(a Addr) Addr {
	if m.is2() {
		return AddrS20(a.Pugrp(), a.Punit(), a.Chunk(), 0)
	}
	return AddrS12(a.Ch(), a.Lun(), 0, a.Blk(), 0, 0)
}

func (m *MockBackend) chunk(a Addr) *mockChunk {
	key := m.blockOf(a)
	c, ok := m.chunks[key]
	if !ok {
		c = &mockChunk{state: ChunkFree}
		m.chunks[key] = c
	}
	return c
}

// Identify implements Backend
func (m *MockBackend) Identify() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, syscall.EBADF
	}
	return append([]byte(nil), m.identify...), nil
}

// Erase implements Backend. Sectors of the erased blocks read back as zeroes.
func (m *MockBackend) Erase(ppas []uint64, meta []byte, flags uint16) (Ret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.record(MockCall{Op: OpErase, Ppas: ppas, Flags: flags, NMeta: len(meta)}); ok {
		return f.ret, f.err
	}
	if m.ident == nil {
		return Ret{}, nil
	}

	erased := make(map[Addr]struct{}, len(ppas))
	for _, ppa := range ppas {
		erased[m.blockOf(m.decode(ppa))] = struct{}{}
	}
	for ppa := range m.sectors {
		if _, ok := erased[m.blockOf(m.decode(ppa))]; ok {
			delete(m.sectors, ppa)
			delete(m.metas, ppa)
		}
	}

	descrs := make([]uapi.RprtDescr, 0, len(ppas))
	for _, ppa := range ppas {
		a := m.decode(ppa)
		c := m.chunk(a)
		c.state, c.wp = ChunkFree, 0
		descrs = append(descrs, m.descr(m.blockOf(a), c))
	}
	if meta != nil && m.is2() {
		copy(meta, uapi.EncodeRprt(descrs)[uapi.RprtHdrNBytes:])
	}
	return Ret{}, nil
}

// Write implements Backend
func (m *MockBackend) Write(ppas []uint64, data, meta []byte, flags uint16) (Ret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.record(MockCall{Op: OpWrite, Ppas: ppas, Flags: flags, NData: len(data), NMeta: len(meta)}); ok {
		return f.ret, f.err
	}

	sz, msz := m.strides(len(ppas), data, meta)
	for i, ppa := range ppas {
		m.sectors[ppa] = append([]byte(nil), data[i*sz:(i+1)*sz]...)
		if meta != nil && msz > 0 {
			m.metas[ppa] = append([]byte(nil), meta[i*msz:(i+1)*msz]...)
		}
		if m.is2() {
			a := m.decode(ppa)
			c := m.chunk(a)
			if a.Sectr() >= c.wp {
				c.wp = a.Sectr() + 1
			}
			c.state = ChunkOpen
			if c.wp >= m.ident.Geo.L.NSectr {
				c.state = ChunkClosed
			}
		}
	}
	return Ret{}, nil
}

// Read implements Backend. Unwritten sectors read as zeroes.
func (m *MockBackend) Read(ppas []uint64, data, meta []byte, flags uint16) (Ret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.record(MockCall{Op: OpRead, Ppas: ppas, Flags: flags, NData: len(data), NMeta: len(meta)}); ok {
		return f.ret, f.err
	}

	sz, msz := m.strides(len(ppas), data, meta)
	for i, ppa := range ppas {
		dst := data[i*sz : (i+1)*sz]
		if s, ok := m.sectors[ppa]; ok {
			copy(dst, s)
		} else {
			clear(dst)
		}
		if meta == nil || msz == 0 {
			continue
		}
		mdst := meta[i*msz : (i+1)*msz]
		if s, ok := m.metas[ppa]; ok {
			copy(mdst, s)
		} else {
			clear(mdst)
		}
	}
	return Ret{}, nil
}

func (m *MockBackend) strides(n int, data, meta []byte) (int, int) {
	if n == 0 {
		return 0, 0
	}
	return len(data) / n, len(meta) / n
}

// Copy implements Backend
func (m *MockBackend) Copy(src, dst []uint64, flags uint16) (Ret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.record(MockCall{Op: OpCopy, Ppas: src, Dst: dst, Flags: flags}); ok {
		return f.ret, f.err
	}
	for i := range src {
		if s, ok := m.sectors[src[i]]; ok {
			m.sectors[dst[i]] = append([]byte(nil), s...)
		} else {
			delete(m.sectors, dst[i])
		}
	}
	return Ret{}, nil
}

// Close implements Backend
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Serial implements SerialBackend
func (m *MockBackend) Serial() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serial
}

func (m *MockBackend) bbt(pu uint64, nblks int) []uint8 {
	b, ok := m.bbts[pu]
	if !ok {
		b = make([]uint8, nblks)
		m.bbts[pu] = b
	}
	return b
}

func (m *MockBackend) puKey(a Addr) uint64 {
	return m.ident.Format.Gen2Dev(AddrS12(a.Ch(), a.Lun(), 0, 0, 0, 0))
}

// GetBbt implements BbtBackend
func (m *MockBackend) GetBbt(ppa uint64, nblks int) ([]byte, Ret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.record(MockCall{Op: OpGetBbt, Ppas: []uint64{ppa}}); ok {
		return nil, f.ret, f.err
	}
	if m.ident == nil || m.is2() {
		return nil, Ret{}, syscall.ENOSYS
	}
	return uapi.EncodeBbt(m.bbt(m.puKey(m.decode(ppa)), nblks)), Ret{}, nil
}

// SetBbt implements BbtBackend
func (m *MockBackend) SetBbt(ppas []uint64, state uint16) (Ret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.record(MockCall{Op: OpSetBbt, Ppas: ppas, State: state}); ok {
		return f.ret, f.err
	}
	if m.ident == nil || m.is2() {
		return Ret{}, syscall.ENOSYS
	}
	geo := m.geo()
	for _, ppa := range ppas {
		a := m.decode(ppa)
		b := m.bbt(m.puKey(a), geo.NBlocks*geo.NPlanes)
		b[a.Blk()*geo.NPlanes+a.Pl()] = uint8(state)
	}
	return Ret{}, nil
}

func (m *MockBackend) descr(blk Addr, c *mockChunk) uapi.RprtDescr {
	wp := blk
	wp.SetSectr(c.wp)
	return uapi.RprtDescr{
		State:  uint8(c.state),
		Type:   uint8(ChunkWSeq),
		Addr:   m.ident.Format.Gen2Dev(blk),
		Naddrs: uint64(m.ident.Geo.L.NSectr),
		Wptr:   m.ident.Format.Gen2Dev(wp),
	}
}

// Report implements ReportBackend
func (m *MockBackend) Report() ([]byte, Ret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.record(MockCall{Op: OpReport}); ok {
		return nil, f.ret, f.err
	}
	if !m.is2() {
		return nil, Ret{}, syscall.ENOSYS
	}

	l := &m.ident.Geo.L
	descrs := make([]uapi.RprtDescr, 0, l.NPugrp*l.NPunit*l.NChunk)
	for grp := 0; grp < l.NPugrp; grp++ {
		for pu := 0; pu < l.NPunit; pu++ {
			for chk := 0; chk < l.NChunk; chk++ {
				blk := AddrS20(grp, pu, chk, 0)
				descrs = append(descrs, m.descr(blk, m.chunk(blk)))
			}
		}
	}
	return uapi.EncodeRprt(descrs), Ret{}, nil
}

// NewAsync implements AsyncBackend on top of the synchronous methods
func (m *MockBackend) NewAsync(depth int) (AsyncContext, error) {
	r, err := queue.NewRunner(context.Background(), queue.Config{
		Depth: depth,
		Executor: func(cmd *Command) (Ret, error) {
			switch cmd.Opcode {
			case OpcErase:
				return m.Erase(cmd.Ppas, cmd.Meta, cmd.Flags)
			case OpcWrite:
				return m.Write(cmd.Ppas, cmd.Data, cmd.Meta, cmd.Flags)
			case OpcRead:
				return m.Read(cmd.Ppas, cmd.Data, cmd.Meta, cmd.Flags)
			}
			return Ret{}, syscall.ENOSYS
		},
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

var (
	_ BbtBackend    = (*MockBackend)(nil)
	_ ReportBackend = (*MockBackend)(nil)
	_ SerialBackend = (*MockBackend)(nil)
	_ AsyncBackend  = (*MockBackend)(nil)
)
