package lightnvm

import (
	"math"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVblkSpanS12(t *testing.T) {
	dev, _ := openMock(t, testGeoS12.Identify())
	geo := dev.Geo()

	v, err := NewVblkSpan(dev, 0, 1, 0, 1, 3)
	require.NoError(t, err)

	addrs := v.Addrs()
	require.Len(t, addrs, 4)
	// Channels vary fastest
	assert.Equal(t, AddrS12(0, 0, 0, 3, 0, 0), addrs[0])
	assert.Equal(t, AddrS12(1, 0, 0, 3, 0, 0), addrs[1])
	assert.Equal(t, AddrS12(0, 1, 0, 3, 0, 0), addrs[2])
	assert.Equal(t, AddrS12(1, 1, 0, 3, 0, 0), addrs[3])

	assert.Equal(t, uint64(4)*uint64(geo.NPlanes*geo.NPages*geo.NSectors*geo.SectorNBytes), v.NBytes())
	assert.Equal(t, uint64(geo.VpgNBytes), v.Alignment())
}

func TestVblkSpanInvalidRanges(t *testing.T) {
	dev, _ := openMock(t, testGeoS12.Identify())

	_, err := NewVblkSpan(dev, 1, 0, 0, 0, 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
	_, err = NewVblkSpan(dev, 0, 2, 0, 0, 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
	_, err = NewVblkSpan(dev, 0, 0, 0, 0, 8)
	assert.True(t, IsCode(err, ErrCodeOutOfBounds))
}

func TestVblkRejectsDuplicates(t *testing.T) {
	dev, _ := openMock(t, testGeoS12.Identify())
	_, err := NewVblk(dev, []Addr{AddrS12(0, 0, 0, 1, 0, 0), AddrS12(0, 0, 1, 1, 2, 0)})
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	_, err = NewVblk(dev, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}

func TestVblkStriping(t *testing.T) {
	dev, m := openMock(t, testGeoS12.Identify())
	geo := dev.Geo()
	nch, nluns, npages := geo.NChannels, geo.NLuns, geo.NPages

	v, err := NewVblkSpan(dev, 0, nch-1, 0, nluns-1, 2)
	require.NoError(t, err)

	buf := make([]byte, v.NBytes())
	_, err = v.Pwrite(buf, 0)
	require.NoError(t, err)

	npg := int(v.NBytes() / v.Alignment())
	seen := make(map[int]Addr)
	for _, c := range m.Calls() {
		require.Equal(t, OpWrite, c.Op)
		require.Len(t, c.Ppas, geo.NPlanes*geo.NSectors)
		first := dev.Dev2Gen(c.Ppas[0])
		assert.Equal(t, 0, first.Pl())
		assert.Equal(t, 0, first.Sec())
		assert.Equal(t, 2, first.Blk())
		last := dev.Dev2Gen(c.Ppas[len(c.Ppas)-1])
		assert.Equal(t, geo.NPlanes-1, last.Pl())
		assert.Equal(t, geo.NSectors-1, last.Sec())

		// Recover the virtual page index from the address
		spg := first.Pg()*nch*nluns + first.Lun()*nch + first.Ch()
		seen[spg] = first
	}
	require.Len(t, seen, npg)

	for i := 0; i < npg; i++ {
		a := seen[i]
		assert.Equal(t, i%nch, a.Ch(), "page %d", i)
		assert.Equal(t, (i/nch)%nluns, a.Lun(), "page %d", i)
		assert.Equal(t, (i/nch/nluns)%npages, a.Pg(), "page %d", i)
	}
}

func TestVblkWriteReadS20(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())

	v, err := NewVblk(dev, []Addr{AddrS20(0, 0, 1, 0), AddrS20(1, 1, 2, 0)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2*64*512), v.NBytes())

	_, err = v.Erase()
	require.NoError(t, err)
	assert.Equal(t, 2, m.CallCount(OpErase))

	bs, err := NewBufSet(dev.Geo(), int(v.NBytes()), MetaModeNone)
	require.NoError(t, err)
	bs.Fill()

	half := int(v.NBytes() / 2)
	n, err := v.Write(bs.Data[:half])
	require.NoError(t, err)
	assert.Equal(t, half, n)
	assert.Equal(t, uint64(half), v.PosWrite())

	n, err = v.Write(bs.Data[half:])
	require.NoError(t, err)
	assert.Equal(t, v.NBytes(), v.PosWrite())

	// Writes to a chunk use consecutive ws_opt sized runs
	for _, c := range m.Calls() {
		if c.Op != OpWrite {
			continue
		}
		first := dev.Dev2Gen(c.Ppas[0])
		assert.Zero(t, first.Sectr()%dev.Geo().L.WsOpt)
		for i, ppa := range c.Ppas {
			assert.Equal(t, first.Sectr()+i, dev.Dev2Gen(ppa).Sectr())
		}
	}

	bs.Clear()
	n, err = v.Read(bs.Data)
	require.NoError(t, err)
	assert.Equal(t, int(v.NBytes()), n)
	assert.Zero(t, bs.Diff())
	assert.Equal(t, v.NBytes(), v.PosRead())
}

func TestVblkAlignment(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	v, err := NewVblk(dev, []Addr{AddrS20(0, 0, 0, 0)})
	require.NoError(t, err)

	align := int(v.Alignment())
	_, err = v.Pwrite(make([]byte, align+512), 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	_, err = v.Pread(make([]byte, align), 512)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	_, err = v.Pread(make([]byte, align), v.NBytes())
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	n, err := v.Pread(nil, 0)
	assert.NoError(t, err)
	assert.Zero(t, n)

	assert.Empty(t, m.Calls())
}

func TestVblkCursorBounds(t *testing.T) {
	dev, _ := openMock(t, testGeoS20.Identify())
	v, err := NewVblk(dev, []Addr{AddrS20(0, 0, 0, 0)})
	require.NoError(t, err)

	require.NoError(t, v.SetPosWrite(v.NBytes()))
	require.NoError(t, v.SetPosRead(0))
	assert.True(t, IsCode(v.SetPosWrite(v.NBytes()+1), ErrCodeInvalidArgument))
	assert.True(t, IsCode(v.SetPosRead(v.NBytes()+1), ErrCodeInvalidArgument))

	// A full vblk refuses further writes without moving the cursor
	_, err = v.Write(make([]byte, v.Alignment()))
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
	assert.Equal(t, v.NBytes(), v.PosWrite())
}

func TestVblkPad(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	v, err := NewVblk(dev, []Addr{AddrS20(0, 1, 4, 0), AddrS20(1, 0, 4, 0)})
	require.NoError(t, err)

	_, err = v.Write(make([]byte, v.Alignment()))
	require.NoError(t, err)

	n, err := v.Pad()
	require.NoError(t, err)
	assert.Equal(t, int(v.NBytes()-v.Alignment()), n)
	assert.Equal(t, v.NBytes(), v.PosWrite())

	n, err = v.Pad()
	require.NoError(t, err)
	assert.Zero(t, n)

	// The pad pattern is readable
	buf := make([]byte, v.Alignment())
	_, err = v.Pread(buf, v.Alignment())
	require.NoError(t, err)
	want := make([]byte, len(buf))
	BufFill(want)
	assert.Equal(t, want, buf)

	assert.Positive(t, m.CallCount(OpWrite))
}

func TestVblkFailuresAreCounted(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	v, err := NewVblkSpan(dev, 0, 1, 0, 1, 0)
	require.NoError(t, err)

	m.FailOp(OpRead, Ret{Status: 0x4700}, syscall.EIO)

	buf := make([]byte, v.Alignment()*8)
	n, err := v.Read(buf)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, v.PosRead())

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrCodeIOError, e.Code)
	assert.Equal(t, uint64(0x4700), e.Status)
	assert.Equal(t, syscall.EIO, e.Errno)
	assert.Contains(t, e.Error(), "8 commands failed (op=vblk_read dev=nvme0n1")

	// Every page was attempted
	assert.Equal(t, 8, m.CallCount(OpRead))
}

func TestVblkAbortOnError(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify(), func(cfg *Config) { cfg.AbortOnError = true })
	v, err := NewVblk(dev, []Addr{AddrS20(0, 0, 0, 0)})
	require.NoError(t, err)

	m.FailOp(OpWrite, Ret{}, syscall.EIO)

	_, err = v.Pwrite(make([]byte, v.Alignment()*4), 0)
	require.Error(t, err)
	assert.Equal(t, 1, m.CallCount(OpWrite))
}

func TestDblk(t *testing.T) {
	dev, m := openMock(t, testGeoS12.Identify())

	b, err := NewDblk(dev, AddrS12(1, 1, 1, 5, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, AddrS12(1, 1, 0, 5, 0, 0), b.Addr())
	assert.Equal(t, dev.Geo().VblkNBytes, b.NBytes())

	_, err = b.Erase()
	require.NoError(t, err)
	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Ppas, dev.Geo().NPlanes)
	assert.Equal(t, FlagPModeDual, calls[0].Flags)

	page := make([]byte, b.Alignment())
	BufFill(page)
	_, err = b.Pwrite(page, b.Alignment()*2)
	require.NoError(t, err)

	got := make([]byte, len(page))
	_, err = b.Pread(got, b.Alignment()*2)
	require.NoError(t, err)
	assert.Equal(t, page, got)

	last := m.Calls()[len(m.Calls())-1]
	assert.Equal(t, 2, dev.Dev2Gen(last.Ppas[0]).Pg())
}

func TestVblkEraseReportsSpan(t *testing.T) {
	dev, _ := openMock(t, testGeoS20.Identify())
	v, err := NewVblkSpan(dev, 0, 1, 0, 1, 2)
	require.NoError(t, err)

	n, err := v.Erase()
	require.NoError(t, err)
	assert.Equal(t, int(v.NBytes()), n)
}

func TestByteCountSaturates(t *testing.T) {
	assert.Equal(t, 4096, byteCount(4096))
	assert.Equal(t, math.MaxInt, byteCount(uint64(math.MaxInt)))
	assert.Equal(t, math.MaxInt, byteCount(math.MaxUint64))
}
