package lightnvm

import (
	"bytes"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

func TestBatchSize(t *testing.T) {
	tests := []struct {
		n, max, want int
	}{
		{130, 64, 26},
		{128, 64, 64},
		{64, 64, 64},
		{7, 64, 7},
		{97, 64, 1},
		{0, 64, 0},
		{10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BatchSize(tt.n, tt.max), "BatchSize(%d, %d)", tt.n, tt.max)
	}
}

func TestBatchSizeProperties(t *testing.T) {
	for n := 1; n <= 300; n++ {
		for _, max := range []int{1, 2, 4, 8, 16, 32, 64} {
			s := BatchSize(n, max)
			require.Positive(t, s)
			require.LessOrEqual(t, s, max)
			require.Zero(t, n%s, "n=%d max=%d s=%d", n, max, s)
		}
	}
}

func TestBatchSizeUnit(t *testing.T) {
	tests := []struct {
		n, max, unit, want int
	}{
		{20, 8, 4, 4},
		{24, 8, 4, 8},
		{48, 64, 4, 48},
		{8, 6, 2, 4},
		{130, 64, 1, 26},
		{130, 64, 4, 26}, // not unit aligned
		{16, 2, 4, 2},    // limit below the unit
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BatchSizeUnit(tt.n, tt.max, tt.unit),
			"BatchSizeUnit(%d, %d, %d)", tt.n, tt.max, tt.unit)
	}

	for n := 4; n <= 256; n += 4 {
		for _, max := range []int{4, 8, 12, 16, 24, 32, 64} {
			s := BatchSizeUnit(n, max, 4)
			require.LessOrEqual(t, s, max)
			require.Zero(t, s%4, "n=%d max=%d s=%d", n, max, s)
			require.Zero(t, n%s, "n=%d max=%d s=%d", n, max, s)
		}
	}
}

func TestWriteBatchesAreWholeWsMin(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	require.NoError(t, dev.SetWriteNaddrsMax(8))

	addrs := sectorAddrs(20)
	data := make([]byte, len(addrs)*dev.Geo().SectorNBytes)
	_, err := dev.Write(addrs, data, nil, 0)
	require.NoError(t, err)

	calls := m.Calls()
	require.Len(t, calls, 5)
	for _, c := range calls {
		assert.Len(t, c.Ppas, dev.Geo().L.WsMin)
	}

	// Reads carry no write unit
	m.Reset()
	_, err = dev.Read(sectorAddrs(6), make([]byte, 6*dev.Geo().SectorNBytes), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CallCount(OpRead))
}

func TestMultiPlaneBatchesKeepPlaneSets(t *testing.T) {
	dev, m := openMock(t, testGeoS12.Identify())
	require.Equal(t, FlagPModeDual, dev.PMode())
	require.NoError(t, dev.SetWriteNaddrsMax(6))

	v, err := NewVblk(dev, []Addr{AddrS12(0, 0, 0, 1, 0, 0)})
	require.NoError(t, err)
	_, err = v.Pwrite(make([]byte, v.Alignment()), 0)
	require.NoError(t, err)

	calls := m.Calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, FlagPModeDual, c.Flags)
		require.Len(t, c.Ppas, 4)
		planes := make(map[int]int)
		for _, ppa := range c.Ppas {
			a := dev.Dev2Gen(ppa)
			planes[a.Sec()] |= 1 << a.Pl()
		}
		for sec, got := range planes {
			assert.Equal(t, 0b11, got, "sector %d", sec)
		}
	}
}

// sectorAddrs returns n consecutive 2.0 sector addresses starting at sectr 0
// of chunk 0 in the first parallel unit.
func sectorAddrs(n int) []Addr {
	addrs := make([]Addr, n)
	for i := range addrs {
		addrs[i] = AddrS20(0, 0, i/64, i%64)
	}
	return addrs
}

func TestWriteReadRoundTrip(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	geo := dev.Geo()

	addrs := sectorAddrs(130)
	data := make([]byte, len(addrs)*geo.SectorNBytes)
	BufFill(data)
	meta := make([]byte, len(addrs)*geo.MetaNBytes)
	BufFillMeta(meta, geo.MetaNBytes, MetaModeAlpha)

	_, err := dev.Write(addrs, data, meta, 0)
	require.NoError(t, err)

	writes := m.Calls()
	require.Len(t, writes, 5)
	for _, c := range writes {
		assert.Equal(t, OpWrite, c.Op)
		assert.Len(t, c.Ppas, 26)
		assert.Equal(t, 26*geo.SectorNBytes, c.NData)
	}

	got := make([]byte, len(data))
	gotMeta := make([]byte, len(meta))
	_, err = dev.Read(addrs, got, gotMeta, 0)
	require.NoError(t, err)
	assert.Zero(t, BufDiff(data, got))
	assert.Equal(t, meta, gotMeta)

	snap := dev.MetricsSnapshot()
	assert.Equal(t, uint64(5), snap.Write.Ops)
	assert.Equal(t, uint64(130), snap.Read.Addrs)
}

func TestNaddrsMaxLimitsBatches(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	require.NoError(t, dev.SetWriteNaddrsMax(8))

	addrs := sectorAddrs(32)
	data := make([]byte, 32*dev.Geo().SectorNBytes)
	_, err := dev.Write(addrs, data, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, m.CallCount(OpWrite))
}

func TestNaddrsMaxValidation(t *testing.T) {
	dev, _ := openMock(t, testGeoS20.Identify())

	assert.Error(t, dev.SetReadNaddrsMax(0))
	assert.Error(t, dev.SetReadNaddrsMax(65))
	assert.Error(t, dev.SetReadNaddrsMax(6)) // not a multiple of ws_min
	assert.NoError(t, dev.SetReadNaddrsMax(12))
	assert.Equal(t, 12, dev.ReadNaddrsMax())

	s12, _ := openMock(t, testGeoS12.Identify())
	assert.Error(t, s12.SetEraseNaddrsMax(3))
	assert.NoError(t, s12.SetEraseNaddrsMax(2))
}

func TestBoundsAllOrNothing(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())

	addrs := sectorAddrs(4)
	addrs = append(addrs, AddrS20(2, 0, 8, 0))
	data := make([]byte, len(addrs)*dev.Geo().SectorNBytes)

	_, err := dev.Write(addrs, data, nil, 0)
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrCodeOutOfBounds, e.Code)
	assert.Equal(t, BoundsPugrp|BoundsChunk, e.Bounds)
	assert.Equal(t, AddrS20(2, 0, 8, 0), *e.Addr)
	assert.Empty(t, m.Calls())

	// Disabled checks let the command through
	dev.SetBoundsCheck(false)
	_, err = dev.Write(addrs, data, nil, 0)
	assert.NoError(t, err)
}

func TestBufferValidation(t *testing.T) {
	dev, _ := openMock(t, testGeoS20.Identify())
	addrs := sectorAddrs(4)

	_, err := dev.Write(addrs, nil, nil, 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	_, err = dev.Read(addrs, make([]byte, 3*512), nil, 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	_, err = dev.Read(addrs, make([]byte, 4*512), make([]byte, 8), 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))

	_, err = dev.Write(nil, nil, nil, 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}

func TestBestEffortFailure(t *testing.T) {
	var logs bytes.Buffer
	dev, m := openMock(t, testGeoS20.Identify(), capture(&logs))
	require.NoError(t, dev.SetWriteNaddrsMax(4))

	m.FailCall(1, Ret{Status: 0x42F0, Result: 1}, syscall.EIO)
	m.FailCall(3, Ret{Status: 0x4281}, syscall.EIO)

	addrs := sectorAddrs(16)
	data := make([]byte, 16*512)
	_, err := dev.Write(addrs, data, nil, 0)
	require.Error(t, err)

	// Every batch was attempted
	assert.Equal(t, 4, m.CallCount(OpWrite))

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrCodeIOError, e.Code)
	assert.Equal(t, uint64(0x42F0), e.Status)
	assert.Equal(t, uint32(1), e.Result)
	assert.Equal(t, addrs[4], *e.Addr)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Contains(t, e.Msg, "2 errors occurred")

	assert.Contains(t, logs.String(), "command failed")
	assert.Equal(t, uint64(2), dev.MetricsSnapshot().Write.Errors)
}

func TestAbortOnError(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify(), func(cfg *Config) {
		cfg.AbortOnError = true
		cfg.WriteNaddrsMax = 4
	})

	m.FailCall(1, Ret{Status: 0x4281}, syscall.EIO)

	_, err := dev.Write(sectorAddrs(16), make([]byte, 16*512), nil, 0)
	require.Error(t, err)
	assert.Equal(t, 2, m.CallCount(OpWrite))
}

func TestEraseDescriptors(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())

	// Leave chunk 1 open
	_, err := dev.Write(sectorAddrs(72)[64:72], make([]byte, 8*512), nil, 0)
	require.NoError(t, err)

	addrs := []Addr{AddrS20(0, 0, 1, 0), AddrS20(1, 1, 3, 0)}
	meta := make([]byte, len(addrs)*ChunkDescrNBytes)
	_, err = dev.Erase(addrs, meta, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CallCount(OpErase))

	hdr := uapi.EncodeRprt(make([]uapi.RprtDescr, len(addrs)))[:uapi.RprtHdrNBytes]
	descrs, err := uapi.DecodeRprt(append(append([]byte(nil), hdr...), meta...))
	require.NoError(t, err)
	require.Len(t, descrs, 2)
	assert.Equal(t, uint8(ChunkFree), descrs[0].State)
	assert.Equal(t, addrs[1], dev.Dev2Gen(descrs[1].Addr))
}

func TestEraseMetaNeedsS20(t *testing.T) {
	dev, _ := openMock(t, testGeoS12.Identify())
	_, err := dev.Erase([]Addr{AddrS12(0, 0, 0, 1, 0, 0)}, make([]byte, 64), 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}

func TestEraseRunrollQuirk(t *testing.T) {
	dev, m := openMock(t, testGeoS12.Identify(), func(cfg *Config) {
		cfg.Quirks = QuirkPModeEraseRunroll
	})

	addrs := []Addr{AddrS12(0, 0, 0, 1, 0, 0), AddrS12(0, 0, 1, 1, 0, 0), AddrS12(1, 1, 0, 2, 0, 0)}
	_, err := dev.Erase(addrs, nil, FlagPModeDual)
	require.NoError(t, err)

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, FlagPModeSngl, calls[0].Flags&flagPModeMask)
	require.Len(t, calls[0].Ppas, 4)
	assert.Equal(t, AddrS12(1, 1, 1, 2, 0, 0), dev.Dev2Gen(calls[0].Ppas[3]))
}

func TestEraseWithoutRunrollKeepsPMode(t *testing.T) {
	dev, m := openMock(t, testGeoS12.Identify())
	_, err := dev.Erase([]Addr{AddrS12(0, 0, 0, 1, 0, 0)}, nil, FlagPModeDual)
	require.NoError(t, err)
	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, FlagPModeDual, calls[0].Flags)
	assert.Len(t, calls[0].Ppas, 1)
}

func TestReadOOBNullQuirk(t *testing.T) {
	dev, _ := openMock(t, testGeoS20.Identify())
	m := NewMockBackend(testGeoS20.Identify())
	m.SetSerial("CX8800ES-0001")
	cfg := DefaultConfig(nil)
	cfg.Logger = quietLogger(nil)
	qdev, err := OpenBackend("/dev/nvme1n1", m, BeSim, cfg)
	require.NoError(t, err)
	defer qdev.Close()

	assert.True(t, qdev.Quirks().Has(QuirkPModeEraseRunroll|QuirkOOBRead1st4BytesNull))
	assert.False(t, dev.Quirks().Has(QuirkOOBRead1st4BytesNull))

	addrs := sectorAddrs(4)
	meta := make([]byte, 4*16)
	BufFillMeta(meta, 16, MetaModeConst)
	_, err = qdev.Write(addrs, make([]byte, 4*512), meta, 0)
	require.NoError(t, err)

	got := make([]byte, len(meta))
	_, err = qdev.Read(addrs, make([]byte, 4*512), got, 0)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		entry := got[i*16 : (i+1)*16]
		assert.Equal(t, []byte{0, 0, 0, 0}, entry[:4])
		assert.Equal(t, bytes.Repeat([]byte{0x65}, 12), entry[4:])
	}
}

func TestOOBTooLargeClamp(t *testing.T) {
	g := testGeoS12
	g.MetaNBytes = 64 // above 10% of 512

	var logs bytes.Buffer
	dev, _ := openMock(t, g.Identify(), capture(&logs), func(cfg *Config) {
		cfg.Quirks = QuirkOOBTooLarge
	})
	assert.Equal(t, 16, dev.Geo().MetaNBytes)
	assert.Contains(t, logs.String(), "clamping oversized OOB area")

	plain, _ := openMock(t, g.Identify())
	assert.Equal(t, 64, plain.Geo().MetaNBytes)
}

func TestQuirksFromSerial(t *testing.T) {
	assert.Equal(t, QuirkPModeEraseRunroll|QuirkOOBTooLarge, QuirksFromSerial("CX8800ES", VeridS12))
	assert.Equal(t, QuirkPModeEraseRunroll|QuirkOOBRead1st4BytesNull, QuirksFromSerial("CX8800ES", VeridS20))
	assert.Equal(t, Quirks(0), QuirksFromSerial("S3EVNX0J", VeridS20))
}

func TestCopy(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())

	src := sectorAddrs(4)
	data := make([]byte, 4*512)
	BufFill(data)
	_, err := dev.Write(src, data, nil, 0)
	require.NoError(t, err)

	dst := []Addr{AddrS20(1, 0, 0, 0), AddrS20(1, 0, 0, 1), AddrS20(1, 0, 0, 2), AddrS20(1, 0, 0, 3)}
	_, err = dev.Copy(src, dst, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, m.CallCount(OpCopy))

	got := make([]byte, len(data))
	_, err = dev.Read(dst, got, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = dev.Copy(src, dst[:3], 0)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
}

func TestClosedDevice(t *testing.T) {
	dev, m := openMock(t, testGeoS20.Identify())
	require.NoError(t, dev.Close())
	assert.True(t, m.IsClosed())
	assert.NoError(t, dev.Close())

	_, err := dev.Read(sectorAddrs(1), make([]byte, 512), nil, 0)
	assert.True(t, IsCode(err, ErrCodeDeviceNotFound))
}
