package backend

import (
	"bytes"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

func newTestSim12(t *testing.T) *Sim {
	t.Helper()
	s, err := NewSim(SimConfig{
		Verid:     constants.VeridS12,
		NChannels: 2, NLuns: 2, NPlanes: 2, NBlocks: 4, NPages: 2, NSectors: 2,
		SectorNBytes: 512, MetaNBytes: 8,
		FactoryBad: 4,
		Writable:   true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSim20(t *testing.T) *Sim {
	t.Helper()
	s, err := NewSim(SimConfig{
		Verid:  constants.VeridS20,
		NPugrp: 1, NPunit: 2, NChunk: 4, NSectr: 16, WsMin: 4, WsOpt: 8,
		SectorNBytes: 512, MetaNBytes: 8,
		FactoryBad: 4,
		Serial:     "SIM-TEST",
		Writable:   true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ppa12(s *Sim, ch, lun, pl, blk, pg, sec int) uint64 {
	f := s.fields
	return f["ch"].put(ch) | f["lun"].put(lun) | f["pl"].put(pl) |
		f["blk"].put(blk) | f["pg"].put(pg) | f["sec"].put(sec)
}

func ppa20(s *Sim, pu, chunk, sectr int) uint64 {
	return s.chunkAddr(pu, chunk) | s.fields["sectr"].put(sectr)
}

func pattern(n int, seed byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i%7)
	}
	return buf
}

func TestSimProfiles(t *testing.T) {
	for _, name := range SimProfiles() {
		be, err := OpenSim(SimPrefix+name, interfaces.OpenWritable)
		require.NoError(t, err, name)

		raw, err := be.Identify()
		require.NoError(t, err)
		idfy, err := uapi.DecodeIdfy(raw)
		require.NoError(t, err)
		assert.Contains(t, []uint8{constants.VeridS12, constants.VeridS20}, idfy.Verid)
		require.NoError(t, be.Close())
	}

	_, err := OpenSim("sim:s99", 0)
	assert.ErrorIs(t, err, syscall.ENODEV)
	_, err = OpenSim("/dev/nvme0n1", 0)
	assert.ErrorIs(t, err, syscall.ENODEV)
}

func TestNewSimRejectsBadConfig(t *testing.T) {
	for name, cfg := range map[string]SimConfig{
		"verid":       {Verid: 0x7, SectorNBytes: 512},
		"sector":      {Verid: constants.VeridS20, SectorNBytes: 500},
		"zero dims":   {Verid: constants.VeridS12, SectorNBytes: 512},
		"three plane": {Verid: constants.VeridS12, NChannels: 1, NLuns: 1, NPlanes: 3, NBlocks: 1, NPages: 1, NSectors: 1, SectorNBytes: 512},
		"ws_opt":      {Verid: constants.VeridS20, NPugrp: 1, NPunit: 1, NChunk: 1, NSectr: 16, WsMin: 4, WsOpt: 6, SectorNBytes: 512},
	} {
		_, err := NewSim(cfg)
		assert.ErrorIs(t, err, syscall.EINVAL, name)
	}
}

func TestSimIdentifyS12(t *testing.T) {
	s := newTestSim12(t)
	raw, err := s.Identify()
	require.NoError(t, err)

	idfy, err := uapi.DecodeIdfy(raw)
	require.NoError(t, err)
	require.NotNil(t, idfy.S12)
	grp := idfy.S12.Grp[0]
	assert.Equal(t, uint8(2), grp.NumCh)
	assert.Equal(t, uint16(4), grp.NumBlk)
	assert.Equal(t, uint16(1024), grp.FpgSz)
	assert.Equal(t, uint16(8), grp.Sos)

	// sec, pl, pg, blk, lun, ch packed from bit zero
	p := idfy.S12.Ppaf
	assert.Equal(t, [6][2]uint8{{6, 1}, {5, 1}, {1, 1}, {3, 2}, {2, 1}, {0, 1}}, p.Pairs())
}

func TestSimS12EraseBeforeRewrite(t *testing.T) {
	s := newTestSim12(t)
	ppas := []uint64{ppa12(s, 1, 0, 0, 2, 1, 0), ppa12(s, 1, 0, 0, 2, 1, 1)}
	data := pattern(1024, 'a')
	meta := pattern(16, 'm')

	_, err := s.Write(ppas, data, meta, 0)
	require.NoError(t, err)

	ret, err := s.Write(ppas[:1], data[:512], nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, uint64(constants.StatusWritePtr), ret.Status)

	got := make([]byte, 1024)
	gotMeta := make([]byte, 16)
	_, err = s.Read(ppas, got, gotMeta, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, meta, gotMeta)

	// Erasing plane 1 leaves plane 0 intact
	_, err = s.Erase([]uint64{ppa12(s, 1, 0, 1, 2, 0, 0)}, nil, 0)
	require.NoError(t, err)
	_, err = s.Read(ppas, got, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Erase([]uint64{ppa12(s, 1, 0, 0, 2, 0, 0)}, nil, 0)
	require.NoError(t, err)
	ret, err = s.Read(ppas, got, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 1024), got)
	assert.Equal(t, uint32(constants.StatusEmptyPage), ret.Result)

	_, err = s.Write(ppas, data, nil, 0)
	assert.NoError(t, err)
}

func TestSimS12DuplicateInCommand(t *testing.T) {
	s := newTestSim12(t)
	p := ppa12(s, 0, 0, 0, 0, 0, 0)
	_, err := s.Write([]uint64{p, p}, make([]byte, 1024), nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Zero(t, s.Stats()["sectors_written"])
}

func TestSimS12BadBlocks(t *testing.T) {
	s := newTestSim12(t)
	nblks := 4 * 2

	raw, _, err := s.GetBbt(ppa12(s, 1, 1, 0, 0, 0, 0), nblks)
	require.NoError(t, err)
	hdr, blks, err := uapi.DecodeBbt(raw, nblks)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), hdr.Tfact)
	assert.Equal(t, []uint8{0, 0, 0, 0, 0, 0, constants.BbtBad, constants.BbtBad}, blks)

	bad := ppa12(s, 1, 1, 0, 3, 0, 0)
	ret, err := s.Erase([]uint64{bad}, nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, uint64(constants.StatusOffline), ret.Status)

	_, err = s.Write([]uint64{bad}, make([]byte, 512), nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)

	grown := ppa12(s, 1, 1, 1, 1, 0, 0)
	_, err = s.SetBbt([]uint64{grown}, constants.BbtGBad)
	require.NoError(t, err)
	raw, _, err = s.GetBbt(grown, nblks)
	require.NoError(t, err)
	hdr, blks, err = uapi.DecodeBbt(raw, nblks)
	require.NoError(t, err)
	assert.Equal(t, uint8(constants.BbtGBad), blks[1*2+1])
	assert.Equal(t, uint32(1), hdr.Tgrown)

	_, err = s.Erase([]uint64{grown}, nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, 1, s.Stats()["bbts_modified"])

	_, err = s.SetBbt([]uint64{grown}, 0x3)
	assert.ErrorIs(t, err, syscall.EINVAL)
	_, _, err = s.GetBbt(grown, 4)
	assert.ErrorIs(t, err, syscall.EINVAL)
	_, _, err = s.Report()
	assert.ErrorIs(t, err, syscall.ENOSYS)
}

func TestSimS20SequentialWrites(t *testing.T) {
	s := newTestSim20(t)

	run := func(chunk, from, n int) []uint64 {
		ppas := make([]uint64, n)
		for i := range ppas {
			ppas[i] = ppa20(s, 1, chunk, from+i)
		}
		return ppas
	}

	_, err := s.Write(run(0, 0, 8), pattern(8*512, 'x'), nil, 0)
	require.NoError(t, err)

	// Skipping ahead of the write pointer
	ret, err := s.Write(run(0, 12, 4), make([]byte, 4*512), nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, uint64(constants.StatusWritePtr), ret.Status)

	// Less than ws_min
	_, err = s.Write(run(0, 8, 2), make([]byte, 2*512), nil, 0)
	assert.ErrorIs(t, err, syscall.EINVAL)

	_, err = s.Write(run(0, 8, 8), make([]byte, 8*512), nil, 0)
	require.NoError(t, err)

	raw, _, err := s.Report()
	require.NoError(t, err)
	descrs, err := uapi.DecodeRprt(raw)
	require.NoError(t, err)
	require.Len(t, descrs, 2*4)

	c := descrs[4]
	assert.Equal(t, uint8(constants.ChunkStateClosed), c.State)
	assert.Equal(t, ppa20(s, 1, 0, 0), c.Addr)
	assert.Equal(t, ppa20(s, 1, 0, 0)+16, c.Wptr)
	assert.Equal(t, uint64(16), c.Naddrs)

	assert.Equal(t, uint8(constants.ChunkStateOffline), descrs[3].State)
	assert.Equal(t, uint8(constants.ChunkStateFree), descrs[1].State)

	got := make([]byte, 8*512)
	_, err = s.Read(run(0, 0, 8), got, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, pattern(8*512, 'x'), got)
}

func TestSimS20EraseDescriptors(t *testing.T) {
	s := newTestSim20(t)
	ppas := []uint64{ppa20(s, 0, 1, 0), ppa20(s, 1, 2, 0)}
	for _, p := range ppas {
		_, err := s.Write([]uint64{p, p + 1, p + 2, p + 3}, make([]byte, 4*512), nil, 0)
		require.NoError(t, err)
	}

	meta := make([]byte, 2*uapi.RprtDescrSize)
	_, err := s.Erase(ppas, meta, 0)
	require.NoError(t, err)

	hdr := uapi.EncodeRprt(make([]uapi.RprtDescr, 2))[:uapi.RprtHdrNBytes]
	descrs, err := uapi.DecodeRprt(append(append([]byte(nil), hdr...), meta...))
	require.NoError(t, err)
	for i, d := range descrs {
		assert.Equal(t, uint8(constants.ChunkStateFree), d.State)
		assert.Equal(t, ppas[i], d.Addr)
		assert.Equal(t, ppas[i], d.Wptr)
	}

	ret, err := s.Erase([]uint64{ppa20(s, 0, 3, 0)}, nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, uint64(constants.StatusOffline), ret.Status)

	_, _, err = s.GetBbt(ppas[0], 4)
	assert.ErrorIs(t, err, syscall.ENOSYS)
}

func TestSimCopy(t *testing.T) {
	s := newTestSim20(t)
	src := []uint64{ppa20(s, 0, 0, 0), ppa20(s, 0, 0, 1), ppa20(s, 0, 0, 2), ppa20(s, 0, 0, 3)}
	dst := []uint64{ppa20(s, 1, 1, 0), ppa20(s, 1, 1, 1), ppa20(s, 1, 1, 2), ppa20(s, 1, 1, 3)}
	data := pattern(4*512, 'c')
	meta := pattern(4*8, 'M')

	_, err := s.Write(src, data, meta, 0)
	require.NoError(t, err)
	_, err = s.Copy(src, dst, 0)
	require.NoError(t, err)

	got := make([]byte, len(data))
	gotMeta := make([]byte, len(meta))
	_, err = s.Read(dst, got, gotMeta, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, meta, gotMeta)

	_, err = s.Copy(src, dst[:2], 0)
	assert.ErrorIs(t, err, syscall.EINVAL)
}

func TestSimReadOnly(t *testing.T) {
	be, err := OpenSim("sim:s20", 0)
	require.NoError(t, err)
	defer be.Close()

	_, err = be.Erase([]uint64{0}, nil, 0)
	assert.ErrorIs(t, err, syscall.EROFS)

	buf := make([]byte, 4*4096)
	_, err = be.Read([]uint64{0, 1, 2, 3}, buf, nil, 0)
	assert.NoError(t, err)
}

func TestSimAddressValidation(t *testing.T) {
	s := newTestSim20(t)
	_, err := s.Read([]uint64{ppa20(s, 0, 0, 0) | s.fields["punit"].put(3)}, make([]byte, 512), nil, 0)
	assert.ErrorIs(t, err, syscall.EINVAL)

	_, err = s.Read(make([]uint64, constants.NaddrMax+1), make([]byte, 65*512), nil, 0)
	assert.ErrorIs(t, err, syscall.EINVAL)

	_, err = s.Read([]uint64{0}, make([]byte, 100), nil, 0)
	assert.ErrorIs(t, err, syscall.EINVAL)
}

func TestSimInjectError(t *testing.T) {
	s := newTestSim20(t)
	s.InjectError(constants.OpcRead, interfaces.Ret{Status: 0x2}, syscall.EIO)

	ret, err := s.Read([]uint64{0}, make([]byte, 512), nil, 0)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.Equal(t, uint64(0x2), ret.Status)

	// One shot
	_, err = s.Read([]uint64{0}, make([]byte, 512), nil, 0)
	assert.NoError(t, err)
}

func TestSimAsync(t *testing.T) {
	s := newTestSim20(t)
	actx, err := s.NewAsync(4)
	require.NoError(t, err)
	defer actx.Close()

	ppas := []uint64{ppa20(s, 0, 2, 0), ppa20(s, 0, 2, 1), ppa20(s, 0, 2, 2), ppa20(s, 0, 2, 3)}
	data := pattern(4*512, 'q')

	var errs []error
	require.NoError(t, actx.Submit(&interfaces.Command{Opcode: constants.OpcWrite, Ppas: ppas, Data: data},
		func(_ interfaces.Ret, err error) { errs = append(errs, err) }))
	_, err = actx.Wait()
	require.NoError(t, err)

	got := make([]byte, len(data))
	require.NoError(t, actx.Submit(&interfaces.Command{Opcode: constants.OpcRead, Ppas: ppas, Data: got},
		func(_ interfaces.Ret, err error) { errs = append(errs, err) }))
	require.NoError(t, actx.Submit(&interfaces.Command{Opcode: constants.OpcSBbt, Ppas: ppas},
		func(_ interfaces.Ret, err error) { errs = append(errs, err) }))
	_, err = actx.Wait()
	require.NoError(t, err)

	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.True(t, bytes.Equal(data, got))
	assert.Contains(t, errs[1:], error(syscall.ENOSYS))
}

func TestSimClosed(t *testing.T) {
	s := newTestSim20(t)
	assert.Equal(t, "SIM-TEST", s.Serial())
	require.NoError(t, s.Close())

	_, err := s.Identify()
	assert.ErrorIs(t, err, syscall.EBADF)
	_, err = s.Read([]uint64{0}, make([]byte, 512), nil, 0)
	assert.ErrorIs(t, err, syscall.EBADF)
}

func TestSimStats(t *testing.T) {
	s := newTestSim20(t)
	_, err := s.Write([]uint64{0, 1, 2, 3}, make([]byte, 4*512), nil, 0)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, "sim", stats["type"])
	assert.Equal(t, 4, stats["sectors_written"])
	assert.Equal(t, uint64(1), stats["writes"])
	assert.Equal(t, 1, stats["chunks_open"])
	assert.Equal(t, 2, stats["chunks_offline"])
}
