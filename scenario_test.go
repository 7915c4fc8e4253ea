package lightnvm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-lightnvm"
	"github.com/ehrlich-b/go-lightnvm/backend"
	"github.com/ehrlich-b/go-lightnvm/internal/constants"
)

func TestSimChunkRoundTrip(t *testing.T) {
	sim, err := backend.NewSim(backend.SimConfig{
		Verid:  constants.VeridS20,
		NPugrp: 1, NPunit: 1, NChunk: 16, NSectr: 4096, WsMin: 4, WsOpt: 4,
		SectorNBytes: 4096,
		Writable:     true,
	})
	require.NoError(t, err)

	cfg := lightnvm.DefaultConfig(nil)
	cfg.Writable = true
	dev, err := lightnvm.OpenBackend("sim:chunk", sim, lightnvm.BeSim, cfg)
	require.NoError(t, err)
	defer dev.Close()

	geo := dev.Geo()
	assert.Equal(t, 16, geo.L.NChunk)

	_, err = dev.Erase([]lightnvm.Addr{lightnvm.AddrS20(0, 0, 0, 0)}, nil, 0)
	require.NoError(t, err)

	addrs := make([]lightnvm.Addr, geo.L.WsMin)
	for i := range addrs {
		addrs[i] = lightnvm.AddrS20(0, 0, 0, i)
	}
	data, err := lightnvm.BufAlloc(geo, len(addrs)*geo.SectorNBytes)
	require.NoError(t, err)
	lightnvm.BufFill(data)

	_, err = dev.Write(addrs, data, nil, 0)
	require.NoError(t, err)

	got := make([]byte, len(data))
	_, err = dev.Read(addrs, got, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func openSim(t *testing.T, cfg backend.SimConfig) *lightnvm.Device {
	t.Helper()
	cfg.Writable = true
	sim, err := backend.NewSim(cfg)
	require.NoError(t, err)

	dcfg := lightnvm.DefaultConfig(nil)
	dcfg.Writable = true
	dev, err := lightnvm.OpenBackend("sim:test", sim, lightnvm.BeSim, dcfg)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestSimWriteBelowLimitKeepsWsMin(t *testing.T) {
	dev := openSim(t, backend.SimConfig{
		Verid:  constants.VeridS20,
		NPugrp: 1, NPunit: 1, NChunk: 4, NSectr: 64, WsMin: 4, WsOpt: 4,
		SectorNBytes: 4096,
	})
	require.NoError(t, dev.SetWriteNaddrsMax(8))

	_, err := dev.Erase([]lightnvm.Addr{lightnvm.AddrS20(0, 0, 0, 0)}, nil, 0)
	require.NoError(t, err)

	addrs := make([]lightnvm.Addr, 20)
	for i := range addrs {
		addrs[i] = lightnvm.AddrS20(0, 0, 0, i)
	}
	data := make([]byte, len(addrs)*dev.Geo().SectorNBytes)
	lightnvm.BufFill(data)
	_, err = dev.Write(addrs, data, nil, 0)
	require.NoError(t, err)

	got := make([]byte, len(data))
	_, err = dev.Read(addrs, got, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSimDualPlaneVblkWithSmallLimit(t *testing.T) {
	profile, err := backend.SimProfile("s12")
	require.NoError(t, err)
	dev := openSim(t, profile)
	require.Equal(t, lightnvm.FlagPModeDual, dev.PMode())
	require.NoError(t, dev.SetWriteNaddrsMax(6))
	require.NoError(t, dev.SetReadNaddrsMax(6))

	v, err := lightnvm.NewVblk(dev, []lightnvm.Addr{lightnvm.AddrS12(0, 0, 0, 1, 0, 0)})
	require.NoError(t, err)
	_, err = v.Erase()
	require.NoError(t, err)

	buf := make([]byte, 2*v.Alignment())
	lightnvm.BufFill(buf)
	_, err = v.Pwrite(buf, 0)
	require.NoError(t, err)

	got := make([]byte, len(buf))
	_, err = v.Pread(got, 0)
	require.NoError(t, err)
	assert.Zero(t, lightnvm.BufDiff(buf, got))

	// A dual-plane command naming one plane is refused
	data := make([]byte, 2*dev.Geo().SectorNBytes)
	_, err = dev.Write([]lightnvm.Addr{
		lightnvm.AddrS12(0, 0, 0, 1, 2, 0),
		lightnvm.AddrS12(0, 0, 0, 1, 2, 1),
	}, data, nil, lightnvm.FlagPModeDual)
	assert.Error(t, err)
}
