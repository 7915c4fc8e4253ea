package lightnvm

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

var testGeoS12 = MockGeoS12{
	NChannels:    2,
	NLuns:        2,
	NPlanes:      2,
	NBlocks:      8,
	NPages:       4,
	NSectors:     4,
	SectorNBytes: 512,
	MetaNBytes:   16,
}

var testGeoS20 = MockGeoS20{
	NPugrp:    2,
	NPunit:    2,
	NChunk:    8,
	NSectr:    64,
	NBytes:    512,
	NBytesOOB: 16,
	WsMin:     4,
	WsOpt:     8,
}

func quietLogger(w io.Writer) *Logger {
	if w == nil {
		w = io.Discard
	}
	return NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: w, Sync: true})
}

// openMock opens a device on a fresh MockBackend
func openMock(t *testing.T, identify []byte, opts ...func(*Config)) (*Device, *MockBackend) {
	t.Helper()
	m := NewMockBackend(identify)
	cfg := DefaultConfig(nil)
	cfg.Writable = true
	cfg.Logger = quietLogger(nil)
	for _, opt := range opts {
		opt(&cfg)
	}
	dev, err := OpenBackend("/dev/nvme0n1", m, BeSim, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev, m
}

// capture returns an option sending device logs to buf
func capture(buf *bytes.Buffer) func(*Config) {
	return func(cfg *Config) { cfg.Logger = quietLogger(buf) }
}
