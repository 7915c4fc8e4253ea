package lightnvm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.TotalOps)

	m.RecordCommand(OpRead, 8, 32768, 1_000_000, true)
	m.RecordCommand(OpWrite, 16, 65536, 2_000_000, true)
	m.RecordCommand(OpRead, 4, 16384, 500_000, false)

	snap = m.Snapshot()

	assert.Equal(t, uint64(2), snap.Read.Ops)
	assert.Equal(t, uint64(12), snap.Read.Addrs)
	assert.Equal(t, uint64(1), snap.Write.Ops)

	// Only successful commands count bytes
	assert.Equal(t, uint64(32768), snap.Read.Bytes)
	assert.Equal(t, uint64(65536), snap.Write.Bytes)

	assert.Equal(t, uint64(1), snap.Read.Errors)
	assert.Equal(t, uint64(0), snap.Write.Errors)

	assert.InDelta(t, 100.0/3.0, snap.ErrorRate, 0.1)
}

func TestMetricsIgnoresUnknownOp(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand(Op(42), 1, 1, 1, true)
	assert.Equal(t, uint64(0), m.Snapshot().TotalOps)
}

func TestOpFromOpcode(t *testing.T) {
	assert.Equal(t, OpErase, opFromOpcode(OpcErase))
	assert.Equal(t, OpWrite, opFromOpcode(OpcWrite))
	assert.Equal(t, OpRead, opFromOpcode(OpcRead))
	assert.Equal(t, OpCopy, opFromOpcode(OpcCopy))
	assert.Equal(t, "bbt_get", OpGetBbt.String())
	assert.Equal(t, "Op(99)", Op(99).String())
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand(OpRead, 1, 4096, 1_000_000, true)
	m.RecordCommand(OpWrite, 1, 4096, 2_000_000, true)

	assert.Equal(t, uint64(1_500_000), m.Snapshot().AvgLatencyNs)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.UptimeNs, uint64(10*time.Millisecond))

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	assert.LessOrEqual(t, snap2.UptimeNs, snap.UptimeNs+uint64(2*time.Millisecond))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand(OpErase, 4, 0, 1_000_000, true)
	m.RecordCommand(OpGetBbt, 1, 1088, 2_000_000, true)
	assert.NotZero(t, m.Snapshot().TotalOps)

	m.Reset()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.TotalOps)
	assert.Equal(t, uint64(0), snap.TotalBytes)
	assert.Equal(t, uint64(0), snap.GetBbt.Ops)
}

func TestObserver(t *testing.T) {
	var noop NoOpObserver
	noop.ObserveCommand(OpRead, 1, 4096, 1_000_000, true)

	m := NewMetrics()
	obs := NewMetricsObserver(m)
	obs.ObserveCommand(OpRead, 2, 8192, 1_000_000, true)
	obs.ObserveCommand(OpReport, 0, 4160, 2_000_000, true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Read.Ops)
	assert.Equal(t, uint64(8192), snap.Read.Bytes)
	assert.Equal(t, uint64(1), snap.Report.Ops)
}

func TestMetricsBandwidth(t *testing.T) {
	m := NewMetrics()

	start := time.Now()
	m.StartTime.Store(start.UnixNano())

	m.RecordCommand(OpRead, 1, 1024, 1_000_000, true)
	m.RecordCommand(OpWrite, 1, 2048, 2_000_000, true)

	m.StopTime.Store(start.Add(time.Second).UnixNano())

	snap := m.Snapshot()
	assert.InDelta(t, 1024, snap.ReadBandwidth, 1)
	assert.InDelta(t, 2048, snap.WriteBandwidth, 1)
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordCommand(OpRead, 1, 4096, 500_000, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordCommand(OpWrite, 1, 4096, 5_000_000, true)
	}
	m.RecordCommand(OpWrite, 1, 4096, 50_000_000, true)

	snap := m.Snapshot()
	assert.Equal(t, uint64(100), snap.TotalOps)

	assert.GreaterOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	assert.LessOrEqual(t, snap.LatencyP50Ns, uint64(1_000_000))

	assert.GreaterOrEqual(t, snap.LatencyP99Ns, uint64(5_000_000))
	assert.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000_000))

	// Buckets are cumulative; the last holds every command
	assert.Equal(t, uint64(100), snap.LatencyHistogram[numLatencyBuckets-1])
}
