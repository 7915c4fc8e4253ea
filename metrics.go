package lightnvm

import (
	"fmt"
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Op identifies the kind of command an observation belongs to
type Op int

const (
	OpErase Op = iota
	OpWrite
	OpRead
	OpCopy
	OpGetBbt
	OpSetBbt
	OpReport
	numOps
)

func (o Op) String() string {
	switch o {
	case OpErase:
		return "erase"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpCopy:
		return "copy"
	case OpGetBbt:
		return "bbt_get"
	case OpSetBbt:
		return "bbt_set"
	case OpReport:
		return "rprt"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

func opFromOpcode(opcode uint8) Op {
	switch opcode {
	case OpcErase:
		return OpErase
	case OpcWrite:
		return OpWrite
	case OpcRead:
		return OpRead
	}
	return OpCopy
}

// OpCounters are the counters kept for one kind of command
type OpCounters struct {
	Ops    atomic.Uint64 // Commands submitted
	Addrs  atomic.Uint64 // Addresses carried by those commands
	Bytes  atomic.Uint64 // Payload bytes of successful commands
	Errors atomic.Uint64 // Failed commands
}

// Metrics tracks command statistics for a device
type Metrics struct {
	ops [numOps]OpCounters

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative command latency in nanoseconds
	OpCount        atomic.Uint64 // Total commands (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of commands with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Device lifecycle
	StartTime atomic.Int64 // Device open timestamp (UnixNano)
	StopTime  atomic.Int64 // Device close timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Counters returns the counters of op
func (m *Metrics) Counters(op Op) *OpCounters {
	return &m.ops[op]
}

// RecordCommand records one submitted command
func (m *Metrics) RecordCommand(op Op, naddrs int, bytes uint64, latencyNs uint64, success bool) {
	if op < 0 || op >= numOps {
		return
	}
	c := &m.ops[op]
	c.Ops.Add(1)
	c.Addrs.Add(uint64(naddrs))
	if success {
		c.Bytes.Add(bytes)
	} else {
		c.Errors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// recordLatency records command latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the device as closed
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// OpSnapshot holds the counters of one kind of command
type OpSnapshot struct {
	Ops    uint64 `json:"ops"`
	Addrs  uint64 `json:"addrs"`
	Bytes  uint64 `json:"bytes"`
	Errors uint64 `json:"errors"`
}

// MetricsSnapshot is a point-in-time copy of the metrics
type MetricsSnapshot struct {
	Erase  OpSnapshot `json:"erase"`
	Write  OpSnapshot `json:"write"`
	Read   OpSnapshot `json:"read"`
	Copy   OpSnapshot `json:"copy"`
	GetBbt OpSnapshot `json:"bbt_get"`
	SetBbt OpSnapshot `json:"bbt_set"`
	Report OpSnapshot `json:"rprt"`

	// Performance
	AvgLatencyNs uint64 `json:"avg_latency_ns"`
	UptimeNs     uint64 `json:"uptime_ns"`

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64 `json:"latency_p50_ns"`
	LatencyP99Ns  uint64 `json:"latency_p99_ns"`
	LatencyP999Ns uint64 `json:"latency_p999_ns"`

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64 `json:"latency_histogram"`

	// Computed statistics
	ReadBandwidth  float64 `json:"read_bandwidth"` // Bytes per second
	WriteBandwidth float64 `json:"write_bandwidth"`
	TotalOps       uint64  `json:"total_ops"`
	TotalBytes     uint64  `json:"total_bytes"`
	ErrorRate      float64 `json:"error_rate"` // Percentage of failed commands
}

func (c *OpCounters) snapshot() OpSnapshot {
	return OpSnapshot{
		Ops:    c.Ops.Load(),
		Addrs:  c.Addrs.Load(),
		Bytes:  c.Bytes.Load(),
		Errors: c.Errors.Load(),
	}
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Erase:  m.ops[OpErase].snapshot(),
		Write:  m.ops[OpWrite].snapshot(),
		Read:   m.ops[OpRead].snapshot(),
		Copy:   m.ops[OpCopy].snapshot(),
		GetBbt: m.ops[OpGetBbt].snapshot(),
		SetBbt: m.ops[OpSetBbt].snapshot(),
		Report: m.ops[OpReport].snapshot(),
	}

	var totalErrors uint64
	for _, s := range []OpSnapshot{snap.Erase, snap.Write, snap.Read, snap.Copy, snap.GetBbt, snap.SetBbt, snap.Report} {
		snap.TotalOps += s.Ops
		snap.TotalBytes += s.Bytes
		totalErrors += s.Errors
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ReadBandwidth = float64(snap.Read.Bytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.Write.Bytes) / uptimeSeconds
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// The latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for i := range m.ops {
		c := &m.ops[i]
		c.Ops.Store(0)
		c.Addrs.Store(0)
		c.Bytes.Store(0)
		c.Errors.Store(0)
	}
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveCommand is called once per submitted command
	ObserveCommand(op Op, naddrs int, bytes uint64, latencyNs uint64, success bool)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveCommand(Op, int, uint64, uint64, bool) {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCommand(op Op, naddrs int, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordCommand(op, naddrs, bytes, latencyNs, success)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
