package queue

import (
	"math/bits"
	"sync"
)

// Scratch buffers for pad filler, copy bounce and spanning read staging.
// Buckets are powers of two from one 4KB sector up to 4MB, enough for a
// full NaddrMax command of 64KB sectors. Larger requests bypass the pool.
const (
	minBucketShift = 12
	maxBucketShift = 22
	numBuckets     = maxBucketShift - minBucketShift + 1
)

var buckets [numBuckets]sync.Pool

func init() {
	for i := range buckets {
		size := 1 << (minBucketShift + i)
		buckets[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// bucketFor returns the index of the smallest bucket holding size bytes,
// or -1 when size exceeds the largest bucket.
func bucketFor(size uint32) int {
	if size <= 1<<minBucketShift {
		return 0
	}
	shift := bits.Len32(size - 1)
	if shift > maxBucketShift {
		return -1
	}
	return shift - minBucketShift
}

// GetBuffer returns a buffer of exactly size bytes. Contents are undefined.
func GetBuffer(size uint32) []byte {
	i := bucketFor(size)
	if i < 0 {
		return make([]byte, size)
	}
	return (*buckets[i].Get().(*[]byte))[:size]
}

// GetZeroedBuffer returns a pooled buffer cleared to zero
func GetZeroedBuffer(size uint32) []byte {
	buf := GetBuffer(size)
	clear(buf)
	return buf
}

// PutBuffer returns buf to its bucket. Buffers whose capacity is not a
// bucket size are dropped.
func PutBuffer(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	i := bucketFor(uint32(c))
	if i < 0 || 1<<(minBucketShift+i) != c {
		return
	}
	buf = buf[:c]
	buckets[i].Put(&buf)
}
