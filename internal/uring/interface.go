// Package uring provides positional file I/O rings used by the file and
// block device backends.
package uring

import (
	"syscall"

	"github.com/ehrlich-b/go-lightnvm/internal/logging"
)

// Ring submits positional reads and writes against one file descriptor
type Ring interface {
	// Close releases the ring. The file descriptor stays open.
	Close() error

	// ReadAt reads len(p) bytes at off, retrying short reads
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes len(p) bytes at off, retrying short writes
	WriteAt(p []byte, off int64) (int, error)

	// NewBatch creates a new batch for bulk operations
	NewBatch() Batch
}

// Batch allows batching multiple operations
type Batch interface {
	// AddRead queues a read of len(p) bytes at off
	AddRead(p []byte, off int64, userData uint64) error

	// AddWrite queues a write of len(p) bytes at off
	AddWrite(p []byte, off int64, userData uint64) error

	// Submit submits all operations and returns one result per operation
	// in submission order.
	Submit() ([]Result, error)

	// Len returns the number of operations in the batch
	Len() int
}

// Result represents the result of an operation
type Result interface {
	// UserData returns the user data associated with this result
	UserData() uint64

	// Value returns bytes transferred, or a negative errno
	Value() int32

	// Error returns an error if the operation failed
	Error() error
}

// Config contains configuration for creating a ring
type Config struct {
	Entries uint32 // Number of entries in the ring
	FD      int32  // File descriptor for operations

	// IOUring selects the io_uring implementation. It requires building
	// with -tags giouring; otherwise NewRing falls back to pread/pwrite.
	IOUring bool
}

type result struct {
	userData uint64
	value    int32
	err      error
}

func (r *result) UserData() uint64 { return r.userData }
func (r *result) Value() int32     { return r.value }
func (r *result) Error() error     { return r.err }

func newResult(userData uint64, n int, err error) *result {
	res := &result{userData: userData, value: int32(n), err: err}
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			res.value = -int32(errno)
		} else {
			res.value = -int32(syscall.EIO)
		}
	}
	return res
}

// NewRing creates a ring for config.FD
func NewRing(config Config) (Ring, error) {
	logger := logging.Default()

	if config.FD < 0 {
		return nil, syscall.EBADF
	}
	if config.Entries == 0 {
		config.Entries = 32
	}

	if config.IOUring {
		ring, err := NewRealRing(config)
		if err == nil {
			logger.Debug("created io_uring", "entries", config.Entries, "fd", config.FD)
			return ring, nil
		}
		logger.Warn("io_uring unavailable, using pread/pwrite", "error", err)
	}

	logger.Debug("created sync ring", "fd", config.FD)
	return newSyncRing(config), nil
}
