//go:build giouring
// +build giouring

package uring

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// iouRing implements the Ring interface using pawelgaczynski/giouring
type iouRing struct {
	ring    *giouring.Ring
	fd      int
	entries uint32
}

// NewRealRing creates an io_uring backed ring
func NewRealRing(config Config) (Ring, error) {
	ring, err := giouring.CreateRing(config.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create io_uring: %v", err)
	}

	return &iouRing{
		ring:    ring,
		fd:      int(config.FD),
		entries: config.Entries,
	}, nil
}

func (r *iouRing) Close() error {
	if r.ring != nil {
		r.ring.QueueExit()
		r.ring = nil
	}
	return nil
}

func (r *iouRing) one(write bool, p []byte, off int64) (int, error) {
	b := r.NewBatch()
	if write {
		b.AddWrite(p, off, 0)
	} else {
		b.AddRead(p, off, 0)
	}

	results, err := b.Submit()
	if err != nil {
		return 0, err
	}
	if err := results[0].Error(); err != nil {
		return 0, err
	}
	return int(results[0].Value()), nil
}

func (r *iouRing) ReadAt(p []byte, off int64) (int, error) {
	return r.one(false, p, off)
}

func (r *iouRing) WriteAt(p []byte, off int64) (int, error) {
	return r.one(true, p, off)
}

func (r *iouRing) NewBatch() Batch {
	return &iouBatch{ring: r}
}

type iouOp struct {
	write    bool
	buf      []byte
	off      int64
	userData uint64
}

// iouBatch implements batched operations
type iouBatch struct {
	ring *iouRing
	ops  []iouOp
}

func (b *iouBatch) AddRead(p []byte, off int64, userData uint64) error {
	b.ops = append(b.ops, iouOp{buf: p, off: off, userData: userData})
	return nil
}

func (b *iouBatch) AddWrite(p []byte, off int64, userData uint64) error {
	b.ops = append(b.ops, iouOp{write: true, buf: p, off: off, userData: userData})
	return nil
}

// Submit pushes the operations in chunks of at most the ring size. The
// completion's user data is the operation index; the caller's user data is
// restored on the result.
func (b *iouBatch) Submit() ([]Result, error) {
	if len(b.ops) == 0 {
		return nil, nil
	}

	ring := b.ring.ring
	results := make([]Result, len(b.ops))

	for start := 0; start < len(b.ops); start += int(b.ring.entries) {
		end := start + int(b.ring.entries)
		if end > len(b.ops) {
			end = len(b.ops)
		}

		for i := start; i < end; i++ {
			op := b.ops[i]
			sqe := ring.GetSQE()
			if sqe == nil {
				return nil, fmt.Errorf("submission queue full")
			}
			var ptr uintptr
			if len(op.buf) > 0 {
				ptr = uintptr(unsafe.Pointer(&op.buf[0]))
			}
			if op.write {
				sqe.PrepareWrite(b.ring.fd, ptr, uint32(len(op.buf)), uint64(op.off))
			} else {
				sqe.PrepareRead(b.ring.fd, ptr, uint32(len(op.buf)), uint64(op.off))
			}
			sqe.SetData64(uint64(i))
		}

		if _, err := ring.Submit(); err != nil {
			return nil, fmt.Errorf("batch submit failed: %v", err)
		}

		for n := start; n < end; n++ {
			cqe, err := ring.WaitCQE()
			if err != nil {
				return nil, fmt.Errorf("wait completion failed: %v", err)
			}
			idx := int(cqe.UserData)
			res := &result{userData: b.ops[idx].userData, value: cqe.Res}
			if cqe.Res < 0 {
				res.err = syscall.Errno(-cqe.Res)
			}
			results[idx] = res
			ring.CQESeen(cqe)
		}
	}

	b.ops = b.ops[:0]
	return results, nil
}

func (b *iouBatch) Len() int {
	return len(b.ops)
}
