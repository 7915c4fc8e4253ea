package uring

import (
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

// syncRing executes each operation with pread/pwrite as it is submitted
type syncRing struct {
	fd int
}

func newSyncRing(config Config) *syncRing {
	return &syncRing{fd: int(config.FD)}
}

func (r *syncRing) Close() error {
	return nil
}

func (r *syncRing) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pread(r.fd, p[total:], off+int64(total))
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrUnexpectedEOF
		}
		total += n
	}
	return total, nil
}

func (r *syncRing) WriteAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Pwrite(r.fd, p[total:], off+int64(total))
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		total += n
	}
	return total, nil
}

func (r *syncRing) NewBatch() Batch {
	return &syncBatch{ring: r}
}

type syncOp struct {
	write    bool
	buf      []byte
	off      int64
	userData uint64
}

type syncBatch struct {
	ring *syncRing
	ops  []syncOp
}

func (b *syncBatch) AddRead(p []byte, off int64, userData uint64) error {
	b.ops = append(b.ops, syncOp{buf: p, off: off, userData: userData})
	return nil
}

func (b *syncBatch) AddWrite(p []byte, off int64, userData uint64) error {
	b.ops = append(b.ops, syncOp{write: true, buf: p, off: off, userData: userData})
	return nil
}

func (b *syncBatch) Submit() ([]Result, error) {
	if len(b.ops) == 0 {
		return nil, nil
	}

	results := make([]Result, len(b.ops))
	for i, op := range b.ops {
		var n int
		var err error
		if op.write {
			n, err = b.ring.WriteAt(op.buf, op.off)
		} else {
			n, err = b.ring.ReadAt(op.buf, op.off)
		}
		results[i] = newResult(op.userData, n, err)
	}

	b.ops = b.ops[:0]
	return results, nil
}

func (b *syncBatch) Len() int {
	return len(b.ops)
}
