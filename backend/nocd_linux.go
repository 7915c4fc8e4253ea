//go:build linux

package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
	"github.com/ehrlich-b/go-lightnvm/internal/queue"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
	"github.com/ehrlich-b/go-lightnvm/internal/uring"
)

// Emulated 2.0 geometry: one group, one parallel unit, 16 MiB chunks
const (
	nocdSectrBits = 12
	nocdChunkBits = 16
	nocdNSectr    = 1 << nocdSectrBits
	nocdNBytes    = 4096
	nocdWsMin     = 1
	nocdWsOpt     = 4

	nocdChunkNBytes = nocdNSectr * nocdNBytes
	nocdMaxChunks   = 1 << nocdChunkBits
)

// NocdConfig configures a file or block device emulating a 2.0 device
type NocdConfig struct {
	Path     string
	Writable bool

	// IOUring submits through io_uring when built with -tags giouring
	IOUring bool

	Logger *logging.Logger
}

// Nocd presents a plain file or block device as a single parallel unit
// 2.0 device. Every chunk accepts random writes and erase discards the
// chunk's byte range. Out-of-band metadata is not available.
type Nocd struct {
	cfg      NocdConfig
	file     *os.File
	ring     uring.Ring
	blkdev   bool
	nchunk   int
	identify []byte
	logger   *logging.Logger

	mu     sync.Mutex
	closed bool
	chunks []simChunk
}

// NewNocd opens cfg.Path. The device capacity is truncated to whole chunks
// and must hold at least one.
func NewNocd(cfg NocdConfig) (*Nocd, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default().WithDevice(filepath.Base(cfg.Path))
	}

	flags := os.O_RDONLY
	if cfg.Writable {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(cfg.Path, flags, 0)
	if err != nil {
		return nil, err
	}

	n := &Nocd{cfg: cfg, file: f, logger: logger}
	if err := n.init(); err != nil {
		f.Close()
		return nil, err
	}
	return n, nil
}

func (n *Nocd) init() error {
	fi, err := n.file.Stat()
	if err != nil {
		return err
	}

	size := uint64(fi.Size())
	if fi.Mode()&os.ModeDevice != 0 {
		n.blkdev = true
		if size, err = blockSize(int(n.file.Fd())); err != nil {
			return err
		}
	} else if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is neither a file nor a block device: %w", n.cfg.Path, syscall.ENODEV)
	}

	n.nchunk = int(size / nocdChunkNBytes)
	if n.nchunk == 0 {
		return fmt.Errorf("%s holds %d bytes, less than one chunk: %w", n.cfg.Path, size, syscall.EINVAL)
	}
	if n.nchunk > nocdMaxChunks {
		n.nchunk = nocdMaxChunks
	}

	idfy := &uapi.IdfyS20{
		Verid: constants.VeridS20,
		Lbaf:  uapi.Lbaf{PugrpLen: 1, PunitLen: 1, ChunkLen: nocdChunkBits, SectrLen: nocdSectrBits},
		Lgeo: uapi.Lgeo{
			Npugrp: 1,
			Npunit: 1,
			Nchunk: uint32(n.nchunk),
			Nsectr: nocdNSectr,
			Nbytes: nocdNBytes,
		},
		Wrt:  uapi.Wrt{WsMin: nocdWsMin, WsOpt: nocdWsOpt},
		Perf: uapi.Perf{Trdt: 1, Trdm: 1, Twrt: 1, Twrm: 1, Tcet: 1, Tcem: 1},
	}
	if n.identify, err = uapi.EncodeIdfy(idfy); err != nil {
		return err
	}

	n.chunks = make([]simChunk, n.nchunk)
	for i := range n.chunks {
		n.chunks[i].state = constants.ChunkStateFree
	}

	n.ring, err = uring.NewRing(uring.Config{
		Entries: constants.NaddrMax,
		FD:      int32(n.file.Fd()),
		IOUring: n.cfg.IOUring,
	})
	if err != nil {
		return err
	}

	n.logger.Info("emulating 2.0 device",
		"blkdev", n.blkdev, "nchunk", n.nchunk, "bytes", uint64(n.nchunk)*nocdChunkNBytes)
	return nil
}

func blockSize(fd int) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uapi.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}

// offset returns the byte offset of the sector addressed by ppa
func (n *Nocd) offset(ppa uint64) (int64, error) {
	sectr := ppa & (nocdNSectr - 1)
	chunk := (ppa >> nocdSectrBits) & (nocdMaxChunks - 1)
	if ppa>>(nocdSectrBits+nocdChunkBits) != 0 || chunk >= uint64(n.nchunk) {
		return 0, fmt.Errorf("address 0x%016x outside %d chunks: %w", ppa, n.nchunk, syscall.EINVAL)
	}
	return int64(chunk*nocdChunkNBytes + sectr*nocdNBytes), nil
}

// extent is a run of sectors contiguous on the backing store
type extent struct {
	first int // Index of the first address of the run
	off   int64
	count int
}

func (n *Nocd) extents(ppas []uint64) ([]extent, error) {
	if len(ppas) == 0 || len(ppas) > constants.NaddrMax {
		return nil, fmt.Errorf("%d addresses: %w", len(ppas), syscall.EINVAL)
	}

	var runs []extent
	for i, ppa := range ppas {
		off, err := n.offset(ppa)
		if err != nil {
			return nil, err
		}
		if k := len(runs) - 1; k >= 0 && runs[k].off+int64(runs[k].count)*nocdNBytes == off {
			runs[k].count++
			continue
		}
		runs = append(runs, extent{first: i, off: off, count: 1})
	}
	return runs, nil
}

func (n *Nocd) check(mutating bool) error {
	if n.closed {
		return syscall.EBADF
	}
	if mutating && !n.cfg.Writable {
		return syscall.EROFS
	}
	return nil
}

// Identify implements interfaces.Backend
func (n *Nocd) Identify() ([]byte, error) {
	buf := make([]byte, len(n.identify))
	copy(buf, n.identify)
	return buf, nil
}

// Serial implements interfaces.SerialBackend
func (n *Nocd) Serial() string {
	return "NOCD-" + filepath.Base(n.cfg.Path)
}

// Erase implements interfaces.Backend by discarding whole chunks
func (n *Nocd) Erase(ppas []uint64, meta []byte, flags uint16) (interfaces.Ret, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(true); err != nil {
		return interfaces.Ret{}, err
	}
	if meta != nil {
		return interfaces.Ret{}, syscall.ENOSYS
	}
	if len(ppas) == 0 || len(ppas) > constants.NaddrMax {
		return interfaces.Ret{}, syscall.EINVAL
	}

	chunks := make([]int, len(ppas))
	for i, ppa := range ppas {
		off, err := n.offset(ppa)
		if err != nil {
			return interfaces.Ret{}, err
		}
		chunks[i] = int(off / nocdChunkNBytes)
	}

	for _, chunk := range chunks {
		if err := n.discard(int64(chunk)*nocdChunkNBytes, nocdChunkNBytes); err != nil {
			n.logger.Warn("discard failed", "chunk", chunk, "error", err)
			return interfaces.Ret{}, err
		}
		n.chunks[chunk] = simChunk{state: constants.ChunkStateFree}
	}
	return interfaces.Ret{}, nil
}

func (n *Nocd) discard(off, length int64) error {
	fd := int(n.file.Fd())
	if n.blkdev {
		rng := [2]uint64{uint64(off), uint64(length)}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uapi.BLKDISCARD, uintptr(unsafe.Pointer(&rng)))
		if errno != 0 {
			return errno
		}
		return nil
	}
	return unix.Fallocate(fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
}

// Write implements interfaces.Backend. Contiguous addresses are written with
// a single operation.
func (n *Nocd) Write(ppas []uint64, data, meta []byte, flags uint16) (interfaces.Ret, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(true); err != nil {
		return interfaces.Ret{}, err
	}
	return n.transfer(true, ppas, data, meta)
}

// Read implements interfaces.Backend
func (n *Nocd) Read(ppas []uint64, data, meta []byte, flags uint16) (interfaces.Ret, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(false); err != nil {
		return interfaces.Ret{}, err
	}
	return n.transfer(false, ppas, data, meta)
}

func (n *Nocd) transfer(write bool, ppas []uint64, data, meta []byte) (interfaces.Ret, error) {
	if meta != nil {
		return interfaces.Ret{}, syscall.ENOSYS
	}
	if len(data) != len(ppas)*nocdNBytes {
		return interfaces.Ret{}, fmt.Errorf("%d data bytes for %d sectors: %w", len(data), len(ppas), syscall.EINVAL)
	}
	runs, err := n.extents(ppas)
	if err != nil {
		return interfaces.Ret{}, err
	}

	batch := n.ring.NewBatch()
	for i, r := range runs {
		p := data[r.first*nocdNBytes : (r.first+r.count)*nocdNBytes]
		if write {
			err = batch.AddWrite(p, r.off, uint64(i))
		} else {
			err = batch.AddRead(p, r.off, uint64(i))
		}
		if err != nil {
			return interfaces.Ret{}, err
		}
	}

	results, err := batch.Submit()
	if err != nil {
		return interfaces.Ret{}, err
	}
	for _, res := range results {
		if err := res.Error(); err != nil {
			r := runs[res.UserData()]
			n.logger.Warn("extent transfer failed", "write", write, "off", r.off, "sectors", r.count, "error", err)
			if errno, ok := err.(syscall.Errno); ok {
				return interfaces.Ret{}, errno
			}
			return interfaces.Ret{}, syscall.EIO
		}
	}

	if write {
		for _, ppa := range ppas {
			n.advance(ppa)
		}
	}
	return interfaces.Ret{}, nil
}

// advance moves the write pointer of the chunk holding ppa past it
func (n *Nocd) advance(ppa uint64) {
	c := &n.chunks[(ppa>>nocdSectrBits)&(nocdMaxChunks-1)]
	if wp := int(ppa&(nocdNSectr-1)) + 1; wp > c.wp {
		c.wp = wp
	}
	c.state = constants.ChunkStateOpen
	if c.wp == nocdNSectr {
		c.state = constants.ChunkStateClosed
	}
}

// Copy implements interfaces.Backend through a host bounce buffer
func (n *Nocd) Copy(src, dst []uint64, flags uint16) (interfaces.Ret, error) {
	if len(src) != len(dst) {
		return interfaces.Ret{}, syscall.EINVAL
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(true); err != nil {
		return interfaces.Ret{}, err
	}

	buf := queue.GetBuffer(uint32(len(src) * nocdNBytes))
	defer queue.PutBuffer(buf)
	if ret, err := n.transfer(false, src, buf, nil); err != nil {
		return ret, err
	}
	return n.transfer(true, dst, buf, nil)
}

// Report implements interfaces.ReportBackend from the host-side chunk state
func (n *Nocd) Report() ([]byte, interfaces.Ret, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(false); err != nil {
		return nil, interfaces.Ret{}, err
	}

	descrs := make([]uapi.RprtDescr, len(n.chunks))
	for i, c := range n.chunks {
		slba := uint64(i) << nocdSectrBits
		descrs[i] = uapi.RprtDescr{
			State:  c.state,
			Type:   constants.ChunkTypeWRan,
			Addr:   slba,
			Naddrs: nocdNSectr,
			Wptr:   slba + uint64(c.wp),
		}
	}
	return uapi.EncodeRprt(descrs), interfaces.Ret{}, nil
}

// NewAsync implements interfaces.AsyncBackend
func (n *Nocd) NewAsync(depth int) (interfaces.AsyncContext, error) {
	r, err := queue.NewRunner(context.Background(), queue.Config{
		Depth:  depth,
		Logger: n.logger,
		Executor: func(cmd *interfaces.Command) (interfaces.Ret, error) {
			switch cmd.Opcode {
			case constants.OpcErase:
				return n.Erase(cmd.Ppas, cmd.Meta, cmd.Flags)
			case constants.OpcWrite:
				return n.Write(cmd.Ppas, cmd.Data, cmd.Meta, cmd.Flags)
			case constants.OpcRead:
				return n.Read(cmd.Ppas, cmd.Data, cmd.Meta, cmd.Flags)
			case constants.OpcCopy:
				return n.Copy(cmd.Ppas, cmd.Dst, cmd.Flags)
			}
			return interfaces.Ret{}, syscall.ENOSYS
		},
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close implements interfaces.Backend
func (n *Nocd) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true

	err := n.ring.Close()
	if cerr := n.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenNocd is the Opener for the NOCD backend
func OpenNocd(path string, flags int) (interfaces.Backend, error) {
	return NewNocd(NocdConfig{
		Path:     path,
		Writable: flags&interfaces.OpenWritable != 0,
		IOUring:  flags&interfaces.OpenIOUring != 0,
	})
}

var (
	_ interfaces.ReportBackend = (*Nocd)(nil)
	_ interfaces.SerialBackend = (*Nocd)(nil)
	_ interfaces.AsyncBackend  = (*Nocd)(nil)
)
