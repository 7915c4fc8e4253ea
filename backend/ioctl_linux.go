//go:build linux

package backend

import (
	"fmt"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/ctrl"
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// Ioctl drives an Open-Channel SSD through the kernel LightNVM passthrough
// ioctls of an NVMe namespace.
type Ioctl struct {
	c        *ctrl.Controller
	logger   *logging.Logger
	identify []byte
	verid    uint8

	// Transfer sizes carried in every vector command
	sectorNBytes uint32
	metaNBytes   uint32

	closeOnce sync.Once
	closeErr  error
}

// NewIoctl opens the namespace at path and reads its identify payload
func NewIoctl(path string, writable bool) (*Ioctl, error) {
	c, err := ctrl.Open(ctrl.Params{Path: path, Writable: writable})
	if err != nil {
		return nil, err
	}

	be := &Ioctl{c: c, logger: logging.Default().WithDevice(filepath.Base(path))}
	if err := be.init(); err != nil {
		c.Close()
		return nil, err
	}
	return be, nil
}

func (b *Ioctl) init() error {
	buf, ret, err := b.c.Identify()
	if err != nil {
		b.logger.Debug("identify rejected", "status", ret.Status, "result", ret.Result, "error", err)
		return err
	}

	idfy, err := uapi.DecodeIdfy(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", syscall.EINVAL, err)
	}
	b.identify = buf
	b.verid = idfy.Verid

	switch {
	case idfy.S12 != nil:
		b.sectorNBytes = uint32(idfy.S12.Grp[0].Csecs)
		b.metaNBytes = uint32(idfy.S12.Grp[0].Sos)
	case idfy.S13 != nil:
		b.sectorNBytes = idfy.S13.Lgeo.Nbytes
		b.metaNBytes = idfy.S13.Lgeo.NbytesOOB
	case idfy.S20 != nil:
		b.sectorNBytes = idfy.S20.Lgeo.Nbytes
		b.metaNBytes = idfy.S20.Lgeo.NbytesOOB
	}
	if b.sectorNBytes == 0 {
		return fmt.Errorf("identify reports zero sector size: %w", syscall.EINVAL)
	}

	b.logger.Debug("passthrough ready", "verid", b.verid, "nsid", b.c.Nsid(),
		"sector_nbytes", b.sectorNBytes, "meta_nbytes", b.metaNBytes)
	return nil
}

func toRet(r ctrl.Ret) interfaces.Ret {
	return interfaces.Ret{Status: r.Status, Result: r.Result}
}

// Identify implements interfaces.Backend
func (b *Ioctl) Identify() ([]byte, error) {
	buf := make([]byte, len(b.identify))
	copy(buf, b.identify)
	return buf, nil
}

// Serial implements interfaces.SerialBackend
func (b *Ioctl) Serial() string {
	return b.c.Serial()
}

// Erase implements interfaces.Backend
func (b *Ioctl) Erase(ppas []uint64, meta []byte, flags uint16) (interfaces.Ret, error) {
	ret, err := b.c.Vector(constants.OpcErase, ppas, nil, meta, b.sectorNBytes, b.metaNBytes, flags)
	return toRet(ret), err
}

// Write implements interfaces.Backend
func (b *Ioctl) Write(ppas []uint64, data, meta []byte, flags uint16) (interfaces.Ret, error) {
	ret, err := b.c.Vector(constants.OpcWrite, ppas, data, meta, b.sectorNBytes, b.metaNBytes, flags)
	return toRet(ret), err
}

// Read implements interfaces.Backend
func (b *Ioctl) Read(ppas []uint64, data, meta []byte, flags uint16) (interfaces.Ret, error) {
	ret, err := b.c.Vector(constants.OpcRead, ppas, data, meta, b.sectorNBytes, b.metaNBytes, flags)
	return toRet(ret), err
}

// Copy implements interfaces.Backend
func (b *Ioctl) Copy(src, dst []uint64, flags uint16) (interfaces.Ret, error) {
	ret, err := b.c.Copy(src, dst, flags)
	return toRet(ret), err
}

// GetBbt implements interfaces.BbtBackend. Only 1.2 devices carry tables.
func (b *Ioctl) GetBbt(ppa uint64, nblks int) ([]byte, interfaces.Ret, error) {
	if b.verid != constants.VeridS12 {
		return nil, interfaces.Ret{}, syscall.ENOSYS
	}
	buf, ret, err := b.c.GetBbt(ppa, nblks)
	return buf, toRet(ret), err
}

// SetBbt implements interfaces.BbtBackend
func (b *Ioctl) SetBbt(ppas []uint64, state uint16) (interfaces.Ret, error) {
	if b.verid != constants.VeridS12 {
		return interfaces.Ret{}, syscall.ENOSYS
	}
	ret, err := b.c.SetBbt(ppas, state)
	return toRet(ret), err
}

// Report implements interfaces.ReportBackend. Only 2.0 devices report.
func (b *Ioctl) Report() ([]byte, interfaces.Ret, error) {
	if b.verid != constants.VeridS20 {
		return nil, interfaces.Ret{}, syscall.ENOSYS
	}
	buf, ret, err := b.c.Report()
	return buf, toRet(ret), err
}

// Close implements interfaces.Backend
func (b *Ioctl) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.c.Close()
	})
	return b.closeErr
}

// OpenIoctl is the Opener for the IOCTL backend
func OpenIoctl(path string, flags int) (interfaces.Backend, error) {
	return NewIoctl(path, flags&interfaces.OpenWritable != 0)
}

var (
	_ interfaces.BbtBackend    = (*Ioctl)(nil)
	_ interfaces.ReportBackend = (*Ioctl)(nil)
	_ interfaces.SerialBackend = (*Ioctl)(nil)
)
