//go:build linux

package ctrl

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// rprtNBytes is the report payload size requested from the device
const rprtNBytes = 1474*8 + 8

// Controller submits LightNVM vector commands through the kernel
// passthrough ioctls.
type Controller struct {
	fd     int
	path   string
	nsid   uint32
	logger *logging.Logger
}

func Open(params Params) (*Controller, error) {
	flags := unix.O_RDONLY
	if params.Writable {
		flags = unix.O_RDWR | unix.O_DIRECT
	}

	fd, err := unix.Open(params.Path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", params.Path, err)
	}

	nsid := params.Nsid
	if nsid == 0 {
		if nsid, err = NsidFromPath(params.Path); err != nil {
			nsid = 1
		}
	}

	c := &Controller{
		fd:     fd,
		path:   params.Path,
		nsid:   nsid,
		logger: logging.Default().WithDevice(filepath.Base(params.Path)),
	}
	c.logger.Debug("opened passthrough controller", "fd", fd, "nsid", nsid)

	return c, nil
}

func (c *Controller) Close() error {
	if c.fd >= 0 {
		err := unix.Close(c.fd)
		c.fd = -1
		return err
	}
	return nil
}

// Nsid returns the namespace id commands are issued against
func (c *Controller) Nsid() uint32 {
	return c.nsid
}

// Serial reads the controller serial from sysfs
func (c *Controller) Serial() string {
	raw, err := os.ReadFile(filepath.Join("/sys/class/nvme", CtrlName(c.path), "serial"))
	if err != nil {
		c.logger.Debug("no serial available", "error", err)
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// Size returns the namespace capacity in bytes
func (c *Controller) Size() (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uapi.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}

func (c *Controller) submit(req uintptr, buf []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

func (c *Controller) admin(cmd *uapi.VadminCmd) (Ret, error) {
	cmd.Nsid = c.nsid
	buf := uapi.MarshalVadmin(cmd)

	err := c.submit(uapi.NVME_NVM_IOCTL_ADMIN_VIO, buf)
	if uerr := uapi.UnmarshalVadmin(buf, cmd); uerr != nil {
		return Ret{}, uerr
	}

	ret := Ret{Status: cmd.Status, Result: cmd.Result}
	if err != nil {
		return ret, err
	}
	if cmd.Result != 0 {
		return ret, syscall.EIO
	}
	return ret, nil
}

func (c *Controller) vio(cmd *uapi.VioCmd) (Ret, error) {
	buf := uapi.MarshalVio(cmd)

	err := c.submit(uapi.NVME_NVM_IOCTL_SUBMIT_VIO, buf)
	if uerr := uapi.UnmarshalVio(buf, cmd); uerr != nil {
		return Ret{}, uerr
	}

	ret := Ret{Status: cmd.Status, Result: cmd.Result}
	if err == nil && cmd.Result != 0 {
		err = syscall.EIO
	}
	if err != nil && ret.Acceptable() {
		return ret, nil
	}
	return ret, err
}

// Identify fetches the identify payload
func (c *Controller) Identify() ([]byte, Ret, error) {
	buf := make([]byte, uapi.IdfyNBytes)

	ret, err := c.admin(&uapi.VadminCmd{
		Opcode:  constants.OpcIdfy,
		Addr:    uint64(uintptr(unsafe.Pointer(&buf[0]))),
		DataLen: uint32(len(buf)),
	})
	runtime.KeepAlive(buf)
	if err != nil {
		c.logger.Debug("identify failed", "error", err, "result", ret.Result)
		return nil, ret, err
	}

	return buf, ret, nil
}

// GetBbt fetches the raw bad block table of the (ch,lun) encoded in ppa
func (c *Controller) GetBbt(ppa uint64, nblks int) ([]byte, Ret, error) {
	buf := make([]byte, uapi.BbtHdrNBytes+nblks)

	ret, err := c.admin(&uapi.VadminCmd{
		Opcode:  constants.OpcGBbt,
		Addr:    uint64(uintptr(unsafe.Pointer(&buf[0]))),
		DataLen: uint32(len(buf)),
		PpaList: ppa,
	})
	runtime.KeepAlive(buf)
	if err != nil {
		return nil, ret, err
	}

	return buf, ret, nil
}

// SetBbt marks the given addresses with state
func (c *Controller) SetBbt(ppas []uint64, state uint16) (Ret, error) {
	if len(ppas) == 0 || len(ppas) > constants.NaddrMax {
		return Ret{}, syscall.EINVAL
	}

	cmd := &uapi.VadminCmd{
		Opcode:  constants.OpcSBbt,
		Control: state,
		Nppas:   uint16(len(ppas) - 1),
		PpaList: ppas[0],
	}
	if len(ppas) > 1 {
		cmd.PpaList = uint64(uintptr(unsafe.Pointer(&ppas[0])))
	}

	ret, err := c.admin(cmd)
	runtime.KeepAlive(ppas)
	return ret, err
}

// Report fetches the raw chunk report
func (c *Controller) Report() ([]byte, Ret, error) {
	buf := make([]byte, rprtNBytes)

	ret, err := c.admin(&uapi.VadminCmd{
		Opcode:  constants.OpcRprt,
		Addr:    uint64(uintptr(unsafe.Pointer(&buf[0]))),
		DataLen: uint32(len(buf)),
	})
	runtime.KeepAlive(buf)
	if err != nil {
		return nil, ret, err
	}

	return buf, ret, nil
}

// Vector submits an erase, write or read. data and meta may be nil.
func (c *Controller) Vector(opcode uint8, ppas []uint64, data, meta []byte,
	sectorNBytes, metaNBytes uint32, control uint16) (Ret, error) {
	var dataPtr, metaPtr, listPtr uint64
	if len(data) > 0 {
		dataPtr = uint64(uintptr(unsafe.Pointer(&data[0])))
	}
	if len(meta) > 0 {
		metaPtr = uint64(uintptr(unsafe.Pointer(&meta[0])))
	}
	if len(ppas) > 0 {
		listPtr = uint64(uintptr(unsafe.Pointer(&ppas[0])))
	}

	cmd, err := BuildVio(opcode, ppas, listPtr, dataPtr, metaPtr, sectorNBytes, metaNBytes, control)
	if err != nil {
		return Ret{}, err
	}

	ret, err := c.vio(cmd)
	runtime.KeepAlive(ppas)
	runtime.KeepAlive(data)
	runtime.KeepAlive(meta)
	return ret, err
}

// Copy submits a vector copy from src to dst
func (c *Controller) Copy(src, dst []uint64, control uint16) (Ret, error) {
	if len(src) != len(dst) {
		return Ret{}, syscall.EINVAL
	}

	var listPtr, dstPtr uint64
	if len(src) > 0 {
		listPtr = uint64(uintptr(unsafe.Pointer(&src[0])))
		dstPtr = uint64(uintptr(unsafe.Pointer(&dst[0])))
	}

	cmd, err := BuildVio(constants.OpcCopy, src, listPtr, 0, 0, 0, 0, control)
	if err != nil {
		return Ret{}, err
	}
	if len(dst) == 1 {
		dstPtr = dst[0]
	}
	cmd.Rsvd3[0] = uint32(dstPtr)
	cmd.Rsvd3[1] = uint32(dstPtr >> 32)

	ret, err := c.vio(cmd)
	runtime.KeepAlive(src)
	runtime.KeepAlive(dst)
	return ret, err
}
