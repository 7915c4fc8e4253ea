package ctrl

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// Params configures a passthrough controller
type Params struct {
	Path     string
	Writable bool

	// Nsid overrides the namespace id. Zero derives it from Path.
	Nsid uint32
}

// DefaultParams returns read-only parameters for the device at path
func DefaultParams(path string) Params {
	return Params{Path: path}
}

// Ret carries the lower-level completion codes of one command
type Ret struct {
	Status uint64
	Result uint32
}

// Acceptable reports whether a non-zero result is informational only
func (r Ret) Acceptable() bool {
	switch r.Result {
	case constants.StatusHighECC, constants.StatusEmptyPage:
		return true
	}
	return false
}

// NsidFromPath derives the namespace id from the nvme naming convention,
// e.g. /dev/nvme0n1 is namespace 1.
func NsidFromPath(path string) (uint32, error) {
	const prefix = "/dev/nvme"

	if len(path) < len(prefix)+3 || !strings.HasPrefix(path, prefix) {
		return 0, syscall.EINVAL
	}

	i := strings.LastIndexByte(path, 'n')
	if i < len(prefix) {
		return 0, syscall.EINVAL
	}

	val, err := strconv.Atoi(path[i+1:])
	if err != nil || val < 1 || val > 1024 {
		return 0, syscall.EINVAL
	}

	return uint32(val), nil
}

// CtrlName returns the controller name for a namespace path, e.g. nvme0 for
// /dev/nvme0n1.
func CtrlName(path string) string {
	name := filepath.Base(path)
	if i := strings.LastIndexByte(name, 'n'); i > len("nvme") {
		return name[:i]
	}
	return name
}

// BuildVio constructs a vector user command. A single address is passed by
// value, otherwise ppaList must point at the encoded list.
func BuildVio(opcode uint8, ppas []uint64, ppaList uint64, data, meta uint64,
	sectorNBytes, metaNBytes uint32, control uint16) (*uapi.VioCmd, error) {
	if len(ppas) == 0 || len(ppas) > constants.NaddrMax {
		return nil, fmt.Errorf("naddrs %d: %w", len(ppas), syscall.EINVAL)
	}

	n := uint32(len(ppas))
	cmd := &uapi.VioCmd{
		Opcode:  opcode,
		Control: control,
		Nppas:   uint16(n - 1),
		Addr:    data,
	}

	if n == 1 {
		cmd.PpaList = ppas[0]
	} else {
		cmd.PpaList = ppaList
	}
	if data != 0 {
		cmd.DataLen = sectorNBytes * n
	}
	if meta != 0 {
		cmd.Metadata = meta
		cmd.MetadataLen = metaNBytes * n
	}

	return cmd, nil
}
