// Package uapi provides the on-the-wire layouts of the Open-Channel SSD
// vendor commands and the LightNVM ioctl passthrough interface.
package uapi

// ioctl encoding (asm-generic)
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

// IOWR encodes a read/write ioctl request number
func IOWR(typ, nr, size uintptr) uintptr {
	return ((iocRead | iocWrite) << iocDirShift) |
		(typ << iocTypeShift) |
		(nr << iocNRShift) |
		(size << iocSizeShift)
}

// LightNVM passthrough ioctls. Both carry an 80 byte command.
var (
	NVME_NVM_IOCTL_ADMIN_VIO  = IOWR('L', 0x41, VioCmdSize)
	NVME_NVM_IOCTL_SUBMIT_VIO = IOWR('L', 0x42, VioCmdSize)
)

// Block device ioctls
const (
	BLKGETSIZE64 = 0x80081272
	BLKDISCARD   = 0x1277
	BLKSSZGET    = 0x1268
)

// Sizes of the fixed layouts
const (
	VioCmdSize     = 80
	IdfyNBytes     = 4096
	IdfyCgrpNBytes = 960
	BbtHdrNBytes   = 64
	RprtHdrNBytes  = 64
	RprtDescrSize  = 64
	PpafNBytes     = 16
	LbafNBytes     = 8
)

// Offsets into the 2.0 identify payload
const (
	S20LgeoOffset = 64
	S20WrtOffset  = 128
	S20PerfOffset = 192
	S12GrpOffset  = 256
)

// BbtMagic is the table identifier of a bad block table
var BbtMagic = [4]byte{'B', 'B', 'L', 'T'}
