package constants

// Specification version identifiers as reported by identify
const (
	VeridS12 = 0x1
	VeridS20 = 0x2
	// VeridS13 marks a draft 2.0 identify that lacks a complete LBA format
	VeridS13 = 0x2 + (0x1 << 7)
)

// Vendor opcodes
const (
	OpcIdfy  = 0xE2
	OpcSBbt  = 0xF1
	OpcGBbt  = 0xF2
	OpcRprt  = 0xF2
	OpcErase = 0x90
	OpcWrite = 0x91
	OpcRead  = 0x92
	OpcCopy  = 0x93
)

// Command flags. The plane mode bits occupy the low bits, command mode the
// upper ones.
const (
	FlagPModeSngl = 0x0
	FlagPModeDual = 0x1
	FlagPModeQuad = 0x2
	FlagScrbl     = 0x200

	CmdSync   = 0x1 << 4
	CmdAsync  = 0x1 << 5
	CmdScalar = 0x1 << 6
	CmdVector = 0x1 << 7

	FlagPModeMask = FlagPModeDual | FlagPModeQuad
)

// Meta modes used when filling out-of-band buffers
const (
	MetaModeNone  = 0x0
	MetaModeAlpha = 0x1
	MetaModeConst = 0x2
)

// Device quirks
const (
	QuirkPModeEraseRunroll    = 0x1
	QuirkNSIDByNameConv       = 0x2
	QuirkOOBRead1st4BytesNull = 0x4
	QuirkOOBTooLarge          = 0x8
)

// Backend identifiers
const (
	BeAny   = 0x0
	BeIoctl = 0x1
	BeLbd   = 0x2
	BeSpdk  = 0x4
	BeNocd  = 0x8
	BeSim   = 0x10
)

// Bad block states
const (
	BbtFree = 0x0
	BbtBad  = 0x1
	BbtGBad = 0x1 << 1
	BbtDmrk = 0x1 << 2
	BbtHmrk = 0x1 << 3
)

// Chunk states and types from the report chunk descriptor
const (
	ChunkStateFree    = 0x1
	ChunkStateClosed  = 0x2
	ChunkStateOpen    = 0x4
	ChunkStateOffline = 0x8

	ChunkTypeWSeq = 0x1
	ChunkTypeWRan = 0x2
	ChunkTypeSRec = 0x10
)

// Report chunk options
const (
	RprtAll  = 0x0
	RprtFree = 0x1
	RprtFull = 0x2
	RprtOpen = 0x3
	RprtBad  = 0x4
)

// Limits
const (
	// NaddrMax is the largest number of addresses carried by one vector command
	NaddrMax = 64

	// SectorShift converts byte offsets to 512 byte LBAs
	SectorShift = 9

	// IdfyNBytes is the size of the identify payload
	IdfyNBytes = 4096

	// DefaultBbtCacheSize is the number of (ch,lun) tables kept in the cache
	DefaultBbtCacheSize = 256

	// DefaultAsyncDepth is the default queue depth for async contexts
	DefaultAsyncDepth = 128

	// CX8800ESSerial prefixes the serials of devices with known quirks
	CX8800ESSerial = "CX8800ES"
)

// Status codes returned by devices
const (
	// StatusOffline is reported when erasing or writing an offline or bad block
	StatusOffline = 0x4281
	// StatusHighECC and StatusEmptyPage are informational read results
	StatusHighECC   = 0x700
	StatusEmptyPage = 0x4700
	// StatusWritePtr is reported on writes that do not start at the write pointer
	StatusWritePtr = 0x42F0
)
