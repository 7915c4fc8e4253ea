package lightnvm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
)

// Identify revisions
const (
	VeridS12 = constants.VeridS12
	VeridS13 = constants.VeridS13
	VeridS20 = constants.VeridS20
)

// Vector command opcodes
const (
	OpcErase = constants.OpcErase
	OpcWrite = constants.OpcWrite
	OpcRead  = constants.OpcRead
	OpcCopy  = constants.OpcCopy
)

// Command flags passed to Erase, Write, Read and Copy
const (
	FlagPModeSngl uint16 = constants.FlagPModeSngl
	FlagPModeDual uint16 = constants.FlagPModeDual
	FlagPModeQuad uint16 = constants.FlagPModeQuad
	FlagScrbl     uint16 = constants.FlagScrbl

	flagPModeMask uint16 = constants.FlagPModeMask
)

// Re-export limits for public API
const (
	NaddrMax            = constants.NaddrMax
	SectorShift         = constants.SectorShift
	DefaultBbtCacheSize = constants.DefaultBbtCacheSize
	DefaultAsyncDepth   = constants.DefaultAsyncDepth
)

// PModeString names a plane mode
func PModeString(pmode uint16) string {
	switch pmode & flagPModeMask {
	case FlagPModeSngl:
		return "SNGL"
	case FlagPModeDual:
		return "DUAL"
	case FlagPModeQuad:
		return "QUAD"
	}
	return fmt.Sprintf("PMODE(0x%x)", pmode)
}

// BackendID identifies a transport implementation
type BackendID int

const (
	BeAny   BackendID = constants.BeAny
	BeIoctl BackendID = constants.BeIoctl
	BeLbd   BackendID = constants.BeLbd
	BeSpdk  BackendID = constants.BeSpdk
	BeNocd  BackendID = constants.BeNocd
	BeSim   BackendID = constants.BeSim
)

var backendNames = map[BackendID]string{
	BeAny:   "ANY",
	BeIoctl: "IOCTL",
	BeLbd:   "LBD",
	BeSpdk:  "SPDK",
	BeNocd:  "NOCD",
	BeSim:   "SIM",
}

func (id BackendID) String() string {
	if name, ok := backendNames[id]; ok {
		return name
	}
	return fmt.Sprintf("BackendID(0x%x)", int(id))
}

// ParseBackendID accepts a backend name (case insensitive) or a number in any
// base understood by strconv.
func ParseBackendID(s string) (BackendID, error) {
	for id, name := range backendNames {
		if strings.EqualFold(s, name) {
			return id, nil
		}
	}
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return BeAny, NewError("parse_backend", ErrCodeInvalidArgument, fmt.Sprintf("unknown backend %q", s))
	}
	if _, ok := backendNames[BackendID(v)]; !ok {
		return BeAny, NewError("parse_backend", ErrCodeInvalidArgument, fmt.Sprintf("unknown backend id 0x%x", v))
	}
	return BackendID(v), nil
}

// Quirks is a set of device workarounds
type Quirks uint32

const (
	QuirkPModeEraseRunroll    Quirks = constants.QuirkPModeEraseRunroll
	QuirkNSIDByNameConv       Quirks = constants.QuirkNSIDByNameConv
	QuirkOOBRead1st4BytesNull Quirks = constants.QuirkOOBRead1st4BytesNull
	QuirkOOBTooLarge          Quirks = constants.QuirkOOBTooLarge
)

var quirkNames = []struct {
	q    Quirks
	name string
}{
	{QuirkPModeEraseRunroll, "PMODE_ERASE_RUNROLL"},
	{QuirkNSIDByNameConv, "NSID_BY_NAMECONV"},
	{QuirkOOBRead1st4BytesNull, "OOB_READ_1ST4BYTES_NULL"},
	{QuirkOOBTooLarge, "OOB_2LRG"},
}

// Has reports whether every quirk in other is set
func (q Quirks) Has(other Quirks) bool {
	return q&other == other
}

func (q Quirks) String() string {
	if q == 0 {
		return "none"
	}
	var names []string
	rest := q
	for _, qn := range quirkNames {
		if q&qn.q != 0 {
			names = append(names, qn.name)
			rest &^= qn.q
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// MetaMode selects how out-of-band buffers are filled
type MetaMode int

const (
	MetaModeNone  MetaMode = constants.MetaModeNone
	MetaModeAlpha MetaMode = constants.MetaModeAlpha
	MetaModeConst MetaMode = constants.MetaModeConst
)

func (m MetaMode) String() string {
	switch m {
	case MetaModeNone:
		return "NONE"
	case MetaModeAlpha:
		return "ALPHA"
	case MetaModeConst:
		return "CONST"
	}
	return fmt.Sprintf("MetaMode(%d)", int(m))
}

// BbtState is the state of one plane-block in a bad block table
type BbtState uint8

const (
	BbtFree BbtState = constants.BbtFree
	BbtBad  BbtState = constants.BbtBad
	BbtGBad BbtState = constants.BbtGBad
	BbtDmrk BbtState = constants.BbtDmrk
	BbtHmrk BbtState = constants.BbtHmrk
)

// Valid reports whether s is one of the defined states
func (s BbtState) Valid() bool {
	switch s {
	case BbtFree, BbtBad, BbtGBad, BbtDmrk, BbtHmrk:
		return true
	}
	return false
}

func (s BbtState) String() string {
	switch s {
	case BbtFree:
		return "FREE"
	case BbtBad:
		return "BAD"
	case BbtGBad:
		return "GBAD"
	case BbtDmrk:
		return "DMRK"
	case BbtHmrk:
		return "HMRK"
	}
	return fmt.Sprintf("BbtState(0x%x)", uint8(s))
}

// ParseBbtState accepts a state name or number
func ParseBbtState(s string) (BbtState, error) {
	for _, st := range []BbtState{BbtFree, BbtBad, BbtGBad, BbtDmrk, BbtHmrk} {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || !BbtState(v).Valid() {
		return BbtFree, NewError("parse_bbt_state", ErrCodeInvalidArgument, fmt.Sprintf("unknown bbt state %q", s))
	}
	return BbtState(v), nil
}

// ChunkState is the state of a 2.0 chunk
type ChunkState uint8

const (
	ChunkFree    ChunkState = constants.ChunkStateFree
	ChunkClosed  ChunkState = constants.ChunkStateClosed
	ChunkOpen    ChunkState = constants.ChunkStateOpen
	ChunkOffline ChunkState = constants.ChunkStateOffline
)

func (s ChunkState) String() string {
	switch s {
	case ChunkFree:
		return "FREE"
	case ChunkClosed:
		return "CLOSED"
	case ChunkOpen:
		return "OPEN"
	case ChunkOffline:
		return "OFFLINE"
	}
	return fmt.Sprintf("ChunkState(0x%x)", uint8(s))
}

// ChunkType is the write mode of a 2.0 chunk
type ChunkType uint8

const (
	ChunkWSeq ChunkType = constants.ChunkTypeWSeq
	ChunkWRan ChunkType = constants.ChunkTypeWRan
	ChunkSRec ChunkType = constants.ChunkTypeSRec
)

func (t ChunkType) String() string {
	var names []string
	if t&ChunkWSeq != 0 {
		names = append(names, "W_SEQ")
	}
	if t&ChunkWRan != 0 {
		names = append(names, "W_RAN")
	}
	if t&ChunkSRec != 0 {
		names = append(names, "SREC")
	}
	if len(names) == 0 {
		return fmt.Sprintf("ChunkType(0x%x)", uint8(t))
	}
	return strings.Join(names, "|")
}

// ReportOpt filters chunk reports
type ReportOpt int

const (
	RprtAll  ReportOpt = constants.RprtAll
	RprtFree ReportOpt = constants.RprtFree
	RprtFull ReportOpt = constants.RprtFull
	RprtOpen ReportOpt = constants.RprtOpen
	RprtBad  ReportOpt = constants.RprtBad
)

func (o ReportOpt) String() string {
	switch o {
	case RprtAll:
		return "ALL"
	case RprtFree:
		return "FREE"
	case RprtFull:
		return "FULL"
	case RprtOpen:
		return "OPEN"
	case RprtBad:
		return "BAD"
	}
	return fmt.Sprintf("ReportOpt(%d)", int(o))
}

// ParseReportOpt accepts ALL, FREE, FULL, OPEN or BAD
func ParseReportOpt(s string) (ReportOpt, error) {
	for _, o := range []ReportOpt{RprtAll, RprtFree, RprtFull, RprtOpen, RprtBad} {
		if strings.EqualFold(s, o.String()) {
			return o, nil
		}
	}
	return RprtAll, NewError("parse_report_opt", ErrCodeInvalidArgument, fmt.Sprintf("unknown report option %q", s))
}
