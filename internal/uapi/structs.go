package uapi

import "unsafe"

// Ppaf is the 1.2 physical page address format: bit offset and width per
// field, in the order ch, lun, pl, blk, pg, sec.
type Ppaf struct {
	ChOff  uint8
	ChLen  uint8
	LunOff uint8
	LunLen uint8
	PlOff  uint8
	PlLen  uint8
	BlkOff uint8
	BlkLen uint8
	PgOff  uint8
	PgLen  uint8
	SecOff uint8
	SecLen uint8
	Rsvd   [4]uint8
}

var _ [PpafNBytes]byte = [unsafe.Sizeof(Ppaf{})]byte{}

// Pairs returns the (offset, width) pairs in ch..sec order
func (p *Ppaf) Pairs() [6][2]uint8 {
	return [6][2]uint8{
		{p.ChOff, p.ChLen},
		{p.LunOff, p.LunLen},
		{p.PlOff, p.PlLen},
		{p.BlkOff, p.BlkLen},
		{p.PgOff, p.PgLen},
		{p.SecOff, p.SecLen},
	}
}

// Lbaf is the 2.0 LBA format: field widths only, offsets are implied by
// packing sectr, chunk, punit, pugrp from bit zero upwards.
type Lbaf struct {
	PugrpLen uint8
	PunitLen uint8
	ChunkLen uint8
	SectrLen uint8
	Rsvd     [4]uint8
}

var _ [LbafNBytes]byte = [unsafe.Sizeof(Lbaf{})]byte{}

// Complete reports whether every field width is non-zero
func (l *Lbaf) Complete() bool {
	return l.PugrpLen != 0 && l.PunitLen != 0 && l.ChunkLen != 0 && l.SectrLen != 0
}

// IdfyCgrp is one 1.2 configuration group
type IdfyCgrp struct {
	Mtype   uint8
	Fmtype  uint8
	Rsvd2   [2]uint8
	NumCh   uint8
	NumLun  uint8
	NumPln  uint8
	Rsvd7   uint8
	NumBlk  uint16
	NumPg   uint16
	FpgSz   uint16
	Csecs   uint16
	Sos     uint16
	Rsvd18  [2]uint8
	Trdt    uint32
	Trdm    uint32
	Tprt    uint32
	Tprm    uint32
	Tbet    uint32
	Tbem    uint32
	Mpos    uint32
	Mccap   uint32
	Cpar    uint16
	Rsvd54  [10]uint8
	Mts     [896]uint8
}

// IdfyS12 is the 1.2 identify payload
type IdfyS12 struct {
	Verid   uint8
	Vnvmt   uint8
	Cgroups uint8
	Rsvd3   uint8
	Cap     uint32
	Dom     uint32
	Ppaf    Ppaf
	Rsvd28  [228]uint8
	Grp     [4]IdfyCgrp
}

// Lgeo is the 2.0 logical geometry
type Lgeo struct {
	Npugrp    uint16
	Npunit    uint16
	Nchunk    uint32
	Nsectr    uint32
	Nbytes    uint32
	NbytesOOB uint32
	Resv      [44]uint8
}

// Wrt holds the 2.0 write data requirements
type Wrt struct {
	WsMin    uint32
	WsOpt    uint32
	MwCunits uint32
	Resv     [52]uint8
}

// Perf holds the 2.0 performance related metrics
type Perf struct {
	Trdt uint32
	Trdm uint32
	Twrt uint32
	Twrm uint32
	Tcet uint32
	Tcem uint32
	Resv [40]uint8
}

// IdfyS13 is the draft 2.0 identify, which still carries a ppaf
type IdfyS13 struct {
	Verid      uint8
	VeridMinor uint8
	Rsvd1      [2]uint8
	Lbaf       Lbaf
	Ppaf       Ppaf
	Rsvd2      [4]uint8
	Mccap      uint32
	Rsvd3      [28]uint8
	Lgeo       Lgeo
	Wrt        Wrt
	Perf       Perf
	Rsvd4      [3840]uint8
}

// IdfyS20 is the 2.0 identify payload
type IdfyS20 struct {
	Verid      uint8
	VeridMinor uint8
	Rsvd1      [6]uint8
	Lbaf       Lbaf
	Mccap      uint32
	Rsvd2      [44]uint8
	Lgeo       Lgeo
	Wrt        Wrt
	Perf       Perf
	Rsvd3      [3840]uint8
}

var (
	_ [IdfyCgrpNBytes]byte = [unsafe.Sizeof(IdfyCgrp{})]byte{}
	_ [IdfyNBytes]byte     = [unsafe.Sizeof(IdfyS12{})]byte{}
	_ [IdfyNBytes]byte     = [unsafe.Sizeof(IdfyS13{})]byte{}
	_ [IdfyNBytes]byte     = [unsafe.Sizeof(IdfyS20{})]byte{}
	_ [64]byte             = [unsafe.Sizeof(Lgeo{})]byte{}
	_ [64]byte             = [unsafe.Sizeof(Wrt{})]byte{}
	_ [64]byte             = [unsafe.Sizeof(Perf{})]byte{}
)

// BbtHdr precedes the per-block states of a bad block table
type BbtHdr struct {
	Tblid  [4]uint8
	Verid  uint16
	Revid  uint16
	Rsvd1  uint32
	Tblks  uint32
	Tfact  uint32
	Tgrown uint32
	Tdresv uint32
	Thresv uint32
	Rsvd2  [8]uint32
}

var _ [BbtHdrNBytes]byte = [unsafe.Sizeof(BbtHdr{})]byte{}

// RprtHdr precedes the chunk descriptors of a report
type RprtHdr struct {
	Nchunks uint64
	Rsvd    [56]uint8
}

// RprtDescr describes one chunk
type RprtDescr struct {
	State  uint8
	Type   uint8
	Limits uint8
	Rsvd1  [5]uint8
	Addr   uint64
	Naddrs uint64
	Wptr   uint64
	Rsvd2  [32]uint8
}

var (
	_ [RprtHdrNBytes]byte = [unsafe.Sizeof(RprtHdr{})]byte{}
	_ [RprtDescrSize]byte = [unsafe.Sizeof(RprtDescr{})]byte{}
)

// VioCmd is the vector user command submitted through SUBMIT_VIO
//
//	struct {
//	  __u8  opcode;  __u8 flags;  __u16 control;
//	  __u16 nppas;   __u16 rsvd;
//	  __u64 metadata; __u64 addr; __u64 ppa_list;
//	  __u32 metadata_len; __u32 data_len;
//	  __u64 status; __u32 result; __u32 rsvd3[3];
//	};
type VioCmd struct {
	Opcode      uint8
	Flags       uint8
	Control     uint16
	Nppas       uint16
	Rsvd        uint16
	Metadata    uint64
	Addr        uint64
	PpaList     uint64
	MetadataLen uint32
	DataLen     uint32
	Status      uint64
	Result      uint32
	Rsvd3       [3]uint32
	// Pad the command up to the size of the passthrough union
	Pad [4]uint32
}

// VadminCmd is the vector admin command submitted through ADMIN_VIO
type VadminCmd struct {
	Opcode      uint8
	Flags       uint8
	Rsvd        [2]uint8
	Nsid        uint32
	Cdw2        uint32
	Cdw3        uint32
	Metadata    uint64
	Addr        uint64
	MetadataLen uint32
	DataLen     uint32
	PpaList     uint64
	Nppas       uint16
	Control     uint16
	Cdw13       uint32
	Cdw14       uint32
	Cdw15       uint32
	Status      uint64
	Result      uint32
	TimeoutMs   uint32
}

var (
	_ [VioCmdSize]byte = [unsafe.Sizeof(VioCmd{})]byte{}
	_ [VioCmdSize]byte = [unsafe.Sizeof(VadminCmd{})]byte{}
)
