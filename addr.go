package lightnvm

import "fmt"

// Addr is a generic media address packed into 64 bits.
//
// The same word is read through one of two layouts depending on the device
// revision. Fields listed from the least significant bit:
//
//	1.2 and 1.3: sec:8 pg:16 pl:8 blk:16 lun:8 ch:7 (1 bit reserved)
//	2.0:         sectr:32 chunk:16 punit:8 pugrp:8
//
// Setters truncate values to the field width.
type Addr uint64

type genField struct {
	off   uint
	width uint
}

// Generic 1.2 layout
var (
	genSec = genField{0, 8}
	genPg  = genField{8, 16}
	genPl  = genField{24, 8}
	genBlk = genField{32, 16}
	genLun = genField{48, 8}
	genCh  = genField{56, 7}
)

// Generic 2.0 layout
var (
	genSectr = genField{0, 32}
	genChunk = genField{32, 16}
	genPunit = genField{48, 8}
	genPugrp = genField{56, 8}
)

func (f genField) max() uint64 {
	return 1<<f.width - 1
}

func (a Addr) get(f genField) int {
	return int((uint64(a) >> f.off) & f.max())
}

func (a *Addr) set(f genField, v int) {
	mask := f.max() << f.off
	*a = Addr((uint64(*a) &^ mask) | ((uint64(v) << f.off) & mask))
}

// AddrS12 builds a 1.2 style address
func AddrS12(ch, lun, pl, blk, pg, sec int) Addr {
	var a Addr
	a.SetCh(ch)
	a.SetLun(lun)
	a.SetPl(pl)
	a.SetBlk(blk)
	a.SetPg(pg)
	a.SetSec(sec)
	return a
}

// AddrS20 builds a 2.0 style address
func AddrS20(pugrp, punit, chunk, sectr int) Addr {
	var a Addr
	a.SetPugrp(pugrp)
	a.SetPunit(punit)
	a.SetChunk(chunk)
	a.SetSectr(sectr)
	return a
}

func (a Addr) Ch() int  { return a.get(genCh) }
func (a Addr) Lun() int { return a.get(genLun) }
func (a Addr) Pl() int  { return a.get(genPl) }
func (a Addr) Blk() int { return a.get(genBlk) }
func (a Addr) Pg() int  { return a.get(genPg) }
func (a Addr) Sec() int { return a.get(genSec) }

func (a *Addr) SetCh(v int)  { a.set(genCh, v) }
func (a *Addr) SetLun(v int) { a.set(genLun, v) }
func (a *Addr) SetPl(v int)  { a.set(genPl, v) }
func (a *Addr) SetBlk(v int) { a.set(genBlk, v) }
func (a *Addr) SetPg(v int)  { a.set(genPg, v) }
func (a *Addr) SetSec(v int) { a.set(genSec, v) }

func (a Addr) Pugrp() int { return a.get(genPugrp) }
func (a Addr) Punit() int { return a.get(genPunit) }
func (a Addr) Chunk() int { return a.get(genChunk) }
func (a Addr) Sectr() int { return a.get(genSectr) }

func (a *Addr) SetPugrp(v int) { a.set(genPugrp, v) }
func (a *Addr) SetPunit(v int) { a.set(genPunit, v) }
func (a *Addr) SetChunk(v int) { a.set(genChunk, v) }
func (a *Addr) SetSectr(v int) { a.set(genSectr, v) }

// String prints the raw generic word
func (a Addr) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// FormatS12 prints the 1.2 fields
func (a Addr) FormatS12() string {
	return fmt.Sprintf("(0x%016x){ ch(%02d), lun(%02d), pl(%d), blk(%04d), pg(%03d), sec(%d) }",
		uint64(a), a.Ch(), a.Lun(), a.Pl(), a.Blk(), a.Pg(), a.Sec())
}

// FormatS20 prints the 2.0 fields
func (a Addr) FormatS20() string {
	return fmt.Sprintf("(0x%016x){ pugrp(%02d), punit(%02d), chunk(%04d), sectr(%04d) }",
		uint64(a), a.Pugrp(), a.Punit(), a.Chunk(), a.Sectr())
}

// Describe prints the fields matching the given identify revision
func (a Addr) Describe(verid uint8) string {
	if verid == VeridS20 {
		return a.FormatS20()
	}
	return a.FormatS12()
}
