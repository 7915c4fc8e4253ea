package lightnvm

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// Field is the position of one address field in the device encoding
type Field struct {
	Name string `json:"name"`
	Off  uint8  `json:"off"`
	Len  uint8  `json:"len"`
}

// Mask returns the bits covered by the field
func (f Field) Mask() uint64 {
	if f.Len == 0 {
		return 0
	}
	return (uint64(1)<<f.Len - 1) << f.Off
}

// Format maps generic addresses onto the device address encoding. Masks are
// computed once on construction.
type Format struct {
	fields []Field
	masks  []uint64
	gen    []genField
	nbits  int
}

var s12Names = []string{"ch", "lun", "pl", "blk", "pg", "sec"}
var s12Gen = []genField{genCh, genLun, genPl, genBlk, genPg, genSec}

var s20Names = []string{"pugrp", "punit", "chunk", "sectr"}
var s20Gen = []genField{genPugrp, genPunit, genChunk, genSectr}

func newFormat(fields []Field, gen []genField) (*Format, error) {
	f := &Format{
		fields: fields,
		masks:  make([]uint64, len(fields)),
		gen:    gen,
	}
	var used uint64
	for i, fld := range fields {
		if int(fld.Off)+int(fld.Len) > 64 {
			return nil, NewError("format", ErrCodeInvalidGeometry,
				fmt.Sprintf("field %s exceeds 64 bits (off %d, len %d)", fld.Name, fld.Off, fld.Len))
		}
		if uint(fld.Len) > gen[i].width {
			return nil, NewError("format", ErrCodeInvalidGeometry,
				fmt.Sprintf("field %s wider than its generic field (%d > %d)", fld.Name, fld.Len, gen[i].width))
		}
		f.masks[i] = fld.Mask()
		if used&f.masks[i] != 0 {
			return nil, NewError("format", ErrCodeInvalidGeometry,
				fmt.Sprintf("field %s overlaps another field", fld.Name))
		}
		used |= f.masks[i]
	}
	f.nbits = bits.Len64(used)
	return f, nil
}

// Bits returns the number of low bits a device address can occupy
func (f *Format) Bits() int { return f.nbits }

// NewPpaFormat creates a 1.2 format from (offset, width) pairs in the order
// ch, lun, pl, blk, pg, sec.
func NewPpaFormat(pairs [6][2]uint8) (*Format, error) {
	fields := make([]Field, len(pairs))
	for i, p := range pairs {
		fields[i] = Field{Name: s12Names[i], Off: p[0], Len: p[1]}
	}
	return newFormat(fields, s12Gen)
}

// NewLbaFormat creates a 2.0 format from field widths. Offsets are implied:
// sectr starts at bit zero, followed by chunk, punit and pugrp.
func NewLbaFormat(pugrpLen, punitLen, chunkLen, sectrLen uint8) (*Format, error) {
	sectr := Field{Name: "sectr", Off: 0, Len: sectrLen}
	chunk := Field{Name: "chunk", Off: sectr.Off + sectrLen, Len: chunkLen}
	punit := Field{Name: "punit", Off: chunk.Off + chunkLen, Len: punitLen}
	pugrp := Field{Name: "pugrp", Off: punit.Off + punitLen, Len: pugrpLen}
	return newFormat([]Field{pugrp, punit, chunk, sectr}, s20Gen)
}

func formatFromPpaf(p *uapi.Ppaf) (*Format, error) {
	return NewPpaFormat(p.Pairs())
}

func formatFromLbaf(l *uapi.Lbaf) (*Format, error) {
	return NewLbaFormat(l.PugrpLen, l.PunitLen, l.ChunkLen, l.SectrLen)
}

// Gen2Dev encodes a generic address: the OR of each field shifted to its
// device offset.
func (f *Format) Gen2Dev(a Addr) uint64 {
	var dev uint64
	for i, g := range f.gen {
		dev |= uint64(a.get(g)) << f.fields[i].Off
	}
	return dev
}

// Dev2Gen decodes a device address
func (f *Format) Dev2Gen(dev uint64) Addr {
	var a Addr
	for i, g := range f.gen {
		a.set(g, int((dev&f.masks[i])>>f.fields[i].Off))
	}
	return a
}

// Fields returns the device fields, most significant generic field first
func (f *Format) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

// Masks returns the per-field masks in Fields order
func (f *Format) Masks() []uint64 {
	return append([]uint64(nil), f.masks...)
}

func (f *Format) String() string {
	var sb strings.Builder
	for i, fld := range f.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s(off %02d, len %02d, mask 0x%016x)", fld.Name, fld.Off, fld.Len, f.masks[i])
	}
	return sb.String()
}
