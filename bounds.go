package lightnvm

import (
	"fmt"
	"strings"
)

// BoundsMask has one bit per address dimension exceeding the geometry
type BoundsMask uint32

const (
	BoundsCh    BoundsMask = 0x1
	BoundsLun   BoundsMask = 0x2
	BoundsPl    BoundsMask = 0x4
	BoundsBlk   BoundsMask = 0x8
	BoundsPg    BoundsMask = 0x10
	BoundsSec   BoundsMask = 0x20
	BoundsPugrp BoundsMask = 0x40
	BoundsPunit BoundsMask = 0x80
	BoundsChunk BoundsMask = 0x100
	BoundsSectr BoundsMask = 0x200
)

var boundsNames = []struct {
	m    BoundsMask
	name string
}{
	{BoundsCh, "ch"},
	{BoundsLun, "lun"},
	{BoundsPl, "pl"},
	{BoundsBlk, "blk"},
	{BoundsPg, "pg"},
	{BoundsSec, "sec"},
	{BoundsPugrp, "pugrp"},
	{BoundsPunit, "punit"},
	{BoundsChunk, "chunk"},
	{BoundsSectr, "sectr"},
}

func (m BoundsMask) String() string {
	if m == 0 {
		return "ok"
	}
	var names []string
	for _, bn := range boundsNames {
		if m&bn.m != 0 {
			names = append(names, bn.name)
		}
	}
	if rest := m &^ (BoundsSectr<<1 - 1); rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}

// CheckS12 checks the 1.2 fields of a against the geometry
func (g *Geometry) CheckS12(a Addr) BoundsMask {
	var m BoundsMask
	if a.Ch() >= g.NChannels {
		m |= BoundsCh
	}
	if a.Lun() >= g.NLuns {
		m |= BoundsLun
	}
	if a.Pl() >= g.NPlanes {
		m |= BoundsPl
	}
	if a.Blk() >= g.NBlocks {
		m |= BoundsBlk
	}
	if a.Pg() >= g.NPages {
		m |= BoundsPg
	}
	if a.Sec() >= g.NSectors {
		m |= BoundsSec
	}
	return m
}

// CheckS20 checks the 2.0 fields of a against the geometry
func (g *Geometry) CheckS20(a Addr) BoundsMask {
	var m BoundsMask
	if a.Pugrp() >= g.L.NPugrp {
		m |= BoundsPugrp
	}
	if a.Punit() >= g.L.NPunit {
		m |= BoundsPunit
	}
	if a.Chunk() >= g.L.NChunk {
		m |= BoundsChunk
	}
	if a.Sectr() >= g.L.NSectr {
		m |= BoundsSectr
	}
	return m
}

// Check validates a using the layout of the given revision; zero means the
// address is valid.
func (g *Geometry) Check(a Addr, verid uint8) BoundsMask {
	if verid == VeridS20 {
		return g.CheckS20(a)
	}
	return g.CheckS12(a)
}
