package lightnvm

import (
	"fmt"
	"math/bits"

	"golang.org/x/exp/constraints"

	"github.com/ehrlich-b/go-lightnvm/internal/uapi"
)

// Geometry describes the layout of a device. It is derived once from the
// identify data and not modified afterwards, except by the OOB quirk.
type Geometry struct {
	NChannels int `json:"nchannels"`
	NLuns     int `json:"nluns"`
	NPlanes   int `json:"nplanes"`
	NBlocks   int `json:"nblocks"`
	NPages    int `json:"npages"`
	NSectors  int `json:"nsectors"`

	PageNBytes   int `json:"page_nbytes"`
	SectorNBytes int `json:"sector_nbytes"`
	MetaNBytes   int `json:"meta_nbytes"`

	TBytes     uint64 `json:"tbytes"`
	VblkNBytes uint64 `json:"vblk_nbytes"`
	VpgNBytes  int    `json:"vpg_nbytes"`

	// L holds the 2.0 view; zero for 1.2 devices
	L LGeometry `json:"l"`
}

// LGeometry is the 2.0 logical geometry and write requirements
type LGeometry struct {
	NPugrp    int `json:"npugrp"`
	NPunit    int `json:"npunit"`
	NChunk    int `json:"nchunk"`
	NSectr    int `json:"nsectr"`
	NBytes    int `json:"nbytes"`
	NBytesOOB int `json:"nbytes_oob"`

	WsMin    int `json:"ws_min"`
	WsOpt    int `json:"ws_opt"`
	MwCunits int `json:"mw_cunits"`
}

// Identity is everything derived from an identify payload
type Identity struct {
	Verid  uint8
	Geo    Geometry
	Format *Format
	Mccap  uint32
	PMode  uint16
}

func isPow2[T constraints.Integer](v T) bool {
	return v > 0 && v&(v-1) == 0
}

func ilog2[T constraints.Unsigned](v T) int {
	return bits.Len64(uint64(v)) - 1
}

func invalidGeometry(format string, args ...any) *Error {
	return NewError("geometry", ErrCodeInvalidGeometry, fmt.Sprintf(format, args...))
}

// Derive decodes an identify payload into geometry, address format and the
// default plane mode. It is a pure function of raw.
func Derive(raw []byte) (*Identity, error) {
	idfy, err := uapi.DecodeIdfy(raw)
	if err != nil {
		e := WrapError("identify", err)
		e.Code = ErrCodeInvalidGeometry
		return nil, e
	}

	id := &Identity{Verid: idfy.Verid}

	switch idfy.Verid {
	case VeridS12:
		s12 := idfy.S12
		grp := &s12.Grp[0]
		id.Geo = Geometry{
			NChannels:    int(grp.NumCh),
			NLuns:        int(grp.NumLun),
			NPlanes:      int(grp.NumPln),
			NBlocks:      int(grp.NumBlk),
			NPages:       int(grp.NumPg),
			PageNBytes:   int(grp.FpgSz),
			SectorNBytes: int(grp.Csecs),
			MetaNBytes:   int(grp.Sos),
		}
		id.Mccap = grp.Mccap
		if id.Format, err = formatFromPpaf(&s12.Ppaf); err != nil {
			return nil, err
		}

	case VeridS13:
		s13 := idfy.S13
		if err := id.Geo.fromLgeo(&s13.Lgeo, &s13.Wrt); err != nil {
			return nil, err
		}
		id.Mccap = s13.Mccap
		if id.Format, err = formatFromPpaf(&s13.Ppaf); err != nil {
			return nil, err
		}

	case VeridS20:
		s20 := idfy.S20
		if err := id.Geo.fromLgeo(&s20.Lgeo, &s20.Wrt); err != nil {
			return nil, err
		}
		id.Mccap = s20.Mccap
		if id.Format, err = formatFromLbaf(&s20.Lbaf); err != nil {
			return nil, err
		}

	default:
		return nil, invalidGeometry("unsupported verid 0x%x", idfy.Verid)
	}

	if err := id.Geo.derive(); err != nil {
		return nil, err
	}
	if err := id.Geo.validate(id.Verid); err != nil {
		return nil, err
	}

	// Byte offsets and LBAs are the device address shifted by the sector
	// size; both must round-trip.
	if id.Geo.SectorNBytes < 1<<SectorShift {
		return nil, invalidGeometry("sector size %d is smaller than a %d byte LBA",
			id.Geo.SectorNBytes, 1<<SectorShift)
	}
	if ssw := ilog2(uint(id.Geo.SectorNBytes)); id.Format.Bits()+ssw > 64 {
		return nil, invalidGeometry("address format of %d bits shifted by %d overflows a byte offset",
			id.Format.Bits(), ssw)
	}

	switch id.Geo.NPlanes {
	case 4:
		id.PMode = FlagPModeQuad
	case 2:
		id.PMode = FlagPModeDual
	case 1:
		id.PMode = FlagPModeSngl
	default:
		return nil, invalidGeometry("unsupported nplanes %d", id.Geo.NPlanes)
	}

	return id, nil
}

// fromLgeo maps the 2.0 geometry onto the 1.2 view: a page is ws_min
// sectors and the planes are the ws_opt multiples of it.
func (g *Geometry) fromLgeo(lgeo *uapi.Lgeo, wrt *uapi.Wrt) error {
	g.L = LGeometry{
		NPugrp:    int(lgeo.Npugrp),
		NPunit:    int(lgeo.Npunit),
		NChunk:    int(lgeo.Nchunk),
		NSectr:    int(lgeo.Nsectr),
		NBytes:    int(lgeo.Nbytes),
		NBytesOOB: int(lgeo.NbytesOOB),
		WsMin:     int(wrt.WsMin),
		WsOpt:     int(wrt.WsOpt),
		MwCunits:  int(wrt.MwCunits),
	}

	l := &g.L
	if l.WsMin == 0 || l.WsOpt == 0 || l.NBytes == 0 || l.NSectr == 0 {
		return invalidGeometry("zero ws_min/ws_opt/nbytes/nsectr (%d/%d/%d/%d)",
			l.WsMin, l.WsOpt, l.NBytes, l.NSectr)
	}
	if l.WsOpt%l.WsMin != 0 {
		return invalidGeometry("ws_opt %d is not a multiple of ws_min %d", l.WsOpt, l.WsMin)
	}

	g.SectorNBytes = l.NBytes
	g.MetaNBytes = l.NBytesOOB
	g.PageNBytes = l.WsMin * l.NBytes
	g.NChannels = l.NPugrp
	g.NLuns = l.NPunit
	g.NBlocks = l.NChunk
	g.NPlanes = l.WsOpt / l.WsMin

	chunkNBytes := uint64(l.NSectr) * uint64(l.NBytes)
	if chunkNBytes%uint64(g.PageNBytes*g.NPlanes) != 0 {
		return invalidGeometry("chunk of %d bytes is not a multiple of ws_opt (%d bytes)",
			chunkNBytes, g.PageNBytes*g.NPlanes)
	}
	g.NPages = int(chunkNBytes / uint64(g.PageNBytes) / uint64(g.NPlanes))

	return nil
}

func (g *Geometry) derive() error {
	if g.SectorNBytes == 0 || g.PageNBytes == 0 {
		return invalidGeometry("zero sector or page size (%d/%d)", g.SectorNBytes, g.PageNBytes)
	}
	if !isPow2(g.SectorNBytes) {
		return invalidGeometry("sector size %d is not a power of two", g.SectorNBytes)
	}
	if g.PageNBytes%g.SectorNBytes != 0 {
		return invalidGeometry("page size %d is not a multiple of sector size %d", g.PageNBytes, g.SectorNBytes)
	}

	g.NSectors = g.PageNBytes / g.SectorNBytes
	g.VpgNBytes = g.NPlanes * g.NSectors * g.SectorNBytes
	g.VblkNBytes = uint64(g.VpgNBytes) * uint64(g.NPages)
	g.TBytes = uint64(g.NChannels) * uint64(g.NLuns) * uint64(g.NBlocks) * g.VblkNBytes

	return nil
}

// validate rejects zero dimensions and counts that do not fit the generic
// address fields.
func (g *Geometry) validate(verid uint8) error {
	type dim struct {
		name  string
		count int
		field genField
	}

	dims := []dim{
		{"nchannels", g.NChannels, genCh},
		{"nluns", g.NLuns, genLun},
		{"nplanes", g.NPlanes, genPl},
		{"nblocks", g.NBlocks, genBlk},
		{"npages", g.NPages, genPg},
		{"nsectors", g.NSectors, genSec},
	}
	if verid == VeridS20 {
		dims = []dim{
			{"nplanes", g.NPlanes, genPl},
			{"npugrp", g.L.NPugrp, genPugrp},
			{"npunit", g.L.NPunit, genPunit},
			{"nchunk", g.L.NChunk, genChunk},
			{"nsectr", g.L.NSectr, genSectr},
		}
	}

	for _, d := range dims {
		if d.count <= 0 {
			return invalidGeometry("%s is zero", d.name)
		}
		if uint64(d.count) > d.field.max()+1 {
			return invalidGeometry("%s %d does not fit %d bits", d.name, d.count, d.field.width)
		}
	}

	return nil
}

// Sectors returns the number of sectors addressed by a single block (1.2)
// or chunk (2.0).
func (g *Geometry) Sectors() int {
	return g.NPlanes * g.NPages * g.NSectors
}

// ChunkNBytes returns the size of one block across planes (1.2) or one
// chunk (2.0).
func (g *Geometry) ChunkNBytes() uint64 {
	return g.VblkNBytes
}

// NPUs returns the number of parallel units: channels times luns
func (g *Geometry) NPUs() int {
	return g.NChannels * g.NLuns
}
