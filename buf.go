package lightnvm

import (
	"fmt"
	"io"
	"unsafe"
)

// metaConstFill is the byte used by MetaModeConst
const metaConstFill = 0x65

// alignedSlice returns n bytes whose first byte is aligned to align, which
// must be a power of two.
func alignedSlice(n, align int) []byte {
	raw := make([]byte, n+align)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+n : off+n]
}

// BufAlloc returns a zeroed buffer of nbytes aligned to the sector size of geo
func BufAlloc(geo *Geometry, nbytes int) ([]byte, error) {
	if nbytes <= 0 {
		return nil, NewError("buf_alloc", ErrCodeInvalidArgument, fmt.Sprintf("invalid size %d", nbytes))
	}
	align := 512
	if geo != nil && isPow2(geo.SectorNBytes) {
		align = geo.SectorNBytes
	}
	return alignedSlice(nbytes, align), nil
}

// BufFill writes the repeating alphabet A..Z into buf
func BufFill(buf []byte) {
	for i := range buf {
		buf[i] = 'A' + byte(i%26)
	}
}

// BufFillMeta fills an out-of-band buffer of entryNBytes sized entries.
// MetaModeAlpha gives entry i the letter 'A' + i%26 and MetaModeConst fills
// everything with 0x65. MetaModeNone leaves buf untouched.
func BufFillMeta(buf []byte, entryNBytes int, mode MetaMode) {
	switch mode {
	case MetaModeAlpha:
		if entryNBytes <= 0 {
			return
		}
		for i := range buf {
			buf[i] = 'A' + byte((i/entryNBytes)%26)
		}
	case MetaModeConst:
		for i := range buf {
			buf[i] = metaConstFill
		}
	}
}

// BufDiff returns the number of differing bytes. Bytes past the end of the
// shorter buffer count as different.
func BufDiff(a, b []byte) int {
	n := len(a)
	extra := len(b) - len(a)
	if extra < 0 {
		n = len(b)
		extra = -extra
	}
	diff := extra
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			diff++
		}
	}
	return diff
}

// BufDiffPrint writes one line per differing byte to w and returns the count
func BufDiffPrint(w io.Writer, a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	diff := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			continue
		}
		diff++
		fmt.Fprintf(w, "off(%08d) 0x%02x != 0x%02x\n", i, a[i], b[i])
	}
	if len(a) != len(b) {
		fmt.Fprintf(w, "length %d != %d\n", len(a), len(b))
		diff += BufDiff(a[n:], b[n:])
	}
	return diff
}

// BufSet bundles an I/O buffer with the pattern it is expected to hold
type BufSet struct {
	Data     []byte // Buffer handed to reads and writes
	Expected []byte // Reference pattern
	Meta     []byte // Out-of-band buffer, one entry per sector

	metaNBytes int
	metaMode   MetaMode
}

// NewBufSet allocates a set of nbytes with meta room for every sector
func NewBufSet(geo *Geometry, nbytes int, mode MetaMode) (*BufSet, error) {
	if geo == nil {
		return nil, NewError("buf_set", ErrCodeInvalidArgument, "nil geometry")
	}
	data, err := BufAlloc(geo, nbytes)
	if err != nil {
		return nil, err
	}
	bs := &BufSet{
		Data:       data,
		Expected:   make([]byte, nbytes),
		metaNBytes: geo.MetaNBytes,
		metaMode:   mode,
	}
	if geo.MetaNBytes > 0 && geo.SectorNBytes > 0 {
		bs.Meta = make([]byte, (nbytes/geo.SectorNBytes)*geo.MetaNBytes)
	}
	return bs, nil
}

// Fill writes the pattern to Expected and Data and fills Meta
func (bs *BufSet) Fill() {
	BufFill(bs.Expected)
	copy(bs.Data, bs.Expected)
	BufFillMeta(bs.Meta, bs.metaNBytes, bs.metaMode)
}

// Clear zeroes Data, leaving Expected intact for a later Diff
func (bs *BufSet) Clear() {
	clear(bs.Data)
}

// Diff returns the number of bytes in Data not matching Expected
func (bs *BufSet) Diff() int {
	return BufDiff(bs.Data, bs.Expected)
}
