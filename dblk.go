package lightnvm

// Dblk is a single block (1.2) or chunk (2.0) accessed one virtual page at a
// time. Offsets passed to Pwrite and Pread must be page aligned.
type Dblk struct {
	*Vblk
}

// NewDblk creates a view of the block or chunk holding addr
func NewDblk(dev *Device, addr Addr) (*Dblk, error) {
	v, err := NewVblk(dev, []Addr{addr})
	if err != nil {
		return nil, err
	}
	return &Dblk{Vblk: v}, nil
}

// Addr returns the block or chunk address
func (b *Dblk) Addr() Addr { return b.blks[0] }
