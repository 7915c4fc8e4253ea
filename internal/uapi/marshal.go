package uapi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/noxer/bytewriter"
	"github.com/xaionaro-go/bytesextra"

	"github.com/ehrlich-b/go-lightnvm/internal/constants"
)

var (
	ErrInsufficientData = errors.New("insufficient data for unmarshaling")
	ErrInvalidBbt       = errors.New("invalid bad block table")
	ErrInvalidVerid     = errors.New("unsupported identify version")
)

// MarshalVio encodes a vector user command into its 80 byte layout
func MarshalVio(cmd *VioCmd) []byte {
	buf := make([]byte, VioCmdSize)

	buf[0] = cmd.Opcode
	buf[1] = cmd.Flags
	binary.LittleEndian.PutUint16(buf[2:4], cmd.Control)
	binary.LittleEndian.PutUint16(buf[4:6], cmd.Nppas)
	binary.LittleEndian.PutUint16(buf[6:8], cmd.Rsvd)
	binary.LittleEndian.PutUint64(buf[8:16], cmd.Metadata)
	binary.LittleEndian.PutUint64(buf[16:24], cmd.Addr)
	binary.LittleEndian.PutUint64(buf[24:32], cmd.PpaList)
	binary.LittleEndian.PutUint32(buf[32:36], cmd.MetadataLen)
	binary.LittleEndian.PutUint32(buf[36:40], cmd.DataLen)
	binary.LittleEndian.PutUint64(buf[40:48], cmd.Status)
	binary.LittleEndian.PutUint32(buf[48:52], cmd.Result)
	for i, v := range cmd.Rsvd3 {
		binary.LittleEndian.PutUint32(buf[52+4*i:56+4*i], v)
	}

	return buf
}

// UnmarshalVio decodes the completion fields of a vector user command
func UnmarshalVio(data []byte, cmd *VioCmd) error {
	if len(data) < VioCmdSize {
		return ErrInsufficientData
	}

	cmd.Opcode = data[0]
	cmd.Flags = data[1]
	cmd.Control = binary.LittleEndian.Uint16(data[2:4])
	cmd.Nppas = binary.LittleEndian.Uint16(data[4:6])
	cmd.Rsvd = binary.LittleEndian.Uint16(data[6:8])
	cmd.Metadata = binary.LittleEndian.Uint64(data[8:16])
	cmd.Addr = binary.LittleEndian.Uint64(data[16:24])
	cmd.PpaList = binary.LittleEndian.Uint64(data[24:32])
	cmd.MetadataLen = binary.LittleEndian.Uint32(data[32:36])
	cmd.DataLen = binary.LittleEndian.Uint32(data[36:40])
	cmd.Status = binary.LittleEndian.Uint64(data[40:48])
	cmd.Result = binary.LittleEndian.Uint32(data[48:52])
	for i := range cmd.Rsvd3 {
		cmd.Rsvd3[i] = binary.LittleEndian.Uint32(data[52+4*i : 56+4*i])
	}

	return nil
}

// MarshalVadmin encodes a vector admin command into its 80 byte layout
func MarshalVadmin(cmd *VadminCmd) []byte {
	buf := make([]byte, VioCmdSize)

	buf[0] = cmd.Opcode
	buf[1] = cmd.Flags
	binary.LittleEndian.PutUint32(buf[4:8], cmd.Nsid)
	binary.LittleEndian.PutUint32(buf[8:12], cmd.Cdw2)
	binary.LittleEndian.PutUint32(buf[12:16], cmd.Cdw3)
	binary.LittleEndian.PutUint64(buf[16:24], cmd.Metadata)
	binary.LittleEndian.PutUint64(buf[24:32], cmd.Addr)
	binary.LittleEndian.PutUint32(buf[32:36], cmd.MetadataLen)
	binary.LittleEndian.PutUint32(buf[36:40], cmd.DataLen)
	binary.LittleEndian.PutUint64(buf[40:48], cmd.PpaList)
	binary.LittleEndian.PutUint16(buf[48:50], cmd.Nppas)
	binary.LittleEndian.PutUint16(buf[50:52], cmd.Control)
	binary.LittleEndian.PutUint32(buf[52:56], cmd.Cdw13)
	binary.LittleEndian.PutUint32(buf[56:60], cmd.Cdw14)
	binary.LittleEndian.PutUint32(buf[60:64], cmd.Cdw15)
	binary.LittleEndian.PutUint64(buf[64:72], cmd.Status)
	binary.LittleEndian.PutUint32(buf[72:76], cmd.Result)
	binary.LittleEndian.PutUint32(buf[76:80], cmd.TimeoutMs)

	return buf
}

// UnmarshalVadmin decodes a vector admin command
func UnmarshalVadmin(data []byte, cmd *VadminCmd) error {
	if len(data) < VioCmdSize {
		return ErrInsufficientData
	}

	cmd.Opcode = data[0]
	cmd.Flags = data[1]
	cmd.Nsid = binary.LittleEndian.Uint32(data[4:8])
	cmd.Cdw2 = binary.LittleEndian.Uint32(data[8:12])
	cmd.Cdw3 = binary.LittleEndian.Uint32(data[12:16])
	cmd.Metadata = binary.LittleEndian.Uint64(data[16:24])
	cmd.Addr = binary.LittleEndian.Uint64(data[24:32])
	cmd.MetadataLen = binary.LittleEndian.Uint32(data[32:36])
	cmd.DataLen = binary.LittleEndian.Uint32(data[36:40])
	cmd.PpaList = binary.LittleEndian.Uint64(data[40:48])
	cmd.Nppas = binary.LittleEndian.Uint16(data[48:50])
	cmd.Control = binary.LittleEndian.Uint16(data[50:52])
	cmd.Cdw13 = binary.LittleEndian.Uint32(data[52:56])
	cmd.Cdw14 = binary.LittleEndian.Uint32(data[56:60])
	cmd.Cdw15 = binary.LittleEndian.Uint32(data[60:64])
	cmd.Status = binary.LittleEndian.Uint64(data[64:72])
	cmd.Result = binary.LittleEndian.Uint32(data[72:76])
	cmd.TimeoutMs = binary.LittleEndian.Uint32(data[76:80])

	return nil
}

// Idfy is a decoded identify payload. Exactly one of the revision pointers
// is set, matching Verid.
type Idfy struct {
	Verid uint8
	S12   *IdfyS12
	S13   *IdfyS13
	S20   *IdfyS20
}

// EncodeIdfy writes one of IdfyS12, IdfyS13 or IdfyS20 into a fresh 4096
// byte buffer.
func EncodeIdfy(v any) ([]byte, error) {
	switch v.(type) {
	case *IdfyS12, *IdfyS13, *IdfyS20:
	default:
		return nil, fmt.Errorf("encode identify: unexpected type %T", v)
	}

	buf := make([]byte, IdfyNBytes)
	if err := binary.Write(bytewriter.New(buf), binary.LittleEndian, v); err != nil {
		return nil, fmt.Errorf("encode identify: %w", err)
	}
	return buf, nil
}

// DecodeIdfy parses an identify payload. A 2.0 payload with an incomplete
// LBA format is a draft revision and decodes as 1.3.
func DecodeIdfy(buf []byte) (*Idfy, error) {
	if len(buf) < IdfyNBytes {
		return nil, ErrInsufficientData
	}

	rws := bytesextra.NewReadWriteSeeker(buf[:IdfyNBytes])

	var verid uint8
	if err := binary.Read(rws, binary.LittleEndian, &verid); err != nil {
		return nil, err
	}

	idfy := &Idfy{Verid: verid}
	if verid == constants.VeridS20 {
		var lbaf Lbaf
		if _, err := rws.Seek(8, io.SeekStart); err != nil {
			return nil, err
		}
		if err := binary.Read(rws, binary.LittleEndian, &lbaf); err != nil {
			return nil, err
		}
		if !lbaf.Complete() {
			idfy.Verid = constants.VeridS13
		}
	}

	if _, err := rws.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var err error
	switch idfy.Verid {
	case constants.VeridS12:
		idfy.S12 = &IdfyS12{}
		err = binary.Read(rws, binary.LittleEndian, idfy.S12)
	case constants.VeridS13:
		idfy.S13 = &IdfyS13{}
		err = binary.Read(rws, binary.LittleEndian, idfy.S13)
	case constants.VeridS20:
		idfy.S20 = &IdfyS20{}
		err = binary.Read(rws, binary.LittleEndian, idfy.S20)
	default:
		return nil, fmt.Errorf("%w: 0x%x", ErrInvalidVerid, verid)
	}
	if err != nil {
		return nil, err
	}

	return idfy, nil
}

// EncodeBbt lays out a bad block table header followed by its states
func EncodeBbt(blks []uint8) []byte {
	hdr := BbtHdr{
		Tblid: BbtMagic,
		Tblks: uint32(len(blks)),
	}
	for _, b := range blks {
		switch {
		case b&constants.BbtGBad != 0:
			hdr.Tgrown++
		case b&constants.BbtBad != 0:
			hdr.Tfact++
		case b&constants.BbtDmrk != 0:
			hdr.Tdresv++
		case b&constants.BbtHmrk != 0:
			hdr.Thresv++
		}
	}

	buf := make([]byte, BbtHdrNBytes+len(blks))
	w := bytewriter.New(buf)
	// The buffer is sized for the header so these cannot fail
	_ = binary.Write(w, binary.LittleEndian, &hdr)
	_, _ = w.Write(blks)

	return buf
}

// DecodeBbt validates the table identifier and returns the header and a copy
// of the nblks block states.
func DecodeBbt(buf []byte, nblks int) (*BbtHdr, []uint8, error) {
	if len(buf) < BbtHdrNBytes {
		return nil, nil, ErrInsufficientData
	}

	rws := bytesextra.NewReadWriteSeeker(buf)

	// Check the identifier before trusting any count in the header
	var tblid [4]uint8
	if _, err := io.ReadFull(rws, tblid[:]); err != nil {
		return nil, nil, err
	}
	if tblid != BbtMagic {
		return nil, nil, fmt.Errorf("%w: bad table identifier %q", ErrInvalidBbt, tblid[:])
	}
	if _, err := rws.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}

	hdr := &BbtHdr{}
	if err := binary.Read(rws, binary.LittleEndian, hdr); err != nil {
		return nil, nil, err
	}
	if int(hdr.Tblks) != nblks {
		return nil, nil, fmt.Errorf("%w: tblks %d, expected %d", ErrInvalidBbt, hdr.Tblks, nblks)
	}

	blks := make([]uint8, nblks)
	if _, err := io.ReadFull(rws, blks); err != nil {
		return nil, nil, ErrInsufficientData
	}

	return hdr, blks, nil
}

// EncodeRprt lays out a report header followed by the descriptors
func EncodeRprt(descrs []RprtDescr) []byte {
	buf := make([]byte, RprtHdrNBytes+RprtDescrSize*len(descrs))
	w := bytewriter.New(buf)
	_ = binary.Write(w, binary.LittleEndian, &RprtHdr{Nchunks: uint64(len(descrs))})
	_ = binary.Write(w, binary.LittleEndian, descrs)

	return buf
}

// DecodeRprt parses a report. The descriptor count is the smaller of the
// header count and what the buffer holds.
func DecodeRprt(buf []byte) ([]RprtDescr, error) {
	if len(buf) < RprtHdrNBytes {
		return nil, ErrInsufficientData
	}

	rws := bytesextra.NewReadWriteSeeker(buf)

	// Only the count is defined; skip the reserved rest of the header
	var n uint64
	if err := binary.Read(rws, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if _, err := rws.Seek(RprtHdrNBytes, io.SeekStart); err != nil {
		return nil, err
	}

	if avail := uint64(len(buf)-RprtHdrNBytes) / RprtDescrSize; n > avail {
		n = avail
	}

	descrs := make([]RprtDescr, n)
	if err := binary.Read(rws, binary.LittleEndian, descrs); err != nil {
		return nil, err
	}

	return descrs, nil
}
