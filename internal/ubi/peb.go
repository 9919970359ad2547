// Package ubi implements the L2 layer of the forensic pipeline: parsing
// per-PEB headers, resolving the LEB→PEB mapping, and materialising UBI
// volumes as lazy logical-LEB byte streams.
package ubi

import (
	"fmt"

	"github.com/go-ubift/ubift/internal/crc"
	"github.com/go-ubift/ubift/internal/image"
	"github.com/go-ubift/ubift/internal/types"
)

// PEBState classifies a physical erase block per spec.md §3.
type PEBState int

const (
	PEBFree PEBState = iota
	PEBData
	PEBCorrupt
)

func (s PEBState) String() string {
	switch s {
	case PEBFree:
		return "free"
	case PEBData:
		return "data"
	default:
		return "corrupt"
	}
}

// PEB is a parsed physical erase block: its headers plus the absolute
// offset it lives at within the image.
type PEB struct {
	Num          int
	Offset       int64
	EC           types.ECHeader
	ECValid      bool
	VID          types.VIDHeader
	VIDValid     bool
	State        PEBState
	PartitionOff int64
	PEBSize      int
}

// DataOffset is the absolute offset where this PEB's LEB payload begins.
func (p PEB) DataOffset() int64 {
	return p.Offset + int64(p.EC.DataOffset)
}

// DataLen is the number of usable bytes in this PEB's LEB payload.
func (p PEB) DataLen() int64 {
	return int64(p.PEBSize) - int64(p.EC.DataOffset)
}

// Data reads this PEB's LEB payload directly out of img, bypassing the
// live LEB→PEB map — used by the recovery engine to scan stale and
// corrupt PEBs that Volume.ReadLEB would never surface.
func (p PEB) Data(img *image.Image) ([]byte, error) {
	return img.ReadAt(p.DataOffset(), p.DataLen())
}

// EnumeratePEBs slices the partition into PEB-sized chunks and parses the
// EC and VID headers of each, per spec.md §4.2 "Enumerate PEBs".
func EnumeratePEBs(part image.MTDPartition) ([]PEB, error) {
	if part.Geometry.PEBSize <= 0 {
		return nil, fmt.Errorf("ubi: partition has no PEB size; geometry must be resolved first")
	}
	pebSize := part.Geometry.PEBSize
	count := int(part.Length / int64(pebSize))
	pebs := make([]PEB, 0, count)

	for i := 0; i < count; i++ {
		off := part.Offset + int64(i)*int64(pebSize)
		p := PEB{Num: i, Offset: off, PartitionOff: part.Offset, PEBSize: pebSize}

		ecBuf, err := part.Image.ReadAt(off, types.ECHeaderSize)
		if err != nil {
			p.State = PEBCorrupt
			pebs = append(pebs, p)
			continue
		}
		ec, err := types.ParseECHeader(ecBuf)
		if err != nil || !ec.ValidMagic() {
			p.State = PEBFree
			pebs = append(pebs, p)
			continue
		}
		p.EC = ec
		p.ECValid = ecHeaderCRCValid(ecBuf)

		vidOff := off + int64(ec.VIDHdrOffset)
		vidBuf, err := part.Image.ReadAt(vidOff, types.VIDHeaderSize)
		if err != nil {
			p.State = PEBFree
			pebs = append(pebs, p)
			continue
		}
		vid, err := types.ParseVIDHeader(vidBuf)
		if err != nil || !vid.ValidMagic() {
			p.State = PEBFree
			pebs = append(pebs, p)
			continue
		}
		p.VID = vid
		p.VIDValid = vidHeaderCRCValid(vidBuf)
		if p.VIDValid {
			p.State = PEBData
		} else {
			p.State = PEBCorrupt
		}
		pebs = append(pebs, p)
	}
	return pebs, nil
}

// ecHeaderCRCValid recomputes the CRC32 over the EC header body (magic
// through image_seq plus the trailing padding, i.e. everything before the
// hdr_crc field) and compares against the stored value.
func ecHeaderCRCValid(buf []byte) bool {
	if len(buf) < types.ECHeaderSize {
		return false
	}
	got := crc.IEEE(buf[:types.ECHeaderSize-4])
	want := be32(buf[types.ECHeaderSize-4:])
	return got == want
}

func vidHeaderCRCValid(buf []byte) bool {
	if len(buf) < types.VIDHeaderSize {
		return false
	}
	got := crc.IEEE(buf[:types.VIDHeaderSize-4])
	want := be32(buf[types.VIDHeaderSize-4:])
	return got == want
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
