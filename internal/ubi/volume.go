package ubi

import (
	"bytes"
	"fmt"

	"github.com/go-ubift/ubift/internal/types"
)

// Volume is a reconstructed UBI volume: a sequence of logical erase blocks
// backed by the instance's live LEB→PEB map (spec.md §3 UBIVolume,
// "Materialise a volume").
type Volume struct {
	inst     *Instance
	ID       uint32
	Name     string
	Type     types.VolumeType
	Alignment uint32
	DataPad  uint32
	lebCount int
	orphan   bool
}

func newVolume(inst *Instance, id uint32, rec types.VtblRecord) *Volume {
	vt := types.VolumeDynamic
	if rec.VolType == types.VolAttrStatic {
		vt = types.VolumeStatic
	}
	return &Volume{
		inst:      inst,
		ID:        id,
		Name:      rec.FormattedName(),
		Type:      vt,
		Alignment: rec.Alignment,
		DataPad:   rec.DataPad,
		lebCount:  int(rec.ReservedPEBs),
	}
}

// newOrphanVolume builds a Volume descriptor for an id that has live PEBs
// but no corresponding layout-volume entry: its declared LEB count is
// simply the highest mapped lnum + 1, set by resolveLEBCount.
func newOrphanVolume(inst *Instance, id uint32) *Volume {
	v := &Volume{inst: inst, ID: id, Name: fmt.Sprintf("orphan_%d", id), Type: types.VolumeDynamic, orphan: true}
	return v
}

func (v *Volume) resolveLEBCount() {
	if !v.orphan {
		return
	}
	max := -1
	for key := range v.inst.live {
		if key.VolID == v.ID && int(key.LNum) > max {
			max = int(key.LNum)
		}
	}
	v.lebCount = max + 1
}

// LEBCount returns the number of logical erase blocks declared for this
// volume.
func (v *Volume) LEBCount() int {
	return v.lebCount
}

// IsOrphan reports whether this volume has no layout-volume entry.
func (v *Volume) IsOrphan() bool {
	return v.orphan
}

// ReadLEB returns the full LEB payload for lnum. An LEB with no live PEB
// mapping reads back as a buffer of 0xFF (erased NAND) per spec.md §3.
func (v *Volume) ReadLEB(lnum int) ([]byte, error) {
	if lnum < 0 || lnum >= v.lebCount {
		return nil, fmt.Errorf("ubi: volume %q has no leb %d (count %d)", v.Name, lnum, v.lebCount)
	}
	p, ok := v.inst.LivePEB(v.ID, uint32(lnum))
	if !ok {
		return bytes.Repeat([]byte{0xFF}, int(v.lebSize())), nil
	}
	data, err := v.inst.Partition.Image.ReadAt(p.DataOffset(), p.DataLen())
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// lebSize derives the usable LEB payload size from the instance's PEB
// geometry (PEB size minus the data offset of the first enumerated PEB).
func (v *Volume) lebSize() int64 {
	if len(v.inst.PEBs) == 0 {
		return 0
	}
	return v.inst.PEBs[0].DataLen()
}

// Bytes concatenates every LEB of the volume into one contiguous buffer,
// used by ubicat-style whole-volume reads.
func (v *Volume) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	for i := 0; i < v.lebCount; i++ {
		leb, err := v.ReadLEB(i)
		if err != nil {
			return nil, err
		}
		buf.Write(leb)
	}
	return buf.Bytes(), nil
}

// MappedLEBs returns the LEB numbers of this volume that have a live PEB
// mapping, in ascending order.
func (v *Volume) MappedLEBs() []int {
	var out []int
	for i := 0; i < v.lebCount; i++ {
		if _, ok := v.inst.LivePEB(v.ID, uint32(i)); ok {
			out = append(out, i)
		}
	}
	return out
}
