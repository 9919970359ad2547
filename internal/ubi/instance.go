package ubi

import (
	"fmt"
	"sort"

	"github.com/go-ubift/ubift/internal/crc"
	"github.com/go-ubift/ubift/internal/image"
	"github.com/go-ubift/ubift/internal/types"
)

// lebKey addresses a single LEB slot within a UBI instance's LEB→PEB map.
type lebKey struct {
	VolID uint32
	LNum  uint32
}

// Instance is the union of PEBs within one MTDPartition sharing the UBI
// superblock conventions (spec.md §3 UBIInstance).
type Instance struct {
	Partition image.MTDPartition
	PEBs      []PEB
	live      map[lebKey]PEB     // winning PEB per (vol_id, leb_num)
	stale     map[lebKey][]PEB   // PEBs that lost the conflict-resolution, kept for recovery
	Volumes   []*Volume
	orphanVolumeIDs map[uint32]bool
}

// Open enumerates every PEB in part and reconstructs the live LEB→PEB
// mapping and volume table, per spec.md §4.2.
func Open(part image.MTDPartition) (*Instance, error) {
	pebs, err := EnumeratePEBs(part)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		Partition:       part,
		PEBs:            pebs,
		live:            make(map[lebKey]PEB),
		stale:           make(map[lebKey][]PEB),
		orphanVolumeIDs: make(map[uint32]bool),
	}
	inst.buildLEBMap()
	if err := inst.parseLayoutVolume(); err != nil {
		return nil, err
	}
	inst.materializeVolumes()
	return inst, nil
}

// buildLEBMap implements spec.md §4.2's conflict resolution: higher
// sequence number wins among PEBs with a valid VID header; ties broken by
// erase counter (OPEN QUESTION 1 decision in SPEC_FULL.md §10). A PEB with
// a corrupt VID header is unconditionally disqualified from the live map
// per spec.md §4.2's failure semantics — it is kept only as a stale
// candidate for the recovery layer, never as the live winner, regardless
// of its sequence number or whether it is the sole claimant of its slot.
func (inst *Instance) buildLEBMap() {
	for _, p := range inst.PEBs {
		if p.State != PEBData && p.State != PEBCorrupt {
			continue
		}
		if !p.VID.ValidMagic() {
			continue
		}
		key := lebKey{VolID: p.VID.VolID, LNum: p.VID.LNum}
		if p.State == PEBCorrupt {
			inst.stale[key] = append(inst.stale[key], p)
			continue
		}
		cur, exists := inst.live[key]
		if !exists {
			inst.live[key] = p
			continue
		}
		if winner(p, cur) {
			inst.stale[key] = append(inst.stale[key], cur)
			inst.live[key] = p
		} else {
			inst.stale[key] = append(inst.stale[key], p)
		}
	}
}

// winner reports whether candidate should replace current in the live map.
// Both arguments are always PEBData by the time this is called, so their
// VID headers are already known-valid; the tie-break is sequence number,
// then erase counter.
func winner(candidate, current PEB) bool {
	if candidate.VID.SqNum != current.VID.SqNum {
		return candidate.VID.SqNum > current.VID.SqNum
	}
	return candidate.EC.EC > current.EC.EC
}

// parseLayoutVolume implements spec.md §4.2's "Parse layout volume": two
// redundant copies live on the PEBs mapped to volume id VtblVolumeID; the
// one with a valid CRC (preferring the higher sequence number on
// disagreement) is authoritative.
func (inst *Instance) parseLayoutVolume() error {
	var layoutPEBs []PEB
	for key, p := range inst.live {
		if key.VolID == types.VtblVolumeID {
			layoutPEBs = append(layoutPEBs, p)
		}
	}
	if len(layoutPEBs) == 0 {
		return fmt.Errorf("ubi: no layout volume found in partition at offset %d", inst.Partition.Offset)
	}
	sort.Slice(layoutPEBs, func(i, j int) bool { return layoutPEBs[i].VID.LNum < layoutPEBs[j].VID.LNum })

	var chosen []types.VtblRecord
	var chosenSeq uint64
	haveChosen := false
	for _, p := range layoutPEBs {
		records, ok := readVtblRecords(inst.Partition, p)
		if !ok {
			continue
		}
		if !haveChosen || p.VID.SqNum > chosenSeq {
			chosen = records
			chosenSeq = p.VID.SqNum
			haveChosen = true
		}
	}
	if !haveChosen {
		return fmt.Errorf("ubi: both layout volume copies are corrupt")
	}

	inst.Volumes = inst.Volumes[:0]
	declared := make(map[uint32]bool)
	for volID, rec := range vtblByID(chosen) {
		if rec.IsEmpty() {
			continue
		}
		declared[volID] = true
		v := newVolume(inst, volID, rec)
		inst.Volumes = append(inst.Volumes, v)
	}

	// Orphan volumes: PEBs mapped to a volume id not in the layout table.
	for key := range inst.live {
		if key.VolID == types.VtblVolumeID || declared[key.VolID] {
			continue
		}
		if !inst.orphanVolumeIDs[key.VolID] {
			inst.orphanVolumeIDs[key.VolID] = true
			inst.Volumes = append(inst.Volumes, newOrphanVolume(inst, key.VolID))
		}
	}

	sort.Slice(inst.Volumes, func(i, j int) bool { return inst.Volumes[i].ID < inst.Volumes[j].ID })
	return nil
}

func vtblByID(records []types.VtblRecord) map[uint32]types.VtblRecord {
	m := make(map[uint32]types.VtblRecord, len(records))
	for i, r := range records {
		m[uint32(i)] = r
	}
	return m
}

// readVtblRecords reads and validates the 128 volume-table records stored
// in the given layout-volume PEB.
func readVtblRecords(part image.MTDPartition, p PEB) ([]types.VtblRecord, bool) {
	base := p.DataOffset()
	records := make([]types.VtblRecord, 0, types.MaxVolumes)
	anyValid := false
	for i := 0; i < types.MaxVolumes; i++ {
		off := base + int64(i)*int64(types.VtblRecordSize)
		buf, err := part.Image.ReadAt(off, int64(types.VtblRecordSize))
		if err != nil {
			break
		}
		rec, err := types.ParseVtblRecord(buf)
		if err != nil {
			break
		}
		if !rec.IsEmpty() {
			if crc.IEEE(buf[:types.VtblRecordSize-4]) == rec.CRC {
				anyValid = true
			}
		}
		records = append(records, rec)
	}
	if !anyValid {
		return nil, false
	}
	return records, true
}

// materializeVolumes wires each Volume's LEB count from its vtbl record
// (reserved_pebs) and leaves LEB resolution lazy per spec.md §3 "constructed
// lazily on first access".
func (inst *Instance) materializeVolumes() {
	for _, v := range inst.Volumes {
		v.resolveLEBCount()
	}
}

// GetVolume returns the volume with the given name, or nil.
func (inst *Instance) GetVolume(name string) *Volume {
	for _, v := range inst.Volumes {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// LivePEB returns the PEB currently backing (volID, lnum), if mapped.
func (inst *Instance) LivePEB(volID, lnum uint32) (PEB, bool) {
	p, ok := inst.live[lebKey{VolID: volID, LNum: lnum}]
	return p, ok
}

// StalePEBs returns every PEB that lost the conflict-resolution for
// (volID, lnum) — candidates for the recovery engine.
func (inst *Instance) StalePEBs(volID, lnum uint32) []PEB {
	return inst.stale[lebKey{VolID: volID, LNum: lnum}]
}

// AllStalePEBs returns every stale PEB across the whole instance.
func (inst *Instance) AllStalePEBs() []PEB {
	var out []PEB
	for _, list := range inst.stale {
		out = append(out, list...)
	}
	return out
}

// UnreferencedPEBs returns every PEB classified PEBCorrupt: a PEB whose
// VID header could not be trusted and so never enters the live map. Such
// a PEB is also listed among the stale candidates of its (vol_id, lnum)
// key when buildLEBMap could read that key.
func (inst *Instance) UnreferencedPEBs() []PEB {
	var out []PEB
	for _, p := range inst.PEBs {
		if p.State != PEBCorrupt {
			continue
		}
		out = append(out, p)
	}
	return out
}
