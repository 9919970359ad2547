package ubifs

import (
	"sort"

	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubi"
)

// Journal represents the replay-log side of UBIFS's write-ahead journal:
// the commit-start marker and per-head reference nodes found in the log
// LEB, plus every node found in the bud LEBs those references point at.
// Mirrors the reference implementation's Journal class.
type Journal struct {
	CS    *types.CSNode
	Heads map[types.JournalHead]types.RefNode
	Buds  map[types.JournalHead][]*Node
}

// openJournal parses the log starting at logLEB and then every bud it
// references, in one pass — there is no lazy half-open state once this
// returns.
func openJournal(volume *ubi.Volume, logLEB uint32) (*Journal, error) {
	j := &Journal{
		Heads: make(map[types.JournalHead]types.RefNode),
		Buds:  make(map[types.JournalHead][]*Node),
	}
	if err := j.parseLog(volume, logLEB); err != nil {
		return nil, err
	}
	for head, ref := range j.Heads {
		bud, err := j.parseBud(volume, ref)
		if err != nil {
			return nil, err
		}
		j.Buds[head] = bud
	}
	return j, nil
}

// parseLog reads every node packed into the log LEB: a leading CS node,
// then a REF node per journal head, tolerating PAD nodes wherever the
// commit left dead space.
func (j *Journal) parseLog(volume *ubi.Volume, logLEB uint32) error {
	leb, err := volume.ReadLEB(int(logLEB))
	if err != nil {
		return err
	}
	offs := 0
	for offs+types.CHSize <= len(leb) {
		n, err := ParseNode(leb[offs:])
		if err != nil {
			break
		}
		switch {
		case n.Pad != nil:
			offs += n.Size
		case n.CS != nil:
			j.CS = n.CS
			offs += int(types.CHSize) + 8
		case n.Ref != nil:
			j.Heads[types.JournalHead(n.Ref.JHead)] = *n.Ref
			offs += n.Size
		default:
			return nil
		}
	}
	return nil
}

// parseBud walks the bud LEB a REF node points at, collecting every node
// between its starting offset and the first point parsing fails — the
// unindexed tail of writes this journal head has not yet committed to the
// index.
func (j *Journal) parseBud(volume *ubi.Volume, ref types.RefNode) ([]*Node, error) {
	leb, err := volume.ReadLEB(int(ref.LNum))
	if err != nil {
		return nil, err
	}
	var bud []*Node
	offs := int(ref.Offs)
	for offs+types.CHSize <= len(leb) {
		n, err := ParseNode(leb[offs:])
		if err != nil || n.Size <= 0 {
			break
		}
		bud = append(bud, n)
		offs += n.Size
	}
	return bud, nil
}

// Overlay returns every (key, node) pair contributed by the journal's
// buds, sorted by sequence number ascending — mirroring the reference
// implementation's replay step of sorting discovered nodes by sqnum before
// upserting them. j.Buds is a map keyed by journal head, so iterating it
// directly (as a naive flatten would) depends on Go's randomized map
// iteration order; if two heads ever wrote the same key, which node "wins"
// under a caller's last-write-wins merge would then vary from run to run.
// Sorting here makes that merge deterministic regardless of head. Nodes
// that fail CRC validation are dropped: per spec.md §3 a node failing CRC
// is reported but never trusted for a live view, and this is the single
// point every FS query merges journal content through.
func (j *Journal) Overlay() []*Node {
	var all []*Node
	for _, bud := range j.Buds {
		for _, n := range bud {
			if !n.CRCOK {
				continue
			}
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CH.SqNum < all[k].CH.SqNum })
	return all
}
