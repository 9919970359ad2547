// Package recovery implements the L4 layer of the forensic pipeline: a
// best-effort deleted-view engine that signature-scans stale PEBs and live
// LEBs for salvageable UBIFS nodes and correlates them against the orphan
// area and tombstoned directory entries a live ubifs.FS already exposes.
package recovery

import (
	"bytes"

	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubifs"
)

// candidate is a node discovered by a full-LEB signature scan, tagged with
// where it was found. Neither correlation nor Stats reads the provenance;
// correlation treats every candidate the same regardless of source.
type candidate struct {
	node   *ubifs.Node
	lnum   int
	offs   int
	source string
}

// scanLEBBytes walks data looking for every occurrence of the UBIFS common
// header magic and parses whatever node follows, mirroring the reference
// implementation's _scan_leb. Index nodes are dropped on sight: per
// SPEC_FULL.md §10 OQ3, deleted mode never exposes stale index nodes, only
// stale data/dentry/inode nodes. A node that fails CRC validation is
// dropped silently too, per spec.md §4.4's failure semantics — a corrupt
// recovery candidate cannot be trusted enough to correlate or reassemble.
func scanLEBBytes(data []byte, lnum int, source string) []candidate {
	var out []candidate
	idx := 0
	for {
		rel := bytes.Index(data[idx:], types.CHMagic[:])
		if rel < 0 {
			break
		}
		offs := idx + rel
		n, err := ubifs.ParseNode(data[offs:])
		idx = offs + 1
		if err != nil || n.Idx != nil || !n.CRCOK {
			continue
		}
		out = append(out, candidate{node: n, lnum: lnum, offs: offs, source: source})
	}
	return out
}
