package recovery

import (
	"fmt"
	"sort"

	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubifs"
)

// DeletedFile is one object recovered by the engine: either an orphaned
// inode, a tombstone correlated back to its former inode, or a stale
// inode with no surviving dentry at all (spec.md §4.4's "synthetic orphan
// parent" case).
type DeletedFile struct {
	Name      string
	ParentIno uint32
	Inode     uint32
	Ino       *types.InoNode
	Content   []byte
	Partial   bool // decompression of some data block failed part way through
	Source    string
}

// Stats are the aggregate recoverability counters of one Engine.Scan pass.
type Stats struct {
	StalePEBsScanned  int
	LooseNodesFound   int
	OrphanInodesFound int
	TombstonesFound   int
	FilesRecovered    int
}

// Result is the output of one Engine.Scan pass.
type Result struct {
	Deleted []*DeletedFile
	Stats   Stats
}

// correlate implements spec.md §4.4's "Correlation algorithm" over the
// pool of signature-scanned candidates plus the journal overlay (bud
// writes are newer than anything a committed-index scan would find, so
// they belong in the same candidate pool).
func (e *Engine) correlate(all []candidate) (*Result, error) {
	var inodeCands, dataCands, dentCands []*ubifs.Node
	for _, c := range all {
		switch {
		case c.node.Ino != nil:
			inodeCands = append(inodeCands, c.node)
		case c.node.Data != nil:
			dataCands = append(dataCands, c.node)
		case c.node.Dent != nil:
			dentCands = append(dentCands, c.node)
		}
	}
	for _, n := range e.FS.Journal.Overlay() {
		switch {
		case n.Ino != nil:
			inodeCands = append(inodeCands, n)
		case n.Data != nil:
			dataCands = append(dataCands, n)
		case n.Dent != nil:
			dentCands = append(dentCands, n)
		}
	}

	res := &Result{}
	res.Stats.StalePEBsScanned = len(e.Inst.AllStalePEBs())
	res.Stats.LooseNodesFound = len(all)

	seen := make(map[uint32]bool) // inode numbers already attached to a recovered file

	// Orphan area: spec.md §4.4 "every such inode and all its data nodes
	// are recoverable until garbage collection."
	for _, orph := range e.FS.OrphanNodes {
		for _, raw := range orph.Inos {
			inum := uint32(raw)
			if seen[inum] {
				continue
			}
			ino := bestInode(inodeCands, inum, ^uint64(0))
			if ino == nil {
				stat, err := e.FS.StatInode(inum)
				if err != nil {
					continue
				}
				ino = stat
			}
			seen[inum] = true
			res.Stats.OrphanInodesFound++
			res.Stats.FilesRecovered++
			df := &DeletedFile{Name: fmt.Sprintf("inode_%d", inum), Inode: inum, Ino: ino, Source: "orphan"}
			df.Content, df.Partial = e.reassemble(dataCands, inum, ino.Size)
			res.Deleted = append(res.Deleted, df)
		}
	}

	// Tombstoned dentries: a dentry with child-inode 0 records only the
	// removed name. The former child-inode survives in whatever
	// non-tombstoned write previously occupied the same (parent,
	// name-hash) key — find that write, then find the inode node it
	// pointed at, both bounded by sequence number so an older tombstone
	// cannot correlate with a newer, unrelated inode reusing the number.
	for _, d := range dentCands {
		if !d.Dent.IsTombstone() {
			continue
		}
		res.Stats.TombstonesFound++
		former := bestDent(dentCands, d.Dent.Key, d.CH.SqNum)
		if former == nil {
			continue
		}
		formerInum := uint32(former.Dent.Inum)
		if seen[formerInum] {
			continue
		}
		ino := bestInode(inodeCands, formerInum, d.CH.SqNum)
		if ino == nil {
			continue
		}
		seen[formerInum] = true
		res.Stats.FilesRecovered++
		df := &DeletedFile{
			Name:      string(d.Dent.Name),
			ParentIno: d.Dent.Key.InodeNum,
			Inode:     formerInum,
			Ino:       ino,
			Source:    "tombstone",
		}
		df.Content, df.Partial = e.reassemble(dataCands, formerInum, ino.Size)
		res.Deleted = append(res.Deleted, df)
	}

	// Anything left over — a recovered inode with neither an orphan-list
	// entry nor a correlated tombstone — is "attached under a synthetic
	// orphan parent" per spec.md §4.4's closing sentence.
	for _, n := range inodeCands {
		inum := n.Ino.Key.InodeNum
		if seen[inum] {
			continue
		}
		seen[inum] = true
		res.Stats.FilesRecovered++
		df := &DeletedFile{Name: fmt.Sprintf("inode_%d", inum), Inode: inum, Ino: n.Ino, Source: "stale"}
		df.Content, df.Partial = e.reassemble(dataCands, inum, n.Ino.Size)
		res.Deleted = append(res.Deleted, df)
	}

	sort.Slice(res.Deleted, func(i, j int) bool { return res.Deleted[i].Inode < res.Deleted[j].Inode })
	return res, nil
}

// bestInode returns the inode candidate for inum with the greatest
// sequence number not exceeding maxSqNum, or nil if none match.
func bestInode(cands []*ubifs.Node, inum uint32, maxSqNum uint64) *types.InoNode {
	var best *types.InoNode
	var bestSq uint64
	for _, n := range cands {
		if n.Ino == nil || n.Ino.Key.InodeNum != inum || n.CH.SqNum > maxSqNum {
			continue
		}
		if best == nil || n.CH.SqNum > bestSq {
			best = n.Ino
			bestSq = n.CH.SqNum
		}
	}
	return best
}

// bestDent returns the newest non-tombstoned dentry candidate sharing
// key's (parent inode, name-hash) pair with a strictly smaller sequence
// number than beforeSqNum — the write a tombstone at that key superseded.
func bestDent(cands []*ubifs.Node, key types.Key, beforeSqNum uint64) *ubifs.Node {
	var best *ubifs.Node
	for _, n := range cands {
		if n.Dent == nil || n.Dent.IsTombstone() {
			continue
		}
		if n.Dent.Key.InodeNum != key.InodeNum || n.Dent.Key.Payload != key.Payload {
			continue
		}
		if n.CH.SqNum >= beforeSqNum {
			continue
		}
		if best == nil || n.CH.SqNum > best.CH.SqNum {
			best = n
		}
	}
	return best
}

// reassemble rebuilds a recovered inode's content from whatever data-node
// candidates carry its inode number, keeping the newest write to each
// block number and zero-padding sparse gaps, mirroring ubifs.FS.ReadFile
// but operating over an arbitrary candidate pool instead of the TNC.
// Per spec.md §4.4's failure semantics, a decompression failure on any one
// block truncates the result at the last good block rather than failing
// the whole recovery.
func (e *Engine) reassemble(dataCands []*ubifs.Node, inum uint32, size uint64) ([]byte, bool) {
	blocks := make(map[uint32]*types.DataNode)
	seqs := make(map[uint32]uint64)
	for _, n := range dataCands {
		if n.Data == nil || n.Data.Key.InodeNum != inum {
			continue
		}
		bn := n.Data.Key.Payload
		if cur, ok := seqs[bn]; !ok || n.CH.SqNum > cur {
			blocks[bn] = n.Data
			seqs[bn] = n.CH.SqNum
		}
	}
	var blockNums []uint32
	for k := range blocks {
		blockNums = append(blockNums, k)
	}
	sort.Slice(blockNums, func(i, j int) bool { return blockNums[i] < blockNums[j] })

	const blockSize = 4096
	out := make([]byte, 0, size)
	partial := false
	for _, bn := range blockNums {
		d := blocks[bn]
		want := int(bn)*blockSize - len(out)
		if want > 0 {
			out = append(out, make([]byte, want)...)
		}
		plain, err := e.compr.Decompress(d.Data, d.ComprType, int(d.DataSize))
		if err != nil {
			partial = true
			break
		}
		out = append(out, plain...)
	}
	if uint64(len(out)) > size {
		out = out[:size]
	} else if !partial && uint64(len(out)) < size {
		out = append(out, make([]byte, size-uint64(len(out)))...)
	}
	return out, partial
}
