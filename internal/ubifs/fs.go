// Package ubifs implements the L3 layer of the forensic pipeline: parsing
// UBIFS nodes out of a reconstructed UBI volume, replaying its journal,
// and exposing a read-only query surface over the resulting filesystem.
package ubifs

import (
	"bytes"
	"fmt"
	"path"
	"sort"

	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubi"
)

// FS is a bootstrapped UBIFS instance: superblock, the authoritative
// master node, its TNC root, journal, and orphan list. Mirrors the
// reference implementation's UBIFS class.
type FS struct {
	Volume      *ubi.Volume
	Superblock  types.SuperblockNode
	Master      types.MasterNode
	TNC         *TNC
	Journal     *Journal
	OrphanNodes []types.OrphNode

	compr *CompressionService
}

// Open bootstraps a UBIFS instance from the LEBs of volume: LEB 0 holds
// the superblock, LEB 1 and 2 each hold a chain of master node rewrites,
// and the newest CRC-valid master node found in either is authoritative.
func Open(volume *ubi.Volume) (*FS, error) {
	fs := &FS{Volume: volume}

	sbLEB, err := volume.ReadLEB(0)
	if err != nil {
		return nil, fmt.Errorf("ubifs: reading superblock leb: %w", err)
	}
	sb, err := types.ParseSuperblockNode(sbLEB)
	if err != nil {
		return nil, fmt.Errorf("ubifs: parsing superblock: %w", err)
	}
	fs.Superblock = sb

	mstCandidates1, err := masterNodesInLEB(volume, 1)
	if err != nil {
		return nil, err
	}
	mstCandidates2, err := masterNodesInLEB(volume, 2)
	if err != nil {
		return nil, err
	}
	master, err := chooseMasterNode(mstCandidates1, mstCandidates2)
	if err != nil {
		return nil, err
	}
	fs.Master = master

	tnc := newTNC(volume, master.RootLNum, master.RootOffs)
	fs.TNC = tnc

	journal, err := openJournal(volume, master.LogLNum)
	if err != nil {
		return nil, fmt.Errorf("ubifs: parsing journal: %w", err)
	}
	fs.Journal = journal

	fs.OrphanNodes = parseOrphanArea(volume, sb)

	compr, err := NewCompressionService()
	if err != nil {
		return nil, err
	}
	fs.compr = compr

	return fs, nil
}

// masterNodesInLEB returns every master node found by signature-scanning
// lebNum, newest sequence number first — new master nodes are appended
// within the LEB as they are committed, so the newest is whichever node
// has the highest sequence number, not necessarily the last bytes found.
func masterNodesInLEB(volume *ubi.Volume, lebNum int) ([]types.MasterNode, error) {
	leb, err := volume.ReadLEB(lebNum)
	if err != nil {
		return nil, err
	}
	var out []types.MasterNode
	idx := 0
	for {
		rel := bytes.Index(leb[idx:], types.CHMagic[:])
		if rel < 0 {
			break
		}
		offs := idx + rel
		ch, err := types.ParseCH(leb[offs:])
		if err == nil && ch.NodeType == types.NodeMst && validNodeCRC(leb[offs:], ch) {
			if m, err := types.ParseMasterNode(leb[offs:]); err == nil {
				out = append(out, m)
			}
		}
		idx = offs + 1
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CH.SqNum > out[j].CH.SqNum })
	return out, nil
}

// chooseMasterNode picks the authoritative master node between LEB 1 and
// LEB 2's candidate chains: the newest-by-sequence-number node from
// whichever LEB has a candidate, preferring the LEB with the higher
// sequence number when both have one — mirroring the reference
// implementation's requirement that the two copies normally agree.
func chooseMasterNode(fromLEB1, fromLEB2 []types.MasterNode) (types.MasterNode, error) {
	switch {
	case len(fromLEB1) == 0 && len(fromLEB2) == 0:
		return types.MasterNode{}, fmt.Errorf("ubifs: no master node found in leb 1 or leb 2")
	case len(fromLEB1) == 0:
		return fromLEB2[0], nil
	case len(fromLEB2) == 0:
		return fromLEB1[0], nil
	}
	if fromLEB1[0].CH.SqNum >= fromLEB2[0].CH.SqNum {
		return fromLEB1[0], nil
	}
	return fromLEB2[0], nil
}

// parseOrphanArea reads the orphan LEBs declared by the superblock,
// starting right after the log and LPT areas.
func parseOrphanArea(volume *ubi.Volume, sb types.SuperblockNode) []types.OrphNode {
	start := 1 + 2 + int(sb.LogLEBs) + int(sb.LPTLEBs)
	var out []types.OrphNode
	for i := 0; i < int(sb.OrphLEBs); i++ {
		leb, err := volume.ReadLEB(start + i)
		if err != nil {
			continue
		}
		n, err := ParseNode(leb)
		if err != nil || n.Orph == nil {
			continue
		}
		out = append(out, *n.Orph)
	}
	return out
}

// StatInode looks up the inode node for inum, consulting the journal's
// bud overlay before falling back to the committed index, since journal
// entries are always newer than whatever the index says.
func (fs *FS) StatInode(inum uint32) (*types.InoNode, error) {
	// Overlay() is sorted ascending by sequence number, so the last match
	// here is the newest write, not the first — returning early on the
	// first hit would give the oldest journaled write instead.
	var journaled *types.InoNode
	for _, n := range fs.Journal.Overlay() {
		if n.Ino != nil && n.Ino.Key.InodeNum == inum {
			journaled = n.Ino
		}
	}
	if journaled != nil {
		return journaled, nil
	}
	n, err := fs.TNC.Find(types.MinKey(inum, types.KeyIno))
	if err != nil {
		return nil, err
	}
	if n == nil || n.Ino == nil {
		return nil, fmt.Errorf("ubifs: no inode %d", inum)
	}
	return n.Ino, nil
}

// ListDir returns every non-tombstoned directory entry whose parent is
// inum, consulting the journal overlay first.
func (fs *FS) ListDir(inum uint32) ([]*types.DentNode, error) {
	byHash := make(map[uint32]*types.DentNode)

	committed, err := fs.TNC.Range(types.MinKey(inum, types.KeyDent), types.Key{InodeNum: inum, Type: types.KeyXent, Payload: 0})
	if err != nil {
		return nil, err
	}
	for _, n := range committed {
		if n.Dent != nil {
			d := n.Dent
			byHash[d.Key.Payload] = d
		}
	}
	for _, n := range fs.Journal.Overlay() {
		if n.Dent == nil {
			continue
		}
		if n.Dent.Key.InodeNum != inum || n.Dent.Key.Type != types.KeyDent {
			continue
		}
		byHash[n.Dent.Key.Payload] = n.Dent
	}

	var out []*types.DentNode
	for _, d := range byHash {
		if !d.IsTombstone() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Name) < string(out[j].Name) })
	return out, nil
}

// ListInodes returns every inode number for which an inode node exists,
// per spec.md §4.3's list_inodes() query: a full-tree scan merged with
// the journal overlay so uncommitted inode creations are included.
func (fs *FS) ListInodes() ([]uint32, error) {
	leaves, err := fs.TNC.Leaves()
	if err != nil {
		return nil, err
	}
	seen := make(map[uint32]bool)
	var out []uint32
	for _, n := range leaves {
		if n.Ino == nil {
			continue
		}
		if !seen[n.Ino.Key.InodeNum] {
			seen[n.Ino.Key.InodeNum] = true
			out = append(out, n.Ino.Key.InodeNum)
		}
	}
	for _, n := range fs.Journal.Overlay() {
		if n.Ino == nil {
			continue
		}
		if !seen[n.Ino.Key.InodeNum] {
			seen[n.Ino.Key.InodeNum] = true
			out = append(out, n.Ino.Key.InodeNum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FindDentriesFor scans every dentry in the tree (committed and journaled)
// for one whose child-inode equals ino, per spec.md §4.3's
// find_dentries_for(ino) query — the name-hash key alone cannot answer
// this, since dentries are keyed by parent, not by child.
func (fs *FS) FindDentriesFor(ino uint32) ([]*types.DentNode, error) {
	leaves, err := fs.TNC.Leaves()
	if err != nil {
		return nil, err
	}
	var out []*types.DentNode
	for _, n := range leaves {
		if n.Dent != nil && uint32(n.Dent.Inum) == ino {
			out = append(out, n.Dent)
		}
	}
	for _, n := range fs.Journal.Overlay() {
		if n.Dent != nil && uint32(n.Dent.Inum) == ino {
			out = append(out, n.Dent)
		}
	}
	return out, nil
}

// ListXattrs returns the extended-attribute directory entries (xentries)
// attached to inum.
func (fs *FS) ListXattrs(inum uint32) ([]*types.DentNode, error) {
	leaves, err := fs.TNC.Range(types.MinKey(inum, types.KeyXent), types.MaxKey(inum, types.KeyXent))
	if err != nil {
		return nil, err
	}
	var out []*types.DentNode
	for _, n := range leaves {
		if n.Dent != nil {
			out = append(out, n.Dent)
		}
	}
	return out, nil
}

// ReadFile reassembles the full content of a regular file's inode by
// concatenating every data-node block in key order and decompressing each
// one, truncating (or zero-padding, for sparse holes) to the inode's
// declared size.
func (fs *FS) ReadFile(inum uint32, size uint64) ([]byte, error) {
	leaves, err := fs.TNC.Range(types.MinKey(inum, types.KeyData), types.MaxKey(inum, types.KeyData))
	if err != nil {
		return nil, err
	}
	blocks := make(map[uint32]*types.DataNode)
	for _, n := range leaves {
		if n.Data != nil {
			blocks[n.Data.Key.Payload] = n.Data
		}
	}
	for _, n := range fs.Journal.Overlay() {
		if n.Data != nil && n.Data.Key.InodeNum == inum {
			blocks[n.Data.Key.Payload] = n.Data
		}
	}

	var blockNums []uint32
	for k := range blocks {
		blockNums = append(blockNums, k)
	}
	sort.Slice(blockNums, func(i, j int) bool { return blockNums[i] < blockNums[j] })

	out := make([]byte, 0, size)
	const blockSize = 4096
	for _, bn := range blockNums {
		d := blocks[bn]
		want := int(bn)*blockSize - len(out)
		if want > 0 {
			out = append(out, make([]byte, want)...)
		}
		plain, err := fs.compr.Decompress(d.Data, d.ComprType, int(d.DataSize))
		if err != nil {
			return nil, fmt.Errorf("ubifs: decompressing data block %d of inode %d: %w", bn, inum, err)
		}
		out = append(out, plain...)
	}
	if uint64(len(out)) > size {
		out = out[:size]
	} else if uint64(len(out)) < size {
		out = append(out, make([]byte, size-uint64(len(out)))...)
	}
	return out, nil
}

// ReadSymlink returns the target of a fast-symlink inode, stored inline in
// the inode node itself.
func (fs *FS) ReadSymlink(ino *types.InoNode) string {
	return string(ino.Data)
}

// ResolvePath walks from the root inode (number 1) down name to name,
// returning the inode number of the final component.
func (fs *FS) ResolvePath(p string) (uint32, error) {
	const rootIno = 1
	cur := uint32(rootIno)
	p = path.Clean("/" + p)
	if p == "/" {
		return cur, nil
	}
	for _, part := range splitPath(p) {
		dents, err := fs.ListDir(cur)
		if err != nil {
			return 0, err
		}
		found := false
		for _, d := range dents {
			if string(d.Name) == part {
				cur = uint32(d.Inum)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("ubifs: path component %q not found", part)
		}
	}
	return cur, nil
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range bytes.Split([]byte(p), []byte("/")) {
		if len(part) > 0 {
			parts = append(parts, string(part))
		}
	}
	return parts
}
