package ubifs

import (
	"testing"

	"github.com/go-ubift/ubift/internal/types"
)

func TestKeyOrdering(t *testing.T) {
	a := types.Key{InodeNum: 1, Type: types.KeyIno, Payload: 0}
	b := types.Key{InodeNum: 1, Type: types.KeyDent, Payload: 5}
	c := types.Key{InodeNum: 2, Type: types.KeyIno, Payload: 0}

	if !a.Less(b) {
		t.Fatalf("expected %+v < %+v (same inode, lower type)", a, b)
	}
	if !b.Less(c) {
		t.Fatalf("expected %+v < %+v (lower inode wins regardless of type)", b, c)
	}
	if !a.Equal(a) {
		t.Fatalf("expected a key to equal itself")
	}
	if a.Less(a) {
		t.Fatalf("a key must not be less than itself")
	}
	if !a.LessOrEqual(a) || !a.LessOrEqual(b) {
		t.Fatalf("LessOrEqual must hold for equal and strictly-less pairs")
	}
	if types.MinKey(1, types.KeyDent).Payload != 0 || types.MaxKey(1, types.KeyDent).Payload != 0x1FFFFFFF {
		t.Fatalf("MinKey/MaxKey must bound the full 29-bit payload range")
	}
}

// buildTwoLevelFixture assembles a two-level B+-tree: a level-1 root with two
// branches, each pointing at a level-0 index node covering two leaf inodes.
// Exercises TNC.Find and TNC.Range across an internal-node boundary, not
// just within a single leaf-level node.
func buildTwoLevelFixture(t *testing.T) *FS {
	t.Helper()

	keys := make([]types.Key, 4)
	leaves := make([][]byte, 4)
	for i := 0; i < 4; i++ {
		keys[i] = types.Key{InodeNum: uint32(i + 1), Type: types.KeyIno, Payload: 0}
		leaves[i] = buildInoNode(uint64(10+i), keys[i], 0o644, 1, 0, 0, 0, nil)
	}
	var leafBuf []byte
	offs := make([]uint32, 4)
	for i, l := range leaves {
		offs[i] = uint32(len(leafBuf))
		leafBuf = append(leafBuf, l...)
	}

	idxA := buildIndexNode(20, 0, []branchSpec{
		{lnum: 5, offs: offs[0], length: uint32(len(leaves[0])), key: keys[0]},
		{lnum: 5, offs: offs[1], length: uint32(len(leaves[1])), key: keys[1]},
	})
	idxB := buildIndexNode(21, 0, []branchSpec{
		{lnum: 5, offs: offs[2], length: uint32(len(leaves[2])), key: keys[2]},
		{lnum: 5, offs: offs[3], length: uint32(len(leaves[3])), key: keys[3]},
	})
	combined := append(append([]byte{}, idxA...), idxB...)

	root := buildIndexNode(22, 1, []branchSpec{
		{lnum: 3, offs: 0, length: uint32(len(idxA)), key: keys[0]},
		{lnum: 3, offs: uint32(len(idxA)), length: uint32(len(idxB)), key: keys[2]},
	})

	sb := buildSuperblockNode(32256, 2048, 7, 8, types.ComprNone)
	mst := buildMasterNode(30, 4, 4, 6, 0, uint32(len(root)))

	lebs := [][]byte{sb, mst, nil, combined, nil, leafBuf, root}
	vol := buildUBIFSVolume(t, lebs)

	fs, err := Open(vol)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs
}

func TestTNCFindAcrossInternalNodes(t *testing.T) {
	fs := buildTwoLevelFixture(t)

	for _, inum := range []uint32{1, 2, 3, 4} {
		n, err := fs.TNC.Find(types.Key{InodeNum: inum, Type: types.KeyIno, Payload: 0})
		if err != nil {
			t.Fatalf("Find(%d): %v", inum, err)
		}
		if n == nil || n.Ino == nil || n.Ino.Key.InodeNum != inum {
			t.Fatalf("Find(%d): expected leaf inode %d, got %+v", inum, inum, n)
		}
	}
}

func TestTNCRangeSpansInternalNodes(t *testing.T) {
	fs := buildTwoLevelFixture(t)

	min := types.Key{InodeNum: 2, Type: types.KeyIno, Payload: 0}
	max := types.Key{InodeNum: 4, Type: types.KeyIno, Payload: 0}
	leaves, err := fs.TNC.Range(min, max)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves in [2,4), got %d", len(leaves))
	}
	if leaves[0].Ino.Key.InodeNum != 2 || leaves[1].Ino.Key.InodeNum != 3 {
		t.Fatalf("expected inodes 2 then 3, got %d then %d", leaves[0].Ino.Key.InodeNum, leaves[1].Ino.Key.InodeNum)
	}
}

// buildCRCFailureFixture assembles a single-level B+-tree with two leaf
// inodes, the second corrupted after its CRC was already computed —
// exercises that the TNC excludes a CRC-failing leaf from every live-view
// query instead of returning or counting it.
func buildCRCFailureFixture(t *testing.T) *FS {
	t.Helper()

	keyGood := types.Key{InodeNum: 1, Type: types.KeyIno, Payload: 0}
	keyBad := types.Key{InodeNum: 2, Type: types.KeyIno, Payload: 0}
	leafGood := buildInoNode(10, keyGood, 0o644, 1, 0, 0, 0, nil)
	leafBad := buildInoNode(11, keyBad, 0o644, 1, 0, 0, 0, nil)
	leafBad[50] ^= 0xFF // flips a byte inside the CRC-covered range, length unchanged

	var leafBuf []byte
	leafBuf = append(leafBuf, leafGood...)
	offsBad := uint32(len(leafBuf))
	leafBuf = append(leafBuf, leafBad...)

	root := buildIndexNode(20, 0, []branchSpec{
		{lnum: 5, offs: 0, length: uint32(len(leafGood)), key: keyGood},
		{lnum: 5, offs: offsBad, length: uint32(len(leafBad)), key: keyBad},
	})

	sb := buildSuperblockNode(32256, 2048, 7, 8, types.ComprNone)
	mst := buildMasterNode(30, 2, 4, 6, 0, uint32(len(root)))

	lebs := [][]byte{sb, mst, nil, nil, nil, leafBuf, root}
	vol := buildUBIFSVolume(t, lebs)

	fs, err := Open(vol)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs
}

func TestTNCFindExcludesCRCFailingLeaf(t *testing.T) {
	fs := buildCRCFailureFixture(t)

	good, err := fs.TNC.Find(types.Key{InodeNum: 1, Type: types.KeyIno, Payload: 0})
	if err != nil || good == nil || good.Ino == nil || good.Ino.Key.InodeNum != 1 {
		t.Fatalf("Find(1): expected the valid leaf, got %+v, err %v", good, err)
	}

	bad, err := fs.TNC.Find(types.Key{InodeNum: 2, Type: types.KeyIno, Payload: 0})
	if err != nil {
		t.Fatalf("Find(2): unexpected error %v", err)
	}
	if bad != nil {
		t.Fatalf("Find(2): expected a CRC-failing leaf to be excluded, got %+v", bad)
	}
}

func TestTNCLeavesExcludesCRCFailingLeaf(t *testing.T) {
	fs := buildCRCFailureFixture(t)
	leaves, err := fs.TNC.Leaves()
	if err != nil {
		t.Fatalf("Leaves: %v", err)
	}
	if len(leaves) != 1 || leaves[0].Ino == nil || leaves[0].Ino.Key.InodeNum != 1 {
		t.Fatalf("expected only the valid leaf to survive, got %+v", leaves)
	}
}

func TestTNCLeavesVisitsEveryLeafOnce(t *testing.T) {
	fs := buildTwoLevelFixture(t)
	leaves, err := fs.TNC.Leaves()
	if err != nil {
		t.Fatalf("Leaves: %v", err)
	}
	if len(leaves) != 4 {
		t.Fatalf("expected 4 leaves, got %d", len(leaves))
	}
	for i, n := range leaves {
		if n.Ino == nil || n.Ino.Key.InodeNum != uint32(i+1) {
			t.Fatalf("expected leaves in ascending inode order, position %d was %+v", i, n)
		}
	}
}
