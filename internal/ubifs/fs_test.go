package ubifs

import (
	"bytes"
	"testing"

	"github.com/go-ubift/ubift/internal/crc"
	"github.com/go-ubift/ubift/internal/types"
)

// buildBasicFixture assembles a minimal but fully committed UBIFS volume:
// one directory (root, inode 1) holding one regular file (inode 2, one
// uncompressed data block), no outstanding journal writes and no orphans.
// LEB layout: 0 superblock, 1/2 master (copy 2 absent), 3 index root,
// 4 log, 5 leaf nodes.
func buildBasicFixture(t *testing.T) *FS {
	t.Helper()

	rootKey := types.Key{InodeNum: 1, Type: types.KeyIno, Payload: 0}
	dentKey := types.Key{InodeNum: 1, Type: types.KeyDent, Payload: crc.R5Hash("file.txt")}
	fileKey := types.Key{InodeNum: 2, Type: types.KeyIno, Payload: 0}
	dataKey := types.Key{InodeNum: 2, Type: types.KeyData, Payload: 0}

	content := []byte("hello from a recovered ubifs file")

	inoRoot := buildInoNode(10, rootKey, 0x4000|0o755, 2, 0, 0, 0, nil)
	dent := buildDentNode(11, dentKey, 2, 0, "file.txt")
	inoFile := buildInoNode(12, fileKey, 0x8000|0o644, 1, 0, 0, uint64(len(content)), nil)
	data0 := buildDataNode(13, dataKey, content)

	leaves := append(append(append(append([]byte{}, inoRoot...), dent...), inoFile...), data0...)

	branches := []branchSpec{
		{lnum: 5, offs: 0, length: uint32(len(inoRoot)), key: rootKey},
		{lnum: 5, offs: uint32(len(inoRoot)), length: uint32(len(dent)), key: dentKey},
		{lnum: 5, offs: uint32(len(inoRoot) + len(dent)), length: uint32(len(inoFile)), key: fileKey},
		{lnum: 5, offs: uint32(len(inoRoot) + len(dent) + len(inoFile)), length: uint32(len(data0)), key: dataKey},
	}
	idx := buildIndexNode(14, 0, branches)

	sb := buildSuperblockNode(32256, 2048, 6, 8, types.ComprNone)
	mst := buildMasterNode(20, 2, 4, 3, 0, uint32(len(idx)))
	cs := buildCSNode(21, 1)

	lebs := [][]byte{sb, mst, nil, idx, cs, leaves}
	vol := buildUBIFSVolume(t, lebs)

	fs, err := Open(vol)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs
}

func TestOpenBootstrapsSuperblockAndMaster(t *testing.T) {
	fs := buildBasicFixture(t)
	if fs.Master.HighestInum != 2 {
		t.Fatalf("expected highest inum 2, got %d", fs.Master.HighestInum)
	}
	if fs.Master.RootLNum != 3 {
		t.Fatalf("expected root leb 3, got %d", fs.Master.RootLNum)
	}
}

func TestStatInode(t *testing.T) {
	fs := buildBasicFixture(t)

	root, err := fs.StatInode(1)
	if err != nil {
		t.Fatalf("StatInode(1): %v", err)
	}
	if root.Type() != types.ITypeDir {
		t.Fatalf("expected root to be a directory, got type %v", root.Type())
	}

	file, err := fs.StatInode(2)
	if err != nil {
		t.Fatalf("StatInode(2): %v", err)
	}
	if file.Type() != types.ITypeReg {
		t.Fatalf("expected inode 2 to be a regular file, got type %v", file.Type())
	}
	if file.Size != 33 {
		t.Fatalf("expected size 33, got %d", file.Size)
	}
}

func TestListDir(t *testing.T) {
	fs := buildBasicFixture(t)
	dents, err := fs.ListDir(1)
	if err != nil {
		t.Fatalf("ListDir(1): %v", err)
	}
	if len(dents) != 1 || string(dents[0].Name) != "file.txt" {
		t.Fatalf("expected a single dentry named file.txt, got %+v", dents)
	}
	if dents[0].IsTombstone() {
		t.Fatalf("a live dentry must not report as a tombstone")
	}
}

func TestReadFile(t *testing.T) {
	fs := buildBasicFixture(t)
	content, err := fs.ReadFile(2, 33)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(content, []byte("hello from a recovered ubifs file")) {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestResolvePath(t *testing.T) {
	fs := buildBasicFixture(t)
	ino, err := fs.ResolvePath("/file.txt")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if ino != 2 {
		t.Fatalf("expected inode 2, got %d", ino)
	}
	if _, err := fs.ResolvePath("/missing"); err == nil {
		t.Fatalf("expected an error resolving a missing path")
	}
}

func TestListInodes(t *testing.T) {
	fs := buildBasicFixture(t)
	inos, err := fs.ListInodes()
	if err != nil {
		t.Fatalf("ListInodes: %v", err)
	}
	if len(inos) != 2 || inos[0] != 1 || inos[1] != 2 {
		t.Fatalf("expected inodes [1 2], got %v", inos)
	}
}

func TestFindDentriesFor(t *testing.T) {
	fs := buildBasicFixture(t)
	dents, err := fs.FindDentriesFor(2)
	if err != nil {
		t.Fatalf("FindDentriesFor: %v", err)
	}
	if len(dents) != 1 || string(dents[0].Name) != "file.txt" {
		t.Fatalf("expected the single dentry pointing at inode 2, got %+v", dents)
	}
}

func TestJournalOverlayEmptyWhenNoBuds(t *testing.T) {
	fs := buildBasicFixture(t)
	if len(fs.Journal.Heads) != 0 {
		t.Fatalf("expected no journal heads in a fully committed fixture, got %d", len(fs.Journal.Heads))
	}
	if len(fs.Journal.Overlay()) != 0 {
		t.Fatalf("expected an empty journal overlay, got %d nodes", len(fs.Journal.Overlay()))
	}
}
