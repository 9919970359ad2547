package recovery

import (
	"encoding/binary"
	"testing"

	"github.com/go-ubift/ubift/internal/crc"
	"github.com/go-ubift/ubift/internal/types"
)

// buildDentNodeBytes lays out a minimal types.DentNode byte-for-byte against
// the field offsets types.ParseDentNode decodes, so scanLEBBytes exercises
// the real parser rather than a shortcut in-memory shape.
func buildDentNodeBytes(sqnum uint64, parent uint32, hash uint32, childInum uint64, name string) []byte {
	const fixed = 56
	buf := make([]byte, fixed+len(name))
	le := binary.LittleEndian
	k := types.Key{InodeNum: parent, Type: types.KeyDent, Payload: hash}.Pack()
	copy(buf[24:32], k[:])
	le.PutUint64(buf[40:48], childInum)
	le.PutUint16(buf[50:52], uint16(len(name)))
	copy(buf[fixed:], name)

	copy(buf[0:4], types.CHMagic[:])
	le.PutUint64(buf[8:16], sqnum)
	le.PutUint32(buf[16:20], uint32(len(buf)))
	buf[20] = byte(types.NodeDent)
	le.PutUint32(buf[4:8], crc.IEEE(buf[8:]))
	return buf
}

// TestScanLEBBytesDropsCRCFailingCandidate exercises spec.md §4.4's
// failure semantics: a CRC failure on a recovery-candidate node drops that
// node silently, rather than letting it flow into correlation and produce
// garbage "recovered" content.
func TestScanLEBBytesDropsCRCFailingCandidate(t *testing.T) {
	good := buildDentNodeBytes(5, 1, 42, 7, "good.txt")
	bad := buildDentNodeBytes(9, 1, 99, 8, "bad.txt")
	bad[30] ^= 0xFF // invalidate the CRC without changing the node's length

	data := append(append([]byte{}, good...), bad...)
	cands := scanLEBBytes(data, 3, "test")

	if len(cands) != 1 {
		t.Fatalf("expected only the CRC-valid candidate to survive, got %d: %+v", len(cands), cands)
	}
	if cands[0].node.Dent == nil || cands[0].node.Dent.Inum != 7 {
		t.Fatalf("expected the good dentry (child inode 7), got %+v", cands[0].node)
	}
}
