package ubifs

import (
	"encoding/binary"

	"github.com/go-ubift/ubift/internal/crc"
	"github.com/go-ubift/ubift/internal/image"
	"github.com/go-ubift/ubift/internal/types"
	"github.com/go-ubift/ubift/internal/ubi"
)

// The node builders below lay out UBIFS nodes byte-for-byte against the
// field offsets types.Parse*Node decodes, so every fixture in this package
// exercises the real parsers rather than a shortcut in-memory shape.

func finalizeNode(buf []byte, nodeType types.NodeType, sqnum uint64) []byte {
	copy(buf[0:4], types.CHMagic[:])
	binary.LittleEndian.PutUint64(buf[8:16], sqnum)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(buf)))
	buf[20] = byte(nodeType)
	binary.LittleEndian.PutUint32(buf[4:8], crc.IEEE(buf[8:]))
	return buf
}

// buildInoNode lays out a types.InoNode: fixed 160-byte header plus inline
// data (fast-symlink target or, here, unused).
func buildInoNode(sqnum uint64, key types.Key, mode, nlink, uid, gid uint32, size uint64, data []byte) []byte {
	const fixed = 160
	buf := make([]byte, fixed+len(data))
	le := binary.LittleEndian
	k := key.Pack()
	copy(buf[24:32], k[:])
	le.PutUint64(buf[48:56], size)
	le.PutUint32(buf[92:96], nlink)
	le.PutUint32(buf[96:100], uid)
	le.PutUint32(buf[100:104], gid)
	le.PutUint32(buf[104:108], mode)
	le.PutUint32(buf[112:116], uint32(len(data)))
	le.PutUint16(buf[132:134], uint16(types.ComprNone))
	copy(buf[fixed:], data)
	return finalizeNode(buf, types.NodeIno, sqnum)
}

// buildDentNode lays out a types.DentNode (also used for xentries).
func buildDentNode(sqnum uint64, key types.Key, childInum uint64, dtype uint8, name string) []byte {
	const fixed = 56
	buf := make([]byte, fixed+len(name))
	le := binary.LittleEndian
	k := key.Pack()
	copy(buf[24:32], k[:])
	le.PutUint64(buf[40:48], childInum)
	buf[49] = dtype
	le.PutUint16(buf[50:52], uint16(len(name)))
	copy(buf[fixed:], name)
	return finalizeNode(buf, types.NodeDent, sqnum)
}

// buildDataNode lays out a types.DataNode holding an uncompressed block.
func buildDataNode(sqnum uint64, key types.Key, plain []byte) []byte {
	const fixed = 48
	buf := make([]byte, fixed+len(plain))
	le := binary.LittleEndian
	k := key.Pack()
	copy(buf[24:32], k[:])
	le.PutUint32(buf[40:44], uint32(len(plain)))
	le.PutUint16(buf[44:46], uint16(types.ComprNone))
	le.PutUint16(buf[46:48], uint16(len(plain)))
	copy(buf[fixed:], plain)
	return finalizeNode(buf, types.NodeData, sqnum)
}

type branchSpec struct {
	lnum, offs, length uint32
	key                types.Key
}

// buildIndexNode lays out a types.IndexNode at the given level; at level 0
// its branches point directly at leaf nodes.
func buildIndexNode(sqnum uint64, level uint16, branches []branchSpec) []byte {
	const fixed = 28
	buf := make([]byte, fixed+len(branches)*20)
	le := binary.LittleEndian
	le.PutUint16(buf[24:26], uint16(len(branches)))
	le.PutUint16(buf[26:28], level)
	o := fixed
	for _, b := range branches {
		le.PutUint32(buf[o:o+4], b.lnum)
		le.PutUint32(buf[o+4:o+8], b.offs)
		le.PutUint32(buf[o+8:o+12], b.length)
		k := b.key.Pack()
		copy(buf[o+12:o+20], k[:])
		o += 20
	}
	return finalizeNode(buf, types.NodeIdx, sqnum)
}

// buildCSNode lays out a types.CSNode (commit-start marker).
func buildCSNode(sqnum uint64, cmtNo uint64) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[24:32], cmtNo)
	return finalizeNode(buf, types.NodeCS, sqnum)
}

// buildRefNode lays out a types.RefNode.
func buildRefNode(sqnum uint64, lnum, offs, jhead uint32) []byte {
	buf := make([]byte, 64)
	le := binary.LittleEndian
	le.PutUint32(buf[24:28], lnum)
	le.PutUint32(buf[28:32], offs)
	le.PutUint32(buf[32:36], jhead)
	return finalizeNode(buf, types.NodeRef, sqnum)
}

// buildSuperblockNode lays out a fixed 4096-byte types.SuperblockNode.
func buildSuperblockNode(leBSize, minIOSize, lebCnt, fanout uint32, defaultCompr types.CompressionType) []byte {
	buf := make([]byte, types.SuperblockSize)
	le := binary.LittleEndian
	le.PutUint32(buf[32:36], minIOSize)
	le.PutUint32(buf[36:40], leBSize)
	le.PutUint32(buf[40:44], lebCnt)
	le.PutUint32(buf[44:48], lebCnt) // max leb cnt
	le.PutUint32(buf[72:76], fanout)
	le.PutUint16(buf[84:86], uint16(defaultCompr))
	return finalizeNode(buf, types.NodeSB, 1)
}

// buildMasterNode lays out a fixed 512-byte types.MasterNode.
func buildMasterNode(sqnum, highestInum uint64, logLNum, rootLNum, rootOffs, rootLen uint32) []byte {
	buf := make([]byte, types.MasterNodeSize)
	le := binary.LittleEndian
	le.PutUint64(buf[24:32], highestInum)
	le.PutUint32(buf[44:48], logLNum)
	le.PutUint32(buf[48:52], rootLNum)
	le.PutUint32(buf[52:56], rootOffs)
	le.PutUint32(buf[56:60], rootLen)
	return finalizeNode(buf, types.NodeMst, sqnum)
}

// buildUBIFSVolume wraps lebPayloads (one already-built LEB's worth of
// bytes per entry) as a single-volume UBI image and returns the resulting
// *ubi.Volume, the same construction path a real forensic run would
// exercise from Open() down.
func buildUBIFSVolume(t testingT, lebPayloads [][]byte) *ubi.Volume {
	t.Helper()
	const pebSize = 1 << 15
	const vidOff, dataOff = 64, 512
	leb := pebSize - dataOff

	dataRecord := buildVtblRecordBytes(uint32(len(lebPayloads)), 1, 0, types.VolAttrDynamic, "rootfs")
	layout := buildLayoutVolumePEBBytes(pebSize, vidOff, dataOff, 0, 1, map[uint32][]byte{0: dataRecord})

	var all []byte
	all = append(all, layout...)
	for i, payload := range lebPayloads {
		if len(payload) > leb {
			t.Fatalf("leb %d payload (%d bytes) exceeds usable leb size %d", i, len(payload), leb)
		}
		all = append(all, buildDataPEBBytes(pebSize, vidOff, dataOff, 0, uint32(i), uint64(i+1), types.VolTypeDynamic, payload)...)
	}

	img := image.New(all)
	part := image.MTDPartition{Image: img, Offset: 0, Length: img.Size(), Geometry: image.Geometry{PEBSize: pebSize}}
	inst, err := ubi.Open(part)
	if err != nil {
		t.Fatalf("ubi.Open: %v", err)
	}
	vol := inst.GetVolume("rootfs")
	if vol == nil {
		t.Fatalf("expected a volume named %q", "rootfs")
	}
	return vol
}

// testingT is the minimal subset of *testing.T buildUBIFSVolume needs,
// kept narrow so it can be shared by any _test.go file in this package.
type testingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

func buildECHeaderBytes(ec uint64, vidHdrOffset, dataOffset uint32) []byte {
	buf := make([]byte, types.ECHeaderSize)
	copy(buf[0:4], types.ECHdrMagic[:])
	buf[4] = 1
	binary.BigEndian.PutUint64(buf[8:16], ec)
	binary.BigEndian.PutUint32(buf[16:20], vidHdrOffset)
	binary.BigEndian.PutUint32(buf[20:24], dataOffset)
	binary.BigEndian.PutUint32(buf[types.ECHeaderSize-4:], crc.IEEE(buf[:types.ECHeaderSize-4]))
	return buf
}

func buildVIDHeaderBytes(volID, lnum uint32, sqnum uint64, volType uint8) []byte {
	buf := make([]byte, types.VIDHeaderSize)
	copy(buf[0:4], types.VIDHdrMagic[:])
	buf[4] = 1
	buf[5] = volType
	binary.BigEndian.PutUint32(buf[8:12], volID)
	binary.BigEndian.PutUint32(buf[12:16], lnum)
	binary.BigEndian.PutUint64(buf[40:48], sqnum)
	binary.BigEndian.PutUint32(buf[types.VIDHeaderSize-4:], crc.IEEE(buf[:types.VIDHeaderSize-4]))
	return buf
}

func buildVtblRecordBytes(reservedPEBs, alignment, dataPad uint32, volType uint8, name string) []byte {
	buf := make([]byte, types.VtblRecordSize)
	binary.BigEndian.PutUint32(buf[0:4], reservedPEBs)
	binary.BigEndian.PutUint32(buf[4:8], alignment)
	binary.BigEndian.PutUint32(buf[8:12], dataPad)
	buf[12] = volType
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(name)))
	copy(buf[16:16+len(name)], name)
	binary.BigEndian.PutUint32(buf[168:172], crc.IEEE(buf[:168]))
	return buf
}

func buildDataPEBBytes(pebSize int, vidOff, dataOff uint32, volID, lnum uint32, sqnum uint64, volType uint8, payload []byte) []byte {
	buf := make([]byte, pebSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf, buildECHeaderBytes(1, vidOff, dataOff))
	copy(buf[vidOff:], buildVIDHeaderBytes(volID, lnum, sqnum, volType))
	copy(buf[dataOff:], payload)
	return buf
}

func buildLayoutVolumePEBBytes(pebSize int, vidOff, dataOff uint32, lnum uint32, sqnum uint64, records map[uint32][]byte) []byte {
	buf := make([]byte, pebSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf, buildECHeaderBytes(1, vidOff, dataOff))
	copy(buf[vidOff:], buildVIDHeaderBytes(types.VtblVolumeID, lnum, sqnum, types.VolTypeDynamic))
	empty := make([]byte, types.VtblRecordSize)
	for i := 0; i < types.MaxVolumes; i++ {
		off := int(dataOff) + i*types.VtblRecordSize
		rec, ok := records[uint32(i)]
		if !ok {
			rec = empty
		}
		copy(buf[off:], rec)
	}
	return buf
}
