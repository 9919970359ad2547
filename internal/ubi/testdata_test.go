package ubi

import (
	"encoding/binary"

	"github.com/go-ubift/ubift/internal/crc"
	"github.com/go-ubift/ubift/internal/types"
)

// buildECHeader returns a types.ECHeaderSize-byte EC header with a correct
// HdrCRC, mirroring the on-disk layout ParseECHeader decodes.
func buildECHeader(ec uint64, vidHdrOffset, dataOffset uint32) []byte {
	buf := make([]byte, types.ECHeaderSize)
	copy(buf[0:4], types.ECHdrMagic[:])
	buf[4] = 1
	binary.BigEndian.PutUint64(buf[8:16], ec)
	binary.BigEndian.PutUint32(buf[16:20], vidHdrOffset)
	binary.BigEndian.PutUint32(buf[20:24], dataOffset)
	binary.BigEndian.PutUint32(buf[24:28], 0x11223344) // image seq, unchecked
	binary.BigEndian.PutUint32(buf[types.ECHeaderSize-4:], crc.IEEE(buf[:types.ECHeaderSize-4]))
	return buf
}

// buildVIDHeader returns a types.VIDHeaderSize-byte VID header for (volID,
// lnum) at sqnum. When corrupt is true the trailing HdrCRC is deliberately
// wrong, simulating a torn or half-written write.
func buildVIDHeader(volID, lnum uint32, sqnum uint64, volType uint8, corrupt bool) []byte {
	buf := make([]byte, types.VIDHeaderSize)
	copy(buf[0:4], types.VIDHdrMagic[:])
	buf[4] = 1
	buf[5] = volType
	binary.BigEndian.PutUint32(buf[8:12], volID)
	binary.BigEndian.PutUint32(buf[12:16], lnum)
	binary.BigEndian.PutUint64(buf[40:48], sqnum)
	crcVal := crc.IEEE(buf[:types.VIDHeaderSize-4])
	if corrupt {
		crcVal = ^crcVal
	}
	binary.BigEndian.PutUint32(buf[types.VIDHeaderSize-4:], crcVal)
	return buf
}

// buildVtblRecord returns a types.VtblRecordSize-byte volume-table record
// with a correct CRC.
func buildVtblRecord(reservedPEBs, alignment, dataPad uint32, volType uint8, name string) []byte {
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

// buildPEB lays out one full pebSize-byte PEB: an EC header at offset 0, a
// VID header at vidOff, and payload starting at dataOff and padded with
// 0xFF (erased NAND) to fill the PEB.
func buildPEB(pebSize int, ec uint64, vidOff, dataOff uint32, volID, lnum uint32, sqnum uint64, volType uint8, corruptVID bool, payload []byte) []byte {
	buf := make([]byte, pebSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf, buildECHeader(ec, vidOff, dataOff))
	copy(buf[vidOff:], buildVIDHeader(volID, lnum, sqnum, volType, corruptVID))
	copy(buf[dataOff:], payload)
	return buf
}

// buildLayoutVolumePEB lays out a layout-volume copy PEB (vol id
// types.VtblVolumeID) whose payload holds the 128 volume-table records,
// keyed by their volume id.
func buildLayoutVolumePEB(pebSize int, vidOff, dataOff uint32, lnum uint32, sqnum uint64, records map[uint32][]byte) []byte {
	buf := make([]byte, pebSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	copy(buf, buildECHeader(1, vidOff, dataOff))
	copy(buf[vidOff:], buildVIDHeader(types.VtblVolumeID, lnum, sqnum, types.VolTypeDynamic, false))
	empty := make([]byte, types.VtblRecordSize) // all-zero: IsEmpty() == true
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
