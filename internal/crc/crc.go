// Package crc provides the checksum and hash helpers shared by the UBI and
// UBIFS parsers: plain IEEE CRC32 (the on-flash checksum algorithm for both
// formats) and the UBIFS r5 directory-entry name hash.
package crc

import "hash/crc32"

// IEEE computes the standard CRC32 (IEEE 802.3 polynomial) over data. Both
// UBI headers and UBIFS node headers use this exact algorithm for their
// on-disk checksum field, so no third-party checksum library is needed —
// the format itself specifies the stdlib algorithm.
func IEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// R5Hash implements the r5 hash used for UBIFS directory-entry keys,
// ported directly from the Linux kernel's fs/ubifs/key.h key_r5_hash.
// Only the low 29 bits are significant; the reserved values 0, 1, and 2
// (".", "..", and the end-of-readdir marker) are bumped by 3 to stay clear
// of them.
func R5Hash(name string) uint32 {
	var h uint32
	for _, b := range []byte(name) {
		s := int32(int8(b)) // the kernel reads the name as signed char
		h += uint32(s << 4)
		h += uint32(s >> 4)
		h *= 11
	}
	h &= 0x1FFFFFFF
	if h <= 2 {
		h += 3
	}
	return h
}
