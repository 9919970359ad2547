// Package image implements the L1 layer of the forensic pipeline: a
// read-only view over a raw flash dump and the MTD-like partition scanner
// that runs over it.
package image

import (
	"fmt"
	"os"

	"github.com/go-ubift/ubift/internal/types"
)

// candidatePEBSizes are the powers of two spec.md §4.1 permits the scanner
// to try when no explicit geometry is supplied: 2^15 (32 KiB) .. 2^20 (1 MiB).
var candidatePEBSizes = []int{
	1 << 15, 1 << 16, 1 << 17, 1 << 18, 1 << 19, 1 << 20,
}

// Image is the sole physical input: a read-only byte array addressable by
// absolute offset. It never mutates after construction.
type Image struct {
	data []byte
	path string
}

// Open reads path fully into memory and returns the resulting Image. Raw
// dumps are treated as an in-memory slice thereafter per spec.md §5 — no
// further I/O occurs once Open returns.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: open %s: %w", path, err)
	}
	return &Image{data: data, path: path}, nil
}

// New wraps an in-memory buffer as an Image, used by tests and by callers
// that have already read or synthesized the bytes.
func New(data []byte) *Image {
	return &Image{data: data}
}

// Path returns the filesystem path the image was opened from, or "" for an
// in-memory image.
func (img *Image) Path() string { return img.path }

// Size returns the total length of the image in bytes.
func (img *Image) Size() int64 { return int64(len(img.data)) }

// Bytes returns the full backing slice. Callers must not mutate it — the
// core is a read-only view over the input.
func (img *Image) Bytes() []byte { return img.data }

// ReadAt returns length bytes starting at offset, or an error if the range
// falls outside the image.
func (img *Image) ReadAt(offset int64, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(img.data)) {
		return nil, fmt.Errorf("image: range [%d,%d) out of bounds (size %d)", offset, offset+length, len(img.data))
	}
	return img.data[offset : offset+length], nil
}

// FindSignature returns the absolute offset of the first occurrence of sig
// at or after start, or -1 if not found.
func (img *Image) FindSignature(sig []byte, start int64) int64 {
	if start < 0 {
		start = 0
	}
	if start >= int64(len(img.data)) {
		return -1
	}
	idx := indexFrom(img.data, sig, int(start))
	if idx < 0 {
		return -1
	}
	return int64(idx)
}

func indexFrom(haystack, needle []byte, start int) int {
	if len(needle) == 0 || start >= len(haystack) {
		return -1
	}
	for i := start; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// Geometry describes the physical layout parameters of an MTD partition,
// either detected or supplied explicitly by the caller.
type Geometry struct {
	PEBSize   int
	MinIOSize int // page size; derived from the EC header's VIDHdrOffset when detected
	Explicit  bool
}

// MTDPartition is a contiguous slice of Image, identified by a tentative
// description (spec.md §3).
type MTDPartition struct {
	Image       *Image
	Offset      int64
	Length      int64
	Description string
	Geometry    Geometry
}

// Data returns the raw bytes of this partition.
func (p MTDPartition) Data() []byte {
	b, _ := p.Image.ReadAt(p.Offset, p.Length)
	return b
}

const (
	DescriptionUBI     = "UBI"
	DescriptionUnknown = "unknown"
)

// ScanOptions allows a caller to bypass detection and trust supplied
// geometry, per spec.md §4.1 ("When the user supplies explicit offset and
// PEB size, bypass detection and trust the supplied geometry").
type ScanOptions struct {
	ExplicitOffset   int64
	HasOffset        bool
	ExplicitPEBSize  int
	GapThreshold     int // PEBs of non-UBI allowed inside a UBI run before it is split (default 3)
}

// DefaultGapThreshold is the reference implementation's UBIPartitioner
// default `peb_scan_threshold`.
const DefaultGapThreshold = 3

// ScanPartitions implements spec.md §4.1: it clusters contiguous runs of
// valid EC headers sharing a PEB size into "UBI" partitions, and treats
// gaps between them as "unknown" partitions covering the whole image.
func ScanPartitions(img *Image, opts ScanOptions) ([]MTDPartition, error) {
	if img.Size() == 0 {
		return []MTDPartition{{Image: img, Offset: 0, Length: 0, Description: DescriptionUnknown}}, nil
	}

	if opts.HasOffset && opts.ExplicitPEBSize > 0 {
		return []MTDPartition{{
			Image:       img,
			Offset:      opts.ExplicitOffset,
			Length:      img.Size() - opts.ExplicitOffset,
			Description: DescriptionUBI,
			Geometry:    Geometry{PEBSize: opts.ExplicitPEBSize, Explicit: true},
		}}, nil
	}

	gapThreshold := opts.GapThreshold
	if gapThreshold <= 0 {
		gapThreshold = DefaultGapThreshold
	}

	var partitions []MTDPartition
	cursor := int64(0)
	for cursor < img.Size() {
		start := img.FindSignature(types.ECHdrMagic[:], cursor)
		if start < 0 {
			break
		}
		pebSize, minIO, ok := detectGeometry(img, start)
		if !ok {
			cursor = start + 1
			continue
		}
		end := clusterRun(img, start, pebSize, gapThreshold)
		partitions = append(partitions, MTDPartition{
			Image:       img,
			Offset:      start,
			Length:      end - start,
			Description: DescriptionUBI,
			Geometry:    Geometry{PEBSize: pebSize, MinIOSize: minIO},
		})
		cursor = end
	}

	if len(partitions) == 0 {
		return []MTDPartition{{Image: img, Offset: 0, Length: img.Size(), Description: DescriptionUnknown}}, nil
	}

	return fillGaps(img, partitions), nil
}

// detectGeometry tries every candidate PEB size looking for a second EC
// header exactly one PEB further on, per spec.md §4.1's "small set of
// plausible PEB sizes". The page size (min I/O size) is read back from the
// first EC header's VIDHdrOffset field, mirroring the reference
// implementation's _guess_page_size.
func detectGeometry(img *Image, start int64) (pebSize int, minIOSize int, ok bool) {
	hdr, err := readECHeader(img, start)
	if err != nil || !hdr.ValidMagic() {
		return 0, 0, false
	}
	for _, candidate := range candidatePEBSizes {
		next := start + int64(candidate)
		if next+types.ECHeaderSize > img.Size() {
			continue
		}
		nextHdr, err := readECHeader(img, next)
		if err != nil {
			continue
		}
		if nextHdr.ValidMagic() {
			return candidate, int(hdr.VIDHdrOffset), true
		}
	}
	// Single-PEB image: accept the smallest candidate that fits.
	for _, candidate := range candidatePEBSizes {
		if start+int64(candidate) <= img.Size() {
			return candidate, int(hdr.VIDHdrOffset), true
		}
	}
	return 0, 0, false
}

func readECHeader(img *Image, offset int64) (types.ECHeader, error) {
	buf, err := img.ReadAt(offset, types.ECHeaderSize)
	if err != nil {
		return types.ECHeader{}, err
	}
	return types.ParseECHeader(buf)
}

// clusterRun walks forward in pebSize steps from start, tolerating up to
// gapThreshold consecutive non-UBI PEBs before declaring the run over, and
// returns the exclusive end offset of the cluster.
func clusterRun(img *Image, start int64, pebSize int, gapThreshold int) int64 {
	cursor := start
	lastGood := start
	gap := 0
	for cursor+int64(pebSize) <= img.Size() {
		hdr, err := readECHeader(img, cursor)
		if err == nil && hdr.ValidMagic() {
			gap = 0
			lastGood = cursor + int64(pebSize)
		} else {
			gap++
			if gap > gapThreshold {
				break
			}
		}
		cursor += int64(pebSize)
	}
	return lastGood
}

// fillGaps inserts "unknown" partitions between, before, and after the
// detected UBI runs so the full image is covered, per spec.md §8's
// mtdcat round-trip law.
func fillGaps(img *Image, partitions []MTDPartition) []MTDPartition {
	var filled []MTDPartition
	cursor := int64(0)
	for _, p := range partitions {
		if p.Offset > cursor {
			filled = append(filled, MTDPartition{Image: img, Offset: cursor, Length: p.Offset - cursor, Description: DescriptionUnknown})
		}
		filled = append(filled, p)
		cursor = p.Offset + p.Length
	}
	if cursor < img.Size() {
		filled = append(filled, MTDPartition{Image: img, Offset: cursor, Length: img.Size() - cursor, Description: DescriptionUnknown})
	}
	return filled
}
