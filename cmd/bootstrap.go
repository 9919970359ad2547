package cmd

import (
	"fmt"
	"strconv"

	"github.com/go-ubift/ubift/internal/image"
	"github.com/go-ubift/ubift/internal/ubi"
	"github.com/go-ubift/ubift/internal/ubifs"
	"github.com/go-ubift/ubift/pkg/app"
)

// parseOffset accepts decimal or 0x-prefixed hexadecimal per spec.md §6.
func parseOffset(s string) (int64, error) {
	return strconv.ParseInt(s, 0, 64)
}

func openImage() (*image.Image, error) {
	if imagePath == "" {
		return nil, app.InputError("--image is required", nil)
	}
	img, err := image.Open(imagePath)
	if err != nil {
		return nil, app.InputError(fmt.Sprintf("opening image %q", imagePath), err)
	}
	return img, nil
}

// scanPartitions runs L1 detection over img, honoring an explicit
// --offset/--peb-size override per spec.md §4.1.
func scanPartitions(img *image.Image) ([]image.MTDPartition, error) {
	opts := image.ScanOptions{GapThreshold: pebGapThreshold}
	if geometryOffset != "" {
		off, err := parseOffset(geometryOffset)
		if err != nil {
			return nil, app.InputError(fmt.Sprintf("invalid --offset %q", geometryOffset), err)
		}
		opts.HasOffset = true
		opts.ExplicitOffset = off
	}
	if pebSizeFlag > 0 {
		opts.ExplicitPEBSize = pebSizeFlag
	}
	parts, err := image.ScanPartitions(img, opts)
	if err != nil {
		return nil, app.GeometryError("scanning partitions", err)
	}
	return parts, nil
}

// partitionAt returns the single partition starting at the given absolute
// offset, the address by which ubils/lebls/etc. name a UBI instance per
// spec.md §6's query-surface table ("partition-offset").
func partitionAt(parts []image.MTDPartition, offset int64) (image.MTDPartition, error) {
	for _, p := range parts {
		if p.Offset == offset {
			return p, nil
		}
	}
	return image.MTDPartition{}, app.InputError(fmt.Sprintf("no partition at offset %d", offset), nil)
}

func openInstanceAt(img *image.Image, offsetStr string) (*ubi.Instance, error) {
	parts, err := scanPartitions(img)
	if err != nil {
		return nil, err
	}
	off, err := parseOffset(offsetStr)
	if err != nil {
		return nil, app.InputError(fmt.Sprintf("invalid partition offset %q", offsetStr), err)
	}
	part, err := partitionAt(parts, off)
	if err != nil {
		return nil, err
	}
	inst, err := ubi.Open(part)
	if err != nil {
		return nil, app.IntegrityError("opening UBI instance", err)
	}
	return inst, nil
}

func openVolume(inst *ubi.Instance, name string) (*ubi.Volume, error) {
	v := inst.GetVolume(name)
	if v == nil {
		return nil, app.InputError(fmt.Sprintf("no volume named %q", name), nil)
	}
	return v, nil
}

func openFS(vol *ubi.Volume) (*ubifs.FS, error) {
	fs, err := ubifs.Open(vol)
	if err != nil {
		return nil, app.IntegrityError("bootstrapping UBIFS", err)
	}
	return fs, nil
}

// resolveFS is the common path shared by every fls/ils/istat/icat/ffind/
// jls/fsstat command: open the image, locate the instance at
// partitionOffset, locate the named volume, and bootstrap UBIFS over it.
func resolveFS(partitionOffset, volumeName string) (*ubifs.FS, *ubi.Instance, error) {
	target := &app.Target{VolumeName: volumeName}
	if err := target.Validate(); err != nil {
		return nil, nil, app.InputError(fmt.Sprintf("resolving %s", target), err)
	}
	img, err := openImage()
	if err != nil {
		return nil, nil, err
	}
	inst, err := openInstanceAt(img, partitionOffset)
	if err != nil {
		return nil, nil, err
	}
	vol, err := openVolume(inst, target.VolumeName)
	if err != nil {
		return nil, nil, err
	}
	fs, err := openFS(vol)
	if err != nil {
		return nil, nil, err
	}
	return fs, inst, nil
}
