package recovery

import (
	"github.com/google/uuid"

	"github.com/go-ubift/ubift/internal/image"
	"github.com/go-ubift/ubift/internal/ubi"
)

// Info aggregates whole-image recoverability statistics for the
// ubift_info command (spec.md §6). SessionID is a fresh identifier
// stamped onto each report so separate runs against the same image are
// distinguishable in saved output, per SPEC_FULL.md §7's google/uuid
// wiring.
type Info struct {
	SessionID        uuid.UUID
	Partitions       int
	UBIInstances     int
	Volumes          int
	OrphanVolumes    int
	StalePEBs        int
	UnreferencedPEBs int
}

// BuildInfo summarises every partition and UBI instance discovered during
// a scan. instances may contain fewer entries than partitions when some
// partitions never yielded a valid UBI instance.
func BuildInfo(partitions []image.MTDPartition, instances []*ubi.Instance) Info {
	info := Info{SessionID: uuid.New(), Partitions: len(partitions)}
	for _, inst := range instances {
		info.UBIInstances++
		info.Volumes += len(inst.Volumes)
		info.StalePEBs += len(inst.AllStalePEBs())
		info.UnreferencedPEBs += len(inst.UnreferencedPEBs())
		for _, v := range inst.Volumes {
			if v.IsOrphan() {
				info.OrphanVolumes++
			}
		}
	}
	return info
}
