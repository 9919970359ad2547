package recovery

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/go-ubift/ubift/internal/ubi"
	"github.com/go-ubift/ubift/internal/ubifs"
)

// Engine runs the deleted-view recovery scan of spec.md §4.4 over one
// bootstrapped UBIFS instance and the UBI instance backing it.
type Engine struct {
	FS    *ubifs.FS
	Inst  *ubi.Instance
	Vol   *ubi.Volume
	compr *ubifs.CompressionService
}

// NewEngine builds a recovery Engine for an already-open FS, reusing the
// ubi.Instance that produced its volume so stale PEBs are reachable.
func NewEngine(fs *ubifs.FS, inst *ubi.Instance) (*Engine, error) {
	compr, err := ubifs.NewCompressionService()
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	return &Engine{FS: fs, Inst: inst, Vol: fs.Volume, compr: compr}, nil
}

// scanJob is one LEB- or stale-PEB-sized unit of the recovery scan's work
// queue, per SPEC_FULL.md §5's "bounded worker pool" model.
type scanJob struct {
	lnum   int
	source string
	read   func() ([]byte, error)
}

// buildJobs enumerates every live LEB of the volume (for the "unreachable
// but intact" loose-node scan) plus every stale PEB belonging to this
// volume's id (for the stale-PEB scan), per spec.md §4.4's two named
// sources of recoverable bytes that a full scan reaches.
func (e *Engine) buildJobs() []scanJob {
	var jobs []scanJob
	for _, lnum := range e.Vol.MappedLEBs() {
		ln := lnum
		jobs = append(jobs, scanJob{
			lnum:   ln,
			source: "leb-scan",
			read:   func() ([]byte, error) { return e.Vol.ReadLEB(ln) },
		})
	}
	for _, p := range e.Inst.AllStalePEBs() {
		if p.VID.VolID != e.Vol.ID {
			continue
		}
		pp := p
		jobs = append(jobs, scanJob{
			lnum:   int(pp.VID.LNum),
			source: "stale-peb",
			read:   func() ([]byte, error) { return pp.Data(e.Inst.Partition.Image) },
		})
	}
	return jobs
}

// Scan runs the full recovery pass: a fanned-out signature scan across
// every job buildJobs produces (each job fills its own result slot; the
// mutex guards only the progress count), merged by sequence number once
// every worker is done and correlated into a Result, per spec.md §5's concurrency allowance ("MAY parallelise the
// recovery scan across LEBs... because overlay construction is
// associative"). progress, if non-nil, is called at LEB granularity.
func (e *Engine) Scan(ctx context.Context, progress func(message string, percent int)) (*Result, error) {
	jobs := e.buildJobs()
	if len(jobs) == 0 {
		return e.correlate(nil)
	}

	results := make([][]candidate, len(jobs))
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	indices := make(chan int)
	go func() {
		for i := range jobs {
			indices <- i
		}
		close(indices)
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	done := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				if err := ctx.Err(); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				j := jobs[i]
				data, err := j.read()
				if err == nil {
					results[i] = scanLEBBytes(data, j.lnum, j.source)
				}
				mu.Lock()
				done++
				if progress != nil {
					progress(fmt.Sprintf("scanned leb %d (%s)", j.lnum, j.source), 100*done/len(jobs))
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	var all []candidate
	for _, r := range results {
		all = append(all, r...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].node.CH.SqNum < all[j].node.CH.SqNum })

	return e.correlate(all)
}
