/*
	Package mosaic runs the second pipeline stage: merging all converted
	rasters into one seamless raster.  The merge is two-phase: a cheap
	index-only virtual reference over the inputs, then a materialization
	that touches full pixel volume and dominates the cost of the pipeline.
*/
package mosaic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/marsmapper/tilepipe/engine"
	"github.com/marsmapper/tilepipe/tilepipe"
)

const (
	// VirtualName is the filename of the virtual mosaic descriptor.
	VirtualName = "mosaic.vrt"

	// MaterializedBase is the basename of the materialized mosaic; the
	// extension depends on the engine's raster format.
	MaterializedBase = "mosaic"
)

// MergeError is a fatal failure in either merge phase.
type MergeError struct {
	Phase string // "virtual" or "materialize"
	Err   error
}

func (e MergeError) Error() string {
	return fmt.Sprintf("mosaic %s phase failed: %v", e.Phase, e.Err)
}

func (e MergeError) Unwrap() error {
	return e.Err
}

// Merge builds a virtual mosaic over the converted rasters and materializes
// it into a single physical raster in dir.  Where footprints overlap, the
// overlap policy decides precedence: "last" gives later-listed rasters
// precedence (the engine default), "first" gives it to earlier ones.  The
// tie-break is deterministic and order-dependent, not an averaging blend.
func Merge(ctx context.Context, eng engine.Engine, rasters []engine.RasterInfo, dir, destExt, overlap string) (engine.RasterInfo, *engine.VirtualMosaic, error) {
	if len(rasters) == 0 {
		return engine.RasterInfo{}, nil, MergeError{Phase: "virtual", Err: fmt.Errorf("no rasters to merge")}
	}

	paths := make([]string, len(rasters))
	for i, r := range rasters {
		paths[i] = r.Path
	}
	if overlap == "first" {
		// The engine always gives precedence to later-listed rasters, so
		// first-writer-wins is a reversal of the input order.
		for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
			paths[i], paths[j] = paths[j], paths[i]
		}
	}

	timedLog := tilepipe.NewTimeLog()
	vm, err := eng.BuildVirtualMosaic(ctx, paths, filepath.Join(dir, VirtualName))
	if err != nil {
		return engine.RasterInfo{}, nil, MergeError{Phase: "virtual", Err: err}
	}
	timedLog.Infof("Built virtual mosaic over %d rasters, footprint %s", len(paths), vm.Footprint)

	timedLog = tilepipe.NewTimeLog()
	dest := filepath.Join(dir, MaterializedBase+destExt)
	info, err := eng.Materialize(ctx, vm, dest, engine.DefaultEncoding())
	if err != nil {
		return engine.RasterInfo{}, nil, MergeError{Phase: "materialize", Err: err}
	}
	if fi, err := os.Stat(dest); err == nil {
		timedLog.Infof("Materialized %d x %d mosaic (%s)", info.Width, info.Height, humanize.Bytes(uint64(fi.Size())))
	} else {
		timedLog.Infof("Materialized %d x %d mosaic", info.Width, info.Height)
	}
	return info, vm, nil
}
