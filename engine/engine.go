/*
	Package engine defines the narrow boundary between the pipeline and the
	raster engine that performs decoding, re-encoding, merging, and region
	resampling.  Two implementations are provided: a GDAL subprocess engine
	for production use and a pure Go engine over the native raster format,
	used by tests and small runs.
*/
package engine

import (
	"context"
	"fmt"
	"image"

	"github.com/marsmapper/tilepipe/tilepipe"
)

// EncodingOptions is the encoding request sent to the engine for every
// conversion and materialization: tiled internal layout, lossless
// compression, multi-threaded compression, and large-file addressing so the
// later mosaic and tiling stages stay I/O-efficient on arbitrarily large
// sources.
type EncodingOptions struct {
	Tiled         bool
	Compression   string // lossless codec name, e.g. "LZW"
	MultiThreaded bool
	BigFile       bool // >4GiB addressing mode
}

// DefaultEncoding returns the encoding request used by the pipeline.
func DefaultEncoding() EncodingOptions {
	return EncodingOptions{
		Tiled:         true,
		Compression:   "LZW",
		MultiThreaded: true,
		BigFile:       true,
	}
}

// RasterInfo describes a raster on disk.  The footprint is only known after
// the engine has decoded the raster.
type RasterInfo struct {
	Path      string
	Width     int
	Height    int
	Footprint tilepipe.BBox
	Body      string // celestial body of the reference ellipsoid, if known
}

// DegreesPerPixel returns the ground resolution of the raster's finer axis.
func (r RasterInfo) DegreesPerPixel() float64 {
	if r.Width == 0 || r.Height == 0 {
		return 0
	}
	dx := r.Footprint.Width() / float64(r.Width)
	dy := r.Footprint.Height() / float64(r.Height)
	if dx < dy {
		return dx
	}
	return dy
}

// VirtualMosaic is an index-only descriptor of a mosaic's composition,
// built without copying pixel data.  Its footprint equals the union of all
// referenced raster footprints.
type VirtualMosaic struct {
	Path      string // descriptor file on disk
	Inputs    []RasterInfo
	Footprint tilepipe.BBox
}

// Engine is the contract the pipeline requires from a raster engine.
// Implementations must be safe for concurrent calls.
type Engine interface {
	// Convert decodes the source raster and re-encodes it at destPath with
	// the requested encoding.
	Convert(ctx context.Context, sourcePath, destPath string, opts EncodingOptions) (RasterInfo, error)

	// BuildVirtualMosaic writes an index-only mosaic descriptor over the
	// given rasters at destPath.  Runtime is proportional to the number of
	// inputs, independent of their pixel volume.
	BuildVirtualMosaic(ctx context.Context, rasterPaths []string, destPath string) (*VirtualMosaic, error)

	// Materialize merges the referenced rasters into a single physical
	// raster at destPath.  Where footprints overlap, later-listed rasters
	// take precedence.
	Materialize(ctx context.Context, vm *VirtualMosaic, destPath string, opts EncodingOptions) (RasterInfo, error)

	// ResampleRegion samples the given geographic region of a raster at the
	// requested output size.  Regions beyond the raster's data extent are
	// padded with transparent no-data pixels.
	ResampleRegion(ctx context.Context, rasterPath string, region tilepipe.BBox, outW, outH int) (*image.NRGBA, error)

	// SetCelestialBodyOverride disables the reference-ellipsoid consistency
	// check for coordinate transforms whose source and target frames belong
	// to different celestial bodies.  Must be called before any cross-body
	// transform and stays constant for the process lifetime.
	SetCelestialBodyOverride(enabled bool)
}

// EllipsoidMismatchError is returned when a cross-body coordinate transform
// is attempted without the celestial-body override enabled.
type EllipsoidMismatchError struct {
	SourceBody string
	TargetBody string
}

func (e EllipsoidMismatchError) Error() string {
	return fmt.Sprintf("source and target ellipsoid do not belong to the same celestial body (%s vs %s): enable the celestial-body override",
		e.SourceBody, e.TargetBody)
}
