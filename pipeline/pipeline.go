/*
	Package pipeline sequences the three processing stages: parallel source
	conversion, mosaic merging, and tile pyramid generation.  Each stage only
	starts once the previous stage's completeness precondition holds, and all
	stage failures are converted into a reported Result rather than raised
	past the orchestrator's boundary.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marsmapper/tilepipe/convert"
	"github.com/marsmapper/tilepipe/engine"
	"github.com/marsmapper/tilepipe/mosaic"
	"github.com/marsmapper/tilepipe/pyramid"
	"github.com/marsmapper/tilepipe/tilegrid"
	"github.com/marsmapper/tilepipe/tilepipe"
)

// Failure kinds reported in a Result.
const (
	KindSetup             = "SetupError"
	KindNoInput           = "NoInputError"
	KindPartialConversion = "PartialConversionError"
	KindMerge             = "MergeError"
	KindTiling            = "TileGenerationError"
)

// ErrNoInput is returned when the source directory holds no source rasters.
var ErrNoInput = errors.New("no source rasters found in source directory")

// PartialConversionError is the fatal aggregate failure when fewer rasters
// converted than were discovered.  A mosaic built from a strict subset of
// sources would silently produce an incomplete tile pyramid, so the run is
// aborted before any merge or tiling is attempted.
type PartialConversionError struct {
	Converted int
	Total     int
	Failures  []convert.Failure
}

func (e PartialConversionError) Error() string {
	return fmt.Sprintf("only %d of %d source rasters converted; aborting before merge", e.Converted, e.Total)
}

// StageTiming records elapsed wall time for one completed stage.
type StageTiming struct {
	Name    string
	Elapsed time.Duration
}

// Result is the aggregate outcome of a pipeline run.  Failed runs carry the
// failure kind and the underlying error; partial per-tile failures in stage
// 3 do not make the run failed.
type Result struct {
	Success bool
	Kind    string
	Err     error
	Stages  []StageTiming

	Sources      int
	Converted    int
	Mosaic       engine.RasterInfo
	Tiles        int
	TileFailures []pyramid.Failure
}

func failed(kind string, err error) Result {
	return Result{Kind: kind, Err: err}
}

// Pipeline orchestrates one full run over a configuration and an engine.
type Pipeline struct {
	Engine engine.Engine
	Config *tilepipe.Config

	// SourceExts filters which files in the source directory are treated as
	// source rasters; DestExt is the extension of converted rasters.  Both
	// default according to the engine's raster format.
	SourceExts []string
	DestExt    string
}

// New returns a Pipeline with source and destination formats defaulted for
// the given engine.
func New(eng engine.Engine, cfg *tilepipe.Config) *Pipeline {
	p := &Pipeline{Engine: eng, Config: cfg}
	switch eng.(type) {
	case *engine.Native:
		p.SourceExts = []string{engine.RasterExt}
		p.DestExt = engine.RasterExt
	default:
		p.SourceExts = []string{".jp2", ".tif", ".tiff", ".png"}
		p.DestExt = ".tif"
	}
	return p
}

// Run executes the full pipeline.  It never panics or returns an error past
// its own boundary; every failure is reported in the Result.  Fatal errors
// leave partially-written output directories in place -- there is no
// automatic rollback.
func (p *Pipeline) Run(ctx context.Context) (result Result) {
	cfg := p.Config
	defer func() {
		if r := recover(); r != nil {
			result = failed(KindTiling, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	profile, err := tilegrid.ParseProfile(cfg.Run.Profile)
	if err != nil {
		return failed(KindTiling, err)
	}
	zmin, zmax, err := cfg.ZoomRange()
	if err != nil {
		return failed(KindTiling, err)
	}

	// The override must be in place before any cross-body transform.
	p.Engine.SetCelestialBodyOverride(cfg.Run.CelestialOverride)

	runLog := tilepipe.NewTimeLog()
	tilepipe.Infof("Pipeline run: profile %s, zooms %d-%d, %d workers\n",
		profile, zmin, zmax, cfg.Run.Workers)

	// Output directories for converted rasters and tiles are cleared before
	// stage 1.  Destructive; no backup.
	for _, dir := range []string{cfg.Paths.Converted, cfg.Paths.Tiles, cfg.Paths.Mosaic} {
		if err := tilepipe.ResetDir(dir); err != nil {
			return failed(KindSetup, err)
		}
	}

	// Precondition for stage 1: at least one source raster.
	sources, err := convert.Discover(cfg.Paths.Source, p.SourceExts...)
	if err != nil {
		return failed(KindNoInput, err)
	}
	if len(sources) == 0 {
		return failed(KindNoInput, ErrNoInput)
	}
	result.Sources = len(sources)

	// Stage 1: parallel conversion.  All-or-nothing gate.
	tilepipe.Infof("Step 1: Converting %d source rasters\n", len(sources))
	stageLog := tilepipe.NewTimeLog()
	converted := convert.All(ctx, p.Engine, sources, cfg.Paths.Converted, p.DestExt, cfg.Run.Workers)
	result.Converted = len(converted.Converted)
	result.Stages = append(result.Stages, StageTiming{"convert", stageLog.Elapsed()})
	stageLog.Infof("Step 1 finished: converted %d of %d rasters", len(converted.Converted), len(sources))
	if len(converted.Converted) != len(sources) {
		for _, f := range converted.Failures {
			tilepipe.Errorf("Failed source: %v\n", f)
		}
		result.Kind = KindPartialConversion
		result.Err = PartialConversionError{
			Converted: len(converted.Converted),
			Total:     len(sources),
			Failures:  converted.Failures,
		}
		return result
	}

	// Stage 2: merge into a single mosaic.  Any failure is fatal.
	tilepipe.Infof("Step 2: Merging %d rasters into a mosaic\n", len(converted.Converted))
	stageLog = tilepipe.NewTimeLog()
	mosaicInfo, _, err := mosaic.Merge(ctx, p.Engine, converted.Converted, cfg.Paths.Mosaic, p.DestExt, cfg.Run.Overlap)
	result.Stages = append(result.Stages, StageTiming{"merge", stageLog.Elapsed()})
	if err != nil {
		result.Kind = KindMerge
		result.Err = err
		return result
	}
	result.Mosaic = mosaicInfo
	stageLog.Infof("Step 2 finished: mosaic footprint %s", mosaicInfo.Footprint)

	// Stage 3: tile pyramid.  Per-tile failures are tolerated.
	tilepipe.Infof("Step 3: Generating tiles for zooms %d-%d\n", zmin, zmax)
	stageLog = tilepipe.NewTimeLog()
	tiles, err := pyramid.Generate(ctx, p.Engine, mosaicInfo, cfg.Paths.Tiles, pyramid.Options{
		Profile: profile,
		ZMin:    zmin,
		ZMax:    zmax,
		Workers: cfg.Run.Workers,
		Gzip:    cfg.Run.GzipTiles,
	})
	result.Tiles = tiles.Tiles
	result.TileFailures = tiles.Failures
	result.Stages = append(result.Stages, StageTiming{"tile", stageLog.Elapsed()})
	if err != nil {
		result.Kind = KindTiling
		result.Err = err
		return result
	}
	if tiles.Tiles == 0 && len(tiles.Failures) > 0 {
		// Per-tile failures are tolerated, but a pyramid with zero tiles
		// means every base tile failed.
		result.Kind = KindTiling
		result.Err = fmt.Errorf("no tiles generated: %v", tiles.Failures[0].Err)
		return result
	}
	stageLog.Infof("Step 3 finished: %d tiles, %d per-tile failures", tiles.Tiles, len(tiles.Failures))

	if cfg.Run.Viewer {
		center := mosaicInfo.Footprint
		lat := (center.North + center.South) / 2
		lon := (center.West + center.East) / 2
		if err := pyramid.WriteViewer(cfg.Paths.Tiles, profile, zmin, zmax, lat, lon, cfg.Run.GzipTiles); err != nil {
			tilepipe.Warningf("Could not write viewer page: %v\n", err)
		}
	}

	runLog.Infof("All steps completed: %d sources -> %d tiles", result.Sources, result.Tiles)
	result.Success = true
	return result
}
