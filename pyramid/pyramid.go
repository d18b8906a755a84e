/*
	Package pyramid runs the third pipeline stage: slicing the mosaic into a
	multi-resolution quadtree of map tiles addressed by (zoom, x, y).

	The base (finest) zoom level is resampled directly from the mosaic.
	Every coarser level is derived bottom-up by downsampling the four child
	tiles of each parent, so the full pyramid is computed in one pass per
	level with bounded memory and no recursion.
*/
package pyramid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/marsmapper/tilepipe/engine"
	"github.com/marsmapper/tilepipe/tilegrid"
	"github.com/marsmapper/tilepipe/tilepipe"
)

// ErrMissingChildren marks a tile that could not be derived because all four
// of its children were missing, usually from failures at a finer level.
var ErrMissingChildren = errors.New("all child tiles missing")

// Failure records one tile that could not be produced.  A failure does not
// block sibling tiles; it propagates as missing data to ancestor tiles that
// depend on the failed one.
type Failure struct {
	Addr tilegrid.Address
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("tile %s failed: %v", f.Addr, f.Err)
}

// Options configures tile pyramid generation.
type Options struct {
	Profile  tilegrid.Profile
	ZMin     int
	ZMax     int
	Workers  int
	TileSize int  // pixels per tile edge; defaults to tilepipe.DefaultTileSize
	Gzip     bool // store tile payloads gzip-compressed
}

// Result is the outcome of pyramid generation.
type Result struct {
	Tiles    int // tiles written across all zoom levels
	Failures []Failure
}

// Generate slices the mosaic into tiles for every zoom level in [ZMin, ZMax]
// and writes them under outDir as {z}/{x}/{y}.png (.png.gz when gzipped).
// Tile generation within a level is parallel across tiles; levels are
// processed strictly from ZMax down to ZMin since each coarser level is
// derived from the one below it.
func Generate(ctx context.Context, eng engine.Engine, mosaic engine.RasterInfo, outDir string, opts Options) (Result, error) {
	if opts.TileSize == 0 {
		opts.TileSize = tilepipe.DefaultTileSize
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ZMin < 0 || opts.ZMax < opts.ZMin {
		return Result{}, fmt.Errorf("bad zoom range [%d, %d]", opts.ZMin, opts.ZMax)
	}
	if mosaic.Footprint.IsZero() {
		return Result{}, fmt.Errorf("mosaic %q has no footprint", mosaic.Path)
	}
	x0, y0, x1, y1 := tilegrid.CoveringRange(opts.Profile, opts.ZMax, mosaic.Footprint)
	if x1 < x0 || y1 < y0 {
		return Result{}, fmt.Errorf("mosaic footprint %s does not intersect the %s grid at zoom %d",
			mosaic.Footprint, opts.Profile, opts.ZMax)
	}
	if res := mosaic.DegreesPerPixel(); res > 0 {
		base := tilegrid.TileBounds(opts.Profile, tilegrid.Address{Z: opts.ZMax, X: x0, Y: y0})
		if tileRes := base.Width() / float64(opts.TileSize); tileRes < res {
			tilepipe.Warningf("Base zoom %d is finer than the mosaic resolution (%.3g vs %.3g degrees per pixel); base tiles will be oversampled\n",
				opts.ZMax, tileRes, res)
		}
	}

	g := &generator{
		eng:    eng,
		mosaic: mosaic,
		outDir: outDir,
		opts:   opts,
	}

	timedLog := tilepipe.NewTimeLog()
	if err := g.level(ctx, opts.ZMax, g.baseTile); err != nil {
		return g.result, err
	}
	timedLog.Infof("Generated base level %d (%d tiles so far)", opts.ZMax, g.result.Tiles)

	for z := opts.ZMax - 1; z >= opts.ZMin; z-- {
		levelLog := tilepipe.NewTimeLog()
		if err := g.level(ctx, z, g.derivedTile); err != nil {
			return g.result, err
		}
		levelLog.Infof("Generated level %d (%d tiles so far)", z, g.result.Tiles)
	}
	timedLog.Infof("Generated tile pyramid for zooms %d-%d: %d tiles, %d failures",
		opts.ZMin, opts.ZMax, g.result.Tiles, len(g.result.Failures))
	return g.result, nil
}

type generator struct {
	eng    engine.Engine
	mosaic engine.RasterInfo
	outDir string
	opts   Options

	mu     sync.Mutex
	result Result
}

// tileFunc produces the pixel content for one tile, or nil if the tile has
// no data at all and should not be written.
type tileFunc func(ctx context.Context, addr tilegrid.Address) (*image.NRGBA, error)

// level generates every tile at one zoom level whose covered region
// intersects the mosaic's data extent, fanning the tiles out over a bounded
// worker pool and joining all workers before returning.
func (g *generator) level(ctx context.Context, z int, produce tileFunc) error {
	x0, y0, x1, y1 := tilegrid.CoveringRange(g.opts.Profile, z, g.mosaic.Footprint)
	if x1 < x0 || y1 < y0 {
		return ctx.Err()
	}
	total := (x1 - x0 + 1) * (y1 - y0 + 1)

	addrCh := make(chan tilegrid.Address, total)
	var wg sync.WaitGroup
	for i := 0; i < g.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range addrCh {
				if ctx.Err() != nil {
					continue // drain remaining work on cancellation
				}
				g.makeTile(ctx, addr, produce)
			}
		}()
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			addrCh <- tilegrid.Address{Z: z, X: x, Y: y}
		}
	}
	close(addrCh)
	wg.Wait()
	return ctx.Err()
}

func (g *generator) makeTile(ctx context.Context, addr tilegrid.Address, produce tileFunc) {
	defer func() {
		if r := recover(); r != nil {
			g.recordFailure(addr, fmt.Errorf("engine crash: %v", r))
		}
	}()

	img, err := produce(ctx, addr)
	if err != nil {
		g.recordFailure(addr, err)
		return
	}
	if img == nil {
		return
	}
	if err := g.writeTile(addr, img); err != nil {
		g.recordFailure(addr, err)
		return
	}
	g.mu.Lock()
	g.result.Tiles++
	g.mu.Unlock()
}

func (g *generator) recordFailure(addr tilegrid.Address, err error) {
	tilepipe.Errorf("Tile %s failed: %v\n", addr, err)
	g.mu.Lock()
	g.result.Failures = append(g.result.Failures, Failure{Addr: addr, Err: err})
	g.mu.Unlock()
}

// baseTile resamples the mosaic region covered by a base-level tile at
// near-native resolution.  Regions that only partly overlap the mosaic's
// data extent come back padded with transparent no-data pixels, so the full
// covering grid at the base zoom is always populated.
func (g *generator) baseTile(ctx context.Context, addr tilegrid.Address) (*image.NRGBA, error) {
	bounds := tilegrid.TileBounds(g.opts.Profile, addr)
	return g.eng.ResampleRegion(ctx, g.mosaic.Path, bounds, g.opts.TileSize, g.opts.TileSize)
}

// derivedTile builds a tile by downsampling its four children at the next
// finer zoom.  A missing child contributes transparent pixels to its
// quadrant; if no child exists at all the tile is reported against
// ErrMissingChildren since its data went missing at a finer level.
func (g *generator) derivedTile(ctx context.Context, addr tilegrid.Address) (*image.NRGBA, error) {
	ts := g.opts.TileSize
	half := ts / 2
	out := image.NewNRGBA(image.Rect(0, 0, ts, ts))

	// Children quadrant offsets follow the parent/child relation:
	// (2x, 2y) top-left, (2x+1, 2y) top-right, (2x, 2y+1) bottom-left,
	// (2x+1, 2y+1) bottom-right.
	offsets := [4][2]int{{0, 0}, {half, 0}, {0, half}, {half, half}}

	var found int
	for i, child := range addr.Children() {
		if !g.opts.Profile.Valid(child) {
			continue
		}
		img, err := g.readTile(child)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("could not read child tile %s: %v", child, err)
		}
		found++
		downsampleQuadrant(out, offsets[i][0], offsets[i][1], half, img)
	}
	if found == 0 {
		return nil, ErrMissingChildren
	}
	return out, nil
}

// downsampleQuadrant box-filters src 2x into the quadrant of dst at
// (ox, oy) with the given half-size edge length.
func downsampleQuadrant(dst *image.NRGBA, ox, oy, half int, src *image.NRGBA) {
	srcW := src.Rect.Dx()
	srcH := src.Rect.Dy()
	for y := 0; y < half; y++ {
		sy := y * srcH / half
		sy2 := sy + 1
		if sy2 >= srcH {
			sy2 = srcH - 1
		}
		for x := 0; x < half; x++ {
			sx := x * srcW / half
			sx2 := sx + 1
			if sx2 >= srcW {
				sx2 = srcW - 1
			}
			var sum [4]uint32
			for _, p := range [4]int{
				src.PixOffset(sx, sy), src.PixOffset(sx2, sy),
				src.PixOffset(sx, sy2), src.PixOffset(sx2, sy2),
			} {
				sum[0] += uint32(src.Pix[p])
				sum[1] += uint32(src.Pix[p+1])
				sum[2] += uint32(src.Pix[p+2])
				sum[3] += uint32(src.Pix[p+3])
			}
			d := dst.PixOffset(ox+x, oy+y)
			dst.Pix[d] = uint8(sum[0] / 4)
			dst.Pix[d+1] = uint8(sum[1] / 4)
			dst.Pix[d+2] = uint8(sum[2] / 4)
			dst.Pix[d+3] = uint8(sum[3] / 4)
		}
	}
}

// TilePath returns the path of a tile under outDir, with the extension
// depending on whether payloads are gzipped.
func TilePath(outDir string, addr tilegrid.Address, gzipped bool) string {
	name := strconv.Itoa(addr.Y) + ".png"
	if gzipped {
		name += ".gz"
	}
	return filepath.Join(outDir, strconv.Itoa(addr.Z), strconv.Itoa(addr.X), name)
}

func (g *generator) writeTile(addr tilegrid.Address, img *image.NRGBA) error {
	path := TilePath(g.outDir, addr, g.opts.Gzip)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return writeTileFile(path, img, g.opts.Gzip)
}

func (g *generator) readTile(addr tilegrid.Address) (*image.NRGBA, error) {
	return readTileFile(TilePath(g.outDir, addr, g.opts.Gzip), g.opts.Gzip)
}
