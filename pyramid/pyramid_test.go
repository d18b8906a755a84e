package pyramid

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marsmapper/tilepipe/engine"
	"github.com/marsmapper/tilepipe/tilegrid"
	"github.com/marsmapper/tilepipe/tilepipe"
)

func stageMosaic(t *testing.T, dir string, bounds tilepipe.BBox) engine.RasterInfo {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 180
		img.Pix[i+1] = 90
		img.Pix[i+3] = 255
	}
	path := filepath.Join(dir, "mosaic.rst")
	if err := engine.WriteRaster(path, bounds, "", img); err != nil {
		t.Fatalf("Could not write mosaic: %v\n", err)
	}
	return engine.RasterInfo{Path: path, Width: 128, Height: 128, Footprint: bounds}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "tiles")
	bounds := tilepipe.BBox{West: -40, South: 20, East: -30, North: 30}
	mosaic := stageMosaic(t, dir, bounds)

	opts := Options{
		Profile: tilegrid.Geodetic,
		ZMin:    3,
		ZMax:    5,
		Workers: 4,
	}
	result, err := Generate(context.Background(), engine.NewNative(), mosaic, outDir, opts)
	if err != nil {
		t.Fatalf("Generate: %v\n", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("Failures: got %d, want 0: %v\n", len(result.Failures), result.Failures)
	}

	// Every tile whose region intersects the footprint must exist, at every
	// level, and nothing outside the covering ranges may exist.
	var want int
	for z := opts.ZMin; z <= opts.ZMax; z++ {
		x0, y0, x1, y1 := tilegrid.CoveringRange(opts.Profile, z, bounds)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				want++
				path := TilePath(outDir, tilegrid.Address{Z: z, X: x, Y: y}, false)
				if _, err := os.Stat(path); err != nil {
					t.Errorf("Missing tile %d/%d/%d: %v\n", z, x, y, err)
				}
			}
		}
	}
	if result.Tiles != want {
		t.Errorf("Tiles: got %d, want %d\n", result.Tiles, want)
	}

	written := countTiles(t, outDir)
	if written != want {
		t.Errorf("Tile files on disk: got %d, want %d\n", written, want)
	}
}

func countTiles(t *testing.T, outDir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".png") {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Could not walk tile tree: %v\n", err)
	}
	return n
}

func TestGenerateFootprintOutsideGrid(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "tiles")
	// 0-360 style longitudes put this footprint entirely east of the
	// mercator grid.
	mosaic := stageMosaic(t, dir, tilepipe.BBox{West: 250, South: 10, East: 260, North: 20})

	opts := Options{Profile: tilegrid.Mercator, ZMin: 3, ZMax: 3, Workers: 2}
	_, err := Generate(context.Background(), engine.NewNative(), mosaic, outDir, opts)
	if err == nil {
		t.Fatalf("Expected error for footprint outside the mercator grid\n")
	}
	if !strings.Contains(err.Error(), "does not intersect") {
		t.Errorf("Error should report the grid miss, got %v\n", err)
	}
}

func TestGenerateGzip(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "tiles")
	bounds := tilepipe.BBox{West: 0, South: 0, East: 10, North: 10}
	mosaic := stageMosaic(t, dir, bounds)

	opts := Options{Profile: tilegrid.Geodetic, ZMin: 4, ZMax: 4, Workers: 2, Gzip: true}
	result, err := Generate(context.Background(), engine.NewNative(), mosaic, outDir, opts)
	if err != nil {
		t.Fatalf("Generate: %v\n", err)
	}
	if result.Tiles == 0 {
		t.Fatalf("Expected tiles to be written\n")
	}

	x0, y0, _, _ := tilegrid.CoveringRange(opts.Profile, 4, bounds)
	addr := tilegrid.Address{Z: 4, X: x0, Y: y0}
	path := TilePath(outDir, addr, true)
	if !strings.HasSuffix(path, ".png.gz") {
		t.Errorf("Gzipped tile path: got %q\n", path)
	}
	img, err := readTileFile(path, true)
	if err != nil {
		t.Fatalf("Could not read gzipped tile back: %v\n", err)
	}
	if img.Rect.Dx() != tilepipe.DefaultTileSize {
		t.Errorf("Tile edge: got %d, want %d\n", img.Rect.Dx(), tilepipe.DefaultTileSize)
	}
}

func TestDerivedTileMissingChild(t *testing.T) {
	outDir := t.TempDir()
	g := &generator{
		outDir: outDir,
		opts:   Options{Profile: tilegrid.Geodetic, TileSize: 8},
	}

	parent := tilegrid.Address{Z: 4, X: 10, Y: 5}
	children := parent.Children()

	// Only the top-left child exists; solid opaque red.
	child := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(child.Pix); i += 4 {
		child.Pix[i] = 255
		child.Pix[i+3] = 255
	}
	if err := g.writeTile(children[0], child); err != nil {
		t.Fatalf("Could not write child tile: %v\n", err)
	}

	img, err := g.derivedTile(context.Background(), parent)
	if err != nil {
		t.Fatalf("derivedTile: %v\n", err)
	}
	if got := img.NRGBAAt(2, 2); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("Populated quadrant: got %v, want opaque red\n", got)
	}
	// The other three quadrants hold transparent no-data.
	for _, p := range [][2]int{{6, 2}, {2, 6}, {6, 6}} {
		if got := img.NRGBAAt(p[0], p[1]); got.A != 0 {
			t.Errorf("Quadrant pixel (%d, %d) should be transparent, got %v\n", p[0], p[1], got)
		}
	}
}

func TestDerivedTileNoChildren(t *testing.T) {
	g := &generator{
		outDir: t.TempDir(),
		opts:   Options{Profile: tilegrid.Geodetic, TileSize: 8},
	}
	_, err := g.derivedTile(context.Background(), tilegrid.Address{Z: 4, X: 3, Y: 3})
	if err != ErrMissingChildren {
		t.Errorf("Expected ErrMissingChildren, got %v\n", err)
	}
}

func TestDownsampleQuadrant(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i+1] = 200
		src.Pix[i+3] = 255
	}
	dst := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	downsampleQuadrant(dst, 4, 4, 4, src)

	if got := dst.NRGBAAt(6, 6); got != (color.NRGBA{0, 200, 0, 255}) {
		t.Errorf("Downsampled pixel: got %v, want uniform green\n", got)
	}
	if got := dst.NRGBAAt(1, 1); got.A != 0 {
		t.Errorf("Untouched quadrant should stay transparent, got %v\n", got)
	}
}

func TestTilePath(t *testing.T) {
	addr := tilegrid.Address{Z: 12, X: 2077, Y: 1855}
	got := TilePath("/out", addr, false)
	want := filepath.Join("/out", "12", "2077", "1855.png")
	if got != want {
		t.Errorf("TilePath: got %q, want %q\n", got, want)
	}
	if got := TilePath("/out", addr, true); got != want+".gz" {
		t.Errorf("TilePath gzip: got %q, want %q\n", got, want+".gz")
	}
}

func TestWriteViewer(t *testing.T) {
	dir := t.TempDir()
	if err := WriteViewer(dir, tilegrid.Geodetic, 10, 18, 12.5, -47.25, false); err != nil {
		t.Fatalf("WriteViewer: %v\n", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ViewerName))
	if err != nil {
		t.Fatalf("Could not read viewer page: %v\n", err)
	}
	page := string(data)
	for _, want := range []string{"L.CRS.EPSG4326", "setView([12.500000, -47.250000], 10)", "maxZoom: 18", "'{z}/{x}/{y}.png'"} {
		if !strings.Contains(page, want) {
			t.Errorf("Viewer page missing %q\n", want)
		}
	}
}

func TestWriteViewerGzip(t *testing.T) {
	dir := t.TempDir()
	if err := WriteViewer(dir, tilegrid.Mercator, 2, 6, 0, 0, true); err != nil {
		t.Fatalf("WriteViewer: %v\n", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ViewerName))
	if err != nil {
		t.Fatalf("Could not read viewer page: %v\n", err)
	}
	page := string(data)
	if !strings.Contains(page, "'{z}/{x}/{y}.png.gz'") {
		t.Errorf("Viewer page should reference gzipped tile paths\n")
	}
	if !strings.Contains(page, "L.CRS.EPSG3857") {
		t.Errorf("Viewer page should use the mercator CRS\n")
	}
}
