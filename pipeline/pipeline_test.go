package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/marsmapper/tilepipe/engine"
	"github.com/marsmapper/tilepipe/tilepipe"
)

func testConfig(t *testing.T) *tilepipe.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &tilepipe.Config{
		Paths: tilepipe.PathConfig{
			Source:    filepath.Join(root, "source"),
			Converted: filepath.Join(root, "converted"),
			Mosaic:    filepath.Join(root, "mosaic"),
			Tiles:     filepath.Join(root, "tiles"),
		},
		Run: tilepipe.RunConfig{
			Zoom:    "3-5",
			Profile: "geodetic",
			Workers: 2,
			Overlap: "last",
			Viewer:  true,
		},
	}
	if err := os.MkdirAll(cfg.Paths.Source, 0755); err != nil {
		t.Fatalf("Could not create source directory: %v\n", err)
	}
	return cfg
}

func stageSource(t *testing.T, cfg *tilepipe.Config, name string, bounds tilepipe.BBox, c color.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	path := filepath.Join(cfg.Paths.Source, name)
	if err := engine.WriteRaster(path, bounds, "Mars", img); err != nil {
		t.Fatalf("Could not stage source %q: %v\n", name, err)
	}
}

func stageThreeSources(t *testing.T, cfg *tilepipe.Config) {
	c := color.NRGBA{160, 80, 40, 255}
	stageSource(t, cfg, "a.rst", tilepipe.BBox{West: -40, South: 20, East: -30, North: 30}, c)
	stageSource(t, cfg, "b.rst", tilepipe.BBox{West: -30, South: 20, East: -20, North: 30}, c)
	stageSource(t, cfg, "c.rst", tilepipe.BBox{West: -40, South: 10, East: -30, North: 20}, c)
}

func TestRunSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.CelestialOverride = true
	stageThreeSources(t, cfg)

	result := New(engine.NewNative(), cfg).Run(context.Background())
	if !result.Success {
		t.Fatalf("Run failed: kind %s, err %v\n", result.Kind, result.Err)
	}
	if result.Sources != 3 || result.Converted != 3 {
		t.Errorf("Sources/Converted: got %d/%d, want 3/3\n", result.Sources, result.Converted)
	}
	want := tilepipe.BBox{West: -40, South: 10, East: -20, North: 30}
	if result.Mosaic.Footprint != want {
		t.Errorf("Mosaic footprint: got %s, want %s\n", result.Mosaic.Footprint, want)
	}
	if result.Tiles == 0 {
		t.Errorf("Expected tiles to be written\n")
	}
	if len(result.TileFailures) != 0 {
		t.Errorf("TileFailures: got %d, want 0\n", len(result.TileFailures))
	}
	if len(result.Stages) != 3 {
		t.Errorf("Stage timings: got %d, want 3\n", len(result.Stages))
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.Tiles, "leaflet.html")); err != nil {
		t.Errorf("Viewer page not written: %v\n", err)
	}
	for _, name := range []string{"a.rst", "b.rst", "c.rst"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.Converted, name)); err != nil {
			t.Errorf("Converted raster %q missing: %v\n", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.Mosaic, "mosaic.vrt")); err != nil {
		t.Errorf("Virtual mosaic missing: %v\n", err)
	}
}

func TestRunIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.CelestialOverride = true
	cfg.Run.Viewer = false
	stageThreeSources(t, cfg)

	p := New(engine.NewNative(), cfg)
	first := p.Run(context.Background())
	if !first.Success {
		t.Fatalf("First run failed: %v\n", first.Err)
	}
	firstTiles := tileDigest(t, cfg.Paths.Tiles)

	second := p.Run(context.Background())
	if !second.Success {
		t.Fatalf("Second run failed: %v\n", second.Err)
	}
	if second.Tiles != first.Tiles {
		t.Errorf("Tile count changed across runs: %d then %d\n", first.Tiles, second.Tiles)
	}
	secondTiles := tileDigest(t, cfg.Paths.Tiles)
	if len(firstTiles) != len(secondTiles) {
		t.Fatalf("Tile tree changed across runs: %d then %d files\n", len(firstTiles), len(secondTiles))
	}
	for path, data := range firstTiles {
		if string(secondTiles[path]) != string(data) {
			t.Errorf("Tile %q not byte-identical across runs\n", path)
		}
	}
}

// tileDigest reads every file in the tile tree keyed by relative path.
func tileDigest(t *testing.T, tilesDir string) map[string][]byte {
	t.Helper()
	files := make(map[string][]byte)
	err := filepath.WalkDir(tilesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(tilesDir, path)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	if err != nil {
		t.Fatalf("Could not walk tile tree: %v\n", err)
	}
	return files
}

func TestRunSetupFailure(t *testing.T) {
	cfg := testConfig(t)
	stageThreeSources(t, cfg)

	// A regular file where the tiles directory's parent should be makes the
	// output reset fail.
	blocker := filepath.Join(filepath.Dir(cfg.Paths.Tiles), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Could not stage blocker file: %v\n", err)
	}
	cfg.Paths.Tiles = filepath.Join(blocker, "tiles")

	result := New(engine.NewNative(), cfg).Run(context.Background())
	if result.Success {
		t.Fatalf("Run should fail when an output directory cannot be reset\n")
	}
	if result.Kind != KindSetup {
		t.Errorf("Kind: got %s, want %s\n", result.Kind, KindSetup)
	}
}

func TestRunNoInput(t *testing.T) {
	cfg := testConfig(t)
	result := New(engine.NewNative(), cfg).Run(context.Background())
	if result.Success {
		t.Fatalf("Run should fail with empty source directory\n")
	}
	if result.Kind != KindNoInput {
		t.Errorf("Kind: got %s, want %s\n", result.Kind, KindNoInput)
	}
	if !errors.Is(result.Err, ErrNoInput) {
		t.Errorf("Err: got %v, want ErrNoInput\n", result.Err)
	}
}

func TestRunPartialConversionAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.CelestialOverride = true
	stageThreeSources(t, cfg)
	if err := os.WriteFile(filepath.Join(cfg.Paths.Source, "broken.rst"), []byte("bad"), 0644); err != nil {
		t.Fatalf("Could not stage broken source: %v\n", err)
	}

	result := New(engine.NewNative(), cfg).Run(context.Background())
	if result.Success {
		t.Fatalf("Run should fail on partial conversion\n")
	}
	if result.Kind != KindPartialConversion {
		t.Errorf("Kind: got %s, want %s\n", result.Kind, KindPartialConversion)
	}
	var pce PartialConversionError
	if !errors.As(result.Err, &pce) {
		t.Fatalf("Err: got %T, want PartialConversionError\n", result.Err)
	}
	if pce.Converted != 3 || pce.Total != 4 {
		t.Errorf("PartialConversionError: got %d of %d, want 3 of 4\n", pce.Converted, pce.Total)
	}

	// The merge and tiling stages never ran.
	if _, err := os.Stat(filepath.Join(cfg.Paths.Mosaic, "mosaic.vrt")); !os.IsNotExist(err) {
		t.Errorf("No mosaic should exist after aborted run\n")
	}
	entries, err := os.ReadDir(cfg.Paths.Tiles)
	if err != nil {
		t.Fatalf("Could not read tiles directory: %v\n", err)
	}
	if len(entries) != 0 {
		t.Errorf("Tiles directory should be empty after aborted run, has %d entries\n", len(entries))
	}
}

func TestRunWithoutOverrideFails(t *testing.T) {
	cfg := testConfig(t)
	stageThreeSources(t, cfg)

	result := New(engine.NewNative(), cfg).Run(context.Background())
	if result.Success {
		t.Fatalf("Run should fail when cross-body transform lacks the override\n")
	}
	if result.Kind != KindTiling {
		t.Errorf("Kind: got %s, want %s\n", result.Kind, KindTiling)
	}
	if len(result.TileFailures) == 0 {
		t.Fatalf("Expected per-tile failures from the ellipsoid mismatch\n")
	}
	var mismatch engine.EllipsoidMismatchError
	if !errors.As(result.TileFailures[0].Err, &mismatch) {
		t.Errorf("First tile failure: got %v, want EllipsoidMismatchError\n", result.TileFailures[0].Err)
	}
}

func TestRunBadProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Profile = "polar"
	result := New(engine.NewNative(), cfg).Run(context.Background())
	if result.Success {
		t.Fatalf("Run should fail on unknown profile\n")
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.CelestialOverride = true
	stageThreeSources(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := New(engine.NewNative(), cfg).Run(ctx)
	if result.Success {
		t.Fatalf("Run should not succeed under a cancelled context\n")
	}
}
