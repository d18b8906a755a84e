package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marsmapper/tilepipe/tilepipe"
)

// projOverrideEnv tells the underlying PROJ library to allow coordinate
// transformations between different celestial bodies, e.g. Mars to an
// Earth-based web map projection.  It must be in the environment of every
// GDAL subprocess that transforms coordinates.
const projOverrideEnv = "PROJ_IGNORE_CELESTIAL_BODY=YES"

// GDAL is a raster engine that shells out to the GDAL command line tools
// (gdal_translate, gdalbuildvrt, gdalinfo).  Each operation is one
// subprocess, so the engine itself carries no state beyond the override
// environment and is safe for concurrent calls.
type GDAL struct {
	translate string
	buildvrt  string
	info      string
	env       []string
}

// NewGDAL returns a GDAL engine using tools found on PATH.
func NewGDAL() *GDAL {
	return &GDAL{
		translate: "gdal_translate",
		buildvrt:  "gdalbuildvrt",
		info:      "gdalinfo",
		env:       os.Environ(),
	}
}

// SetCelestialBodyOverride implements the Engine interface.  The override is
// passed to every subsequent GDAL subprocess.
func (e *GDAL) SetCelestialBodyOverride(enabled bool) {
	env := make([]string, 0, len(e.env)+1)
	for _, kv := range e.env {
		if strings.HasPrefix(kv, "PROJ_IGNORE_CELESTIAL_BODY=") {
			continue
		}
		env = append(env, kv)
	}
	if enabled {
		env = append(env, projOverrideEnv)
	}
	e.env = env
}

func (e *GDAL) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = e.env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "celestial body") {
			return nil, EllipsoidMismatchError{SourceBody: "source raster", TargetBody: "tile grid"}
		}
		return nil, fmt.Errorf("%s %s: %v: %s", name, strings.Join(args, " "), err, msg)
	}
	return stdout.Bytes(), nil
}

// creationArgs translates EncodingOptions into GTiff creation options.
func creationArgs(opts EncodingOptions) []string {
	var args []string
	if opts.Tiled {
		args = append(args, "-co", "TILED=YES")
	}
	if opts.Compression != "" {
		args = append(args, "-co", "COMPRESS="+opts.Compression)
	}
	if opts.MultiThreaded {
		args = append(args, "-co", "NUM_THREADS=ALL_CPUS")
	}
	if opts.BigFile {
		args = append(args, "-co", "BIGTIFF=YES")
	}
	return args
}

// gdalinfoJSON is the subset of `gdalinfo -json` output the pipeline needs.
type gdalinfoJSON struct {
	Size              []int `json:"size"`
	CornerCoordinates struct {
		UpperLeft  []float64 `json:"upperLeft"`
		LowerRight []float64 `json:"lowerRight"`
	} `json:"cornerCoordinates"`
}

func (e *GDAL) rasterInfo(ctx context.Context, path string) (RasterInfo, error) {
	out, err := e.run(ctx, e.info, "-json", path)
	if err != nil {
		return RasterInfo{}, err
	}
	var parsed gdalinfoJSON
	if err := json.Unmarshal(out, &parsed); err != nil {
		return RasterInfo{}, fmt.Errorf("could not parse gdalinfo output for %q: %v", path, err)
	}
	info := RasterInfo{Path: path}
	if len(parsed.Size) == 2 {
		info.Width, info.Height = parsed.Size[0], parsed.Size[1]
	}
	ul := parsed.CornerCoordinates.UpperLeft
	lr := parsed.CornerCoordinates.LowerRight
	if len(ul) >= 2 && len(lr) >= 2 {
		info.Footprint = tilepipe.BBox{West: ul[0], South: lr[1], East: lr[0], North: ul[1]}
	}
	return info, nil
}

// --- Engine interface ---

func (e *GDAL) Convert(ctx context.Context, sourcePath, destPath string, opts EncodingOptions) (RasterInfo, error) {
	args := append([]string{"-of", "GTiff"}, creationArgs(opts)...)
	args = append(args, sourcePath, destPath)
	if _, err := e.run(ctx, e.translate, args...); err != nil {
		return RasterInfo{}, err
	}
	return e.rasterInfo(ctx, destPath)
}

func (e *GDAL) BuildVirtualMosaic(ctx context.Context, rasterPaths []string, destPath string) (*VirtualMosaic, error) {
	if len(rasterPaths) == 0 {
		return nil, fmt.Errorf("cannot build virtual mosaic from zero rasters")
	}
	args := append([]string{destPath}, rasterPaths...)
	if _, err := e.run(ctx, e.buildvrt, args...); err != nil {
		return nil, err
	}
	vm := &VirtualMosaic{Path: destPath}
	for _, path := range rasterPaths {
		info, err := e.rasterInfo(ctx, path)
		if err != nil {
			return nil, err
		}
		vm.Inputs = append(vm.Inputs, info)
		vm.Footprint = vm.Footprint.Union(info.Footprint)
	}
	return vm, nil
}

func (e *GDAL) Materialize(ctx context.Context, vm *VirtualMosaic, destPath string, opts EncodingOptions) (RasterInfo, error) {
	args := append([]string{"-of", "GTiff"}, creationArgs(opts)...)
	args = append(args, vm.Path, destPath)
	if _, err := e.run(ctx, e.translate, args...); err != nil {
		return RasterInfo{}, err
	}
	return e.rasterInfo(ctx, destPath)
}

func (e *GDAL) ResampleRegion(ctx context.Context, rasterPath string, region tilepipe.BBox, outW, outH int) (*image.NRGBA, error) {
	tmp, err := os.CreateTemp("", "tilepipe-region-*.png")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)
	defer os.Remove(tmpPath + ".aux.xml") // gdal_translate side file

	args := []string{
		"-of", "PNG",
		"-projwin",
		formatCoord(region.West), formatCoord(region.North),
		formatCoord(region.East), formatCoord(region.South),
		"-outsize", strconv.Itoa(outW), strconv.Itoa(outH),
		rasterPath, tmpPath,
	}
	if _, err := e.run(ctx, e.translate, args...); err != nil {
		return nil, err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode resampled region %q: %v", filepath.Base(tmpPath), err)
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	nrgba := image.NewNRGBA(img.Bounds())
	draw.Draw(nrgba, nrgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return nrgba, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
