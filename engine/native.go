package engine

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"strings"

	"github.com/marsmapper/tilepipe/tilepipe"
)

// RasterExt is the file extension of the native intermediate raster format.
const RasterExt = ".rst"

// nativeTargetBody is the celestial body the tile grid assumes, matching the
// assumption of web-mapping libraries.
const nativeTargetBody = "Earth"

// nativeRaster is the on-disk content of a native format raster: a gob
// header plus NRGBA pixels, snappy-compressed with a CRC32 checksum.  Alpha
// zero marks no-data pixels.
type nativeRaster struct {
	Width  int
	Height int
	Bounds tilepipe.BBox
	Body   string
	Tiled  bool
	Pix    []byte
}

// Native is a pure Go raster engine over the native raster format.  It
// implements the same contract as the GDAL engine with deterministic
// nearest-neighbor resampling and last-writer-wins merging, which makes it
// suitable for tests and small runs without a GDAL install.
type Native struct {
	override bool // set once before any transform, constant afterwards
}

func NewNative() *Native {
	return &Native{}
}

// SetCelestialBodyOverride implements the Engine interface.
func (e *Native) SetCelestialBodyOverride(enabled bool) {
	e.override = enabled
}

// WriteRaster writes a native format raster.  The image is interpreted as
// covering the given bounds with the given celestial body frame.
func WriteRaster(path string, bounds tilepipe.BBox, body string, img *image.NRGBA) error {
	r := img.Bounds()
	raster := nativeRaster{
		Width:  r.Dx(),
		Height: r.Dy(),
		Bounds: bounds,
		Body:   body,
		Pix:    img.Pix,
	}
	return writeNative(path, &raster)
}

func writeNative(path string, raster *nativeRaster) error {
	data, err := tilepipe.Serialize(raster, tilepipe.Snappy, tilepipe.CRC32)
	if err != nil {
		return fmt.Errorf("could not serialize raster for %q: %v", path, err)
	}
	return os.WriteFile(path, data, 0644)
}

func readNative(path string) (*nativeRaster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raster nativeRaster
	if err := tilepipe.Deserialize(data, &raster); err != nil {
		return nil, fmt.Errorf("could not deserialize raster %q: %v", path, err)
	}
	if len(raster.Pix) != raster.Width*raster.Height*4 {
		return nil, fmt.Errorf("corrupt raster %q: %d x %d with %d pixel bytes",
			path, raster.Width, raster.Height, len(raster.Pix))
	}
	return &raster, nil
}

func (raster *nativeRaster) info(path string) RasterInfo {
	return RasterInfo{
		Path:      path,
		Width:     raster.Width,
		Height:    raster.Height,
		Footprint: raster.Bounds,
		Body:      raster.Body,
	}
}

func (raster *nativeRaster) image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    raster.Pix,
		Stride: raster.Width * 4,
		Rect:   image.Rect(0, 0, raster.Width, raster.Height),
	}
}

// --- Engine interface ---

func (e *Native) Convert(ctx context.Context, sourcePath, destPath string, opts EncodingOptions) (RasterInfo, error) {
	if err := ctx.Err(); err != nil {
		return RasterInfo{}, err
	}
	raster, err := readNative(sourcePath)
	if err != nil {
		return RasterInfo{}, fmt.Errorf("could not decode source raster %q: %v", sourcePath, err)
	}
	raster.Tiled = opts.Tiled
	if err := writeNative(destPath, raster); err != nil {
		return RasterInfo{}, err
	}
	return raster.info(destPath), nil
}

func (e *Native) BuildVirtualMosaic(ctx context.Context, rasterPaths []string, destPath string) (*VirtualMosaic, error) {
	if len(rasterPaths) == 0 {
		return nil, fmt.Errorf("cannot build virtual mosaic from zero rasters")
	}
	vm := &VirtualMosaic{Path: destPath}
	for _, path := range rasterPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raster, err := readNative(path)
		if err != nil {
			return nil, fmt.Errorf("could not read raster %q for virtual mosaic: %v", path, err)
		}
		info := raster.info(path)
		vm.Inputs = append(vm.Inputs, info)
		vm.Footprint = vm.Footprint.Union(info.Footprint)
	}
	data, err := tilepipe.Serialize(vm, tilepipe.Snappy, tilepipe.CRC32)
	if err != nil {
		return nil, fmt.Errorf("could not serialize virtual mosaic: %v", err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return nil, err
	}
	return vm, nil
}

// ReadVirtualMosaic loads a virtual mosaic descriptor written by the native
// engine.
func ReadVirtualMosaic(path string) (*VirtualMosaic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vm VirtualMosaic
	if err := tilepipe.Deserialize(data, &vm); err != nil {
		return nil, fmt.Errorf("could not deserialize virtual mosaic %q: %v", path, err)
	}
	return &vm, nil
}

func (e *Native) Materialize(ctx context.Context, vm *VirtualMosaic, destPath string, opts EncodingOptions) (RasterInfo, error) {
	if len(vm.Inputs) == 0 {
		return RasterInfo{}, fmt.Errorf("virtual mosaic %q references no rasters", vm.Path)
	}

	// Output resolution follows the finest input on each axis.
	dx, dy := math.MaxFloat64, math.MaxFloat64
	body := ""
	for _, in := range vm.Inputs {
		if in.Width > 0 {
			if d := in.Footprint.Width() / float64(in.Width); d < dx {
				dx = d
			}
		}
		if in.Height > 0 {
			if d := in.Footprint.Height() / float64(in.Height); d < dy {
				dy = d
			}
		}
		if body == "" {
			body = in.Body
		}
	}
	union := vm.Footprint
	w := int(math.Round(union.Width() / dx))
	h := int(math.Round(union.Height() / dy))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for _, in := range vm.Inputs {
		if err := ctx.Err(); err != nil {
			return RasterInfo{}, err
		}
		raster, err := readNative(in.Path)
		if err != nil {
			return RasterInfo{}, fmt.Errorf("could not read raster %q during materialization: %v", in.Path, err)
		}
		paintRaster(out, union, dx, dy, raster)
	}

	merged := nativeRaster{
		Width:  w,
		Height: h,
		Bounds: union,
		Body:   body,
		Tiled:  opts.Tiled,
		Pix:    out.Pix,
	}
	if err := writeNative(destPath, &merged); err != nil {
		return RasterInfo{}, err
	}
	return merged.info(destPath), nil
}

// paintRaster samples src into the destination canvas using nearest-neighbor
// lookup.  Fully transparent source pixels are skipped so later inputs only
// overwrite where they have data.
func paintRaster(dst *image.NRGBA, union tilepipe.BBox, dx, dy float64, src *nativeRaster) {
	srcDx := src.Bounds.Width() / float64(src.Width)
	srcDy := src.Bounds.Height() / float64(src.Height)

	i0 := int(math.Floor((src.Bounds.West - union.West) / dx))
	i1 := int(math.Ceil((src.Bounds.East - union.West) / dx))
	j0 := int(math.Floor((union.North - src.Bounds.North) / dy))
	j1 := int(math.Ceil((union.North - src.Bounds.South) / dy))
	if i0 < 0 {
		i0 = 0
	}
	if j0 < 0 {
		j0 = 0
	}
	if i1 > dst.Rect.Dx() {
		i1 = dst.Rect.Dx()
	}
	if j1 > dst.Rect.Dy() {
		j1 = dst.Rect.Dy()
	}

	for j := j0; j < j1; j++ {
		lat := union.North - (float64(j)+0.5)*dy
		sj := int(math.Floor((src.Bounds.North - lat) / srcDy))
		if sj < 0 || sj >= src.Height {
			continue
		}
		for i := i0; i < i1; i++ {
			lon := union.West + (float64(i)+0.5)*dx
			si := int(math.Floor((lon - src.Bounds.West) / srcDx))
			if si < 0 || si >= src.Width {
				continue
			}
			s := (sj*src.Width + si) * 4
			if src.Pix[s+3] == 0 {
				continue
			}
			d := dst.PixOffset(i, j)
			copy(dst.Pix[d:d+4], src.Pix[s:s+4])
		}
	}
}

func (e *Native) ResampleRegion(ctx context.Context, rasterPath string, region tilepipe.BBox, outW, outH int) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raster, err := readNative(rasterPath)
	if err != nil {
		return nil, fmt.Errorf("could not read raster %q for resampling: %v", rasterPath, err)
	}

	// Resampling into the tile grid is a coordinate transform into the tile
	// grid's assumed body frame, so a cross-body raster needs the override.
	if raster.Body != "" && !strings.EqualFold(raster.Body, nativeTargetBody) && !e.override {
		return nil, EllipsoidMismatchError{SourceBody: raster.Body, TargetBody: nativeTargetBody}
	}

	srcDx := raster.Bounds.Width() / float64(raster.Width)
	srcDy := raster.Bounds.Height() / float64(raster.Height)
	dx := region.Width() / float64(outW)
	dy := region.Height() / float64(outH)

	out := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	for j := 0; j < outH; j++ {
		lat := region.North - (float64(j)+0.5)*dy
		sj := int(math.Floor((raster.Bounds.North - lat) / srcDy))
		if sj < 0 || sj >= raster.Height {
			continue // no-data padding
		}
		for i := 0; i < outW; i++ {
			lon := region.West + (float64(i)+0.5)*dx
			si := int(math.Floor((lon - raster.Bounds.West) / srcDx))
			if si < 0 || si >= raster.Width {
				continue
			}
			s := (sj*raster.Width + si) * 4
			d := out.PixOffset(i, j)
			copy(out.Pix[d:d+4], raster.Pix[s:s+4])
		}
	}
	return out, nil
}
