package pyramid

import (
	"bytes"
	"image"
	"image/draw"
	"image/png"
	"os"

	"github.com/klauspost/compress/gzip"
)

// writeTileFile encodes a tile as PNG, optionally gzip-compressing the
// payload.  Output bytes are deterministic for identical pixel content so
// repeated runs produce byte-identical tile trees.
func writeTileFile(path string, img *image.NRGBA, gzipped bool) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	data := buf.Bytes()
	if gzipped {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		data = zbuf.Bytes()
	}
	return os.WriteFile(path, data, 0644)
}

// readTileFile decodes a tile written by writeTileFile.
func readTileFile(path string, gzipped bool) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img image.Image
	if gzipped {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		img, err = png.Decode(zr)
		if err != nil {
			return nil, err
		}
	} else {
		img, err = png.Decode(f)
		if err != nil {
			return nil, err
		}
	}
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba, nil
	}
	nrgba := image.NewNRGBA(img.Bounds())
	draw.Draw(nrgba, nrgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return nrgba, nil
}
