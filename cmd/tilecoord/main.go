// tilecoord is a small operator utility that converts a (zoom, x, y) tile
// address into latitude and longitude, useful for locating a freshly
// generated tile set on a globe.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/marsmapper/tilepipe/tilegrid"
)

var profileName = flag.String("profile", "geodetic", "tiling profile: 'geodetic' or 'mercator'")

func main() {
	flag.Parse()
	if flag.NArg() != 3 {
		fmt.Fprintf(os.Stderr, "usage: tilecoord [-profile=geodetic|mercator] <zoom> <x> <y>\n")
		os.Exit(1)
	}
	profile, err := tilegrid.ParseProfile(*profileName)
	if err != nil {
		fail(err)
	}
	z := atoi(flag.Arg(0))
	x := atoi(flag.Arg(1))
	y := atoi(flag.Arg(2))
	if err := report(os.Stdout, profile, z, x, y); err != nil {
		fail(err)
	}
}

// report prints the tile's corner and center coordinates plus a ready-made
// Leaflet setView line for centering a map on the tile.
func report(w io.Writer, profile tilegrid.Profile, z, x, y int) error {
	if !profile.Valid(tilegrid.Address{Z: z, X: x, Y: y}) {
		return fmt.Errorf("tile %d/%d/%d is outside the %s grid", z, x, y, profile)
	}
	cornerLat, cornerLon := tilegrid.TileToLatLon(profile, z, float64(x), float64(y))
	centerLat, centerLon := tilegrid.TileToLatLon(profile, z, float64(x)+0.5, float64(y)+0.5)

	fmt.Fprintf(w, "Tile %d/%d/%d (%s profile)\n", z, x, y, profile)
	fmt.Fprintf(w, "Top-left:  lat %.6f, lon %.6f\n", cornerLat, cornerLon)
	fmt.Fprintf(w, "Center:    lat %.6f, lon %.6f\n", centerLat, centerLon)
	fmt.Fprintf(w, "\nTo center a Leaflet map on this tile:\n")
	fmt.Fprintf(w, "const map = L.map('map').setView([%.6f, %.6f], %d);\n", centerLat, centerLon, z+2)
	return nil
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		fail(fmt.Errorf("bad integer %q: %v", s, err))
	}
	return v
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
