/*
	Package tilegrid implements tile addressing for the supported tiling
	profiles: conversion between (zoom, x, y) tile addresses and geographic
	coordinates, tile grid shapes, and tile bounding boxes.  All functions are
	pure and safe for concurrent use.
*/
package tilegrid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/marsmapper/tilepipe/tilepipe"
)

// Profile selects the convention mapping the latitude-longitude grid onto
// tile rows and columns.
type Profile uint8

const (
	// Geodetic is a plate-carrée style grid, 2 tiles wide at zoom 0, with
	// no latitude restriction.
	Geodetic Profile = iota

	// Mercator is the spherical-mercator grid, 1 square tile at zoom 0,
	// valid only within +/- MaxMercatorLat.
	Mercator
)

// MaxMercatorLat is the maximum latitude representable in the
// spherical-mercator projection.
const MaxMercatorLat = 85.05112878

func (p Profile) String() string {
	switch p {
	case Geodetic:
		return "geodetic"
	case Mercator:
		return "mercator"
	default:
		return fmt.Sprintf("profile %d", p)
	}
}

// ParseProfile converts a profile name into a Profile.
func ParseProfile(s string) (Profile, error) {
	switch s {
	case "geodetic":
		return Geodetic, nil
	case "mercator":
		return Mercator, nil
	default:
		return 0, fmt.Errorf("unknown tiling profile %q: must be 'geodetic' or 'mercator'", s)
	}
}

// Address identifies one tile within a profile's grid at a zoom level.
type Address struct {
	Z, X, Y int
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

// Children returns the four tiles at the next finer zoom whose quadrants
// compose this tile.
func (a Address) Children() [4]Address {
	return [4]Address{
		{a.Z + 1, 2 * a.X, 2 * a.Y},
		{a.Z + 1, 2*a.X + 1, 2 * a.Y},
		{a.Z + 1, 2 * a.X, 2*a.Y + 1},
		{a.Z + 1, 2*a.X + 1, 2*a.Y + 1},
	}
}

// Parent returns the tile at the next coarser zoom containing this tile.
func (a Address) Parent() Address {
	return Address{a.Z - 1, a.X / 2, a.Y / 2}
}

// GridSize returns the number of tile columns and rows at the given zoom.
func (p Profile) GridSize(z int) (nx, ny int) {
	ny = 1 << uint(z)
	switch p {
	case Geodetic:
		nx = 2 * ny
	default:
		nx = ny
	}
	return
}

// Valid returns true if the address lies within the profile's grid.
func (p Profile) Valid(a Address) bool {
	if a.Z < 0 {
		return false
	}
	nx, ny := p.GridSize(a.Z)
	return a.X >= 0 && a.X < nx && a.Y >= 0 && a.Y < ny
}

// TileToLatLon converts tile coordinates to the latitude and longitude of
// the tile's top-left corner.  Callers wanting a tile's center must pass
// x+0.5 and y+0.5.
func TileToLatLon(p Profile, z int, x, y float64) (lat, lon float64) {
	switch p {
	case Mercator:
		// Same forward math as the slippy grid but results are only
		// meaningful within the mercator latitude range.
		lat, lon = slippyLatLon(z, x, y)
		if lat > MaxMercatorLat {
			lat = MaxMercatorLat
		} else if lat < -MaxMercatorLat {
			lat = -MaxMercatorLat
		}
	default:
		lat, lon = slippyLatLon(z, x, y)
	}
	return
}

// slippyLatLon is the inverse of the standard slippy-tile forward projection
// restricted to the tile's top-left corner, using n = 2^z.
func slippyLatLon(z int, x, y float64) (lat, lon float64) {
	n := math.Exp2(float64(z))
	lon = x/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	lat = latRad * 180.0 / math.Pi
	return
}

// LatLonToTile converts a geographic coordinate to the tile containing it at
// the given zoom.  It is the exact algebraic inverse of TileToLatLon.
func LatLonToTile(p Profile, lat, lon float64, z int) (x, y int) {
	switch p {
	case Mercator:
		if lat > MaxMercatorLat {
			lat = MaxMercatorLat
		} else if lat < -MaxMercatorLat {
			lat = -MaxMercatorLat
		}
		// maptile.At truncates through uint32, which wraps for coordinates
		// outside the grid; floor the fraction ourselves so out-of-grid
		// longitudes yield out-of-range (possibly negative) columns.  The
		// clamped latitude always maps into the grid, so the row is bounded
		// even when the fraction rounds past a grid edge.
		f := maptile.Fraction(orb.Point{lon, lat}, maptile.Zoom(z))
		x = int(math.Floor(f[0]))
		y = int(math.Floor(f[1]))
		if n := 1 << uint(z); y < 0 {
			y = 0
		} else if y >= n {
			y = n - 1
		}
		return x, y
	default:
		n := math.Exp2(float64(z))
		x = int(math.Floor((lon + 180.0) / 360.0 * n))
		latRad := lat * math.Pi / 180.0
		y = int(math.Floor((1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * n))
		return
	}
}

// TileBounds returns the geographic bounding box covered by a tile.
func TileBounds(p Profile, a Address) tilepipe.BBox {
	switch p {
	case Mercator:
		b := maptile.New(uint32(a.X), uint32(a.Y), maptile.Zoom(a.Z)).Bound()
		return tilepipe.BBox{West: b.Min[0], South: b.Min[1], East: b.Max[0], North: b.Max[1]}
	default:
		north, west := slippyLatLon(a.Z, float64(a.X), float64(a.Y))
		south, east := slippyLatLon(a.Z, float64(a.X+1), float64(a.Y+1))
		return tilepipe.BBox{West: west, South: south, East: east, North: north}
	}
}

// CoveringRange returns the inclusive range of tile columns and rows at the
// given zoom whose covered regions intersect the bounding box, clamped to
// the profile's grid.  A box lying entirely outside the grid yields an empty
// range, reported as x1 < x0 or y1 < y0; callers must check before iterating.
func CoveringRange(p Profile, z int, box tilepipe.BBox) (x0, y0, x1, y1 int) {
	x0, y0 = LatLonToTile(p, box.North, box.West, z)
	x1, y1 = LatLonToTile(p, box.South, box.East, z)

	nx, ny := p.GridSize(z)
	if x1 >= nx {
		x1 = nx - 1
	}
	if y1 >= ny {
		y1 = ny - 1
	}

	// A box edge exactly on a tile boundary should not pull in the next
	// empty column or row.
	if p.Valid(Address{z, x1, y1}) {
		if b := TileBounds(p, Address{z, x1, y1}); x1 > x0 && b.West >= box.East {
			x1--
		}
		if b := TileBounds(p, Address{z, x1, y1}); y1 > y0 && b.North <= box.South {
			y1--
		}
	}

	// x0/y0 are deliberately not clamped from above: a box entirely east or
	// south of the grid keeps x0 > x1 (or y0 > y1) as its empty marker.
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	return
}
