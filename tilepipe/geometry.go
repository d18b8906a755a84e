package tilepipe

import "fmt"

// BBox is a geographic bounding box in degrees.  West/East are longitudes and
// South/North are latitudes in the raster's native body frame.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

func (b BBox) String() string {
	return fmt.Sprintf("[%f, %f, %f, %f]", b.West, b.South, b.East, b.North)
}

// IsZero returns true if this box has no extent.
func (b BBox) IsZero() bool {
	return b.West == 0 && b.South == 0 && b.East == 0 && b.North == 0
}

// Width returns the longitudinal span in degrees.
func (b BBox) Width() float64 {
	return b.East - b.West
}

// Height returns the latitudinal span in degrees.
func (b BBox) Height() float64 {
	return b.North - b.South
}

// Union returns the smallest box covering both boxes.
func (b BBox) Union(b2 BBox) BBox {
	if b.IsZero() {
		return b2
	}
	if b2.IsZero() {
		return b
	}
	u := b
	if b2.West < u.West {
		u.West = b2.West
	}
	if b2.South < u.South {
		u.South = b2.South
	}
	if b2.East > u.East {
		u.East = b2.East
	}
	if b2.North > u.North {
		u.North = b2.North
	}
	return u
}

// Intersects returns true if the two boxes share any area.
func (b BBox) Intersects(b2 BBox) bool {
	if b.East <= b2.West || b2.East <= b.West {
		return false
	}
	if b.North <= b2.South || b2.North <= b.South {
		return false
	}
	return true
}

// Intersection returns the overlapping area of two boxes or a zero box if
// they are disjoint.
func (b BBox) Intersection(b2 BBox) BBox {
	if !b.Intersects(b2) {
		return BBox{}
	}
	i := b
	if b2.West > i.West {
		i.West = b2.West
	}
	if b2.South > i.South {
		i.South = b2.South
	}
	if b2.East < i.East {
		i.East = b2.East
	}
	if b2.North < i.North {
		i.North = b2.North
	}
	return i
}

// Contains returns true if the given point lies within the box.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.West && lon < b.East && lat > b.South && lat <= b.North
}
