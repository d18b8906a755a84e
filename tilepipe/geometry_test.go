package tilepipe

import "testing"

func TestBBoxUnion(t *testing.T) {
	a := BBox{West: -10, South: -5, East: 0, North: 5}
	b := BBox{West: -2, South: 0, East: 8, North: 12}
	u := a.Union(b)
	want := BBox{West: -10, South: -5, East: 8, North: 12}
	if u != want {
		t.Errorf("Union: got %s, want %s\n", u, want)
	}
	if a.Union(BBox{}) != a {
		t.Errorf("Union with zero box should be identity\n")
	}
	if (BBox{}).Union(a) != a {
		t.Errorf("Union of zero box should be identity\n")
	}
}

func TestBBoxIntersection(t *testing.T) {
	a := BBox{West: -10, South: -5, East: 0, North: 5}
	b := BBox{West: -2, South: 0, East: 8, North: 12}
	i := a.Intersection(b)
	want := BBox{West: -2, South: 0, East: 0, North: 5}
	if i != want {
		t.Errorf("Intersection: got %s, want %s\n", i, want)
	}

	c := BBox{West: 100, South: 50, East: 110, North: 60}
	if a.Intersects(c) {
		t.Errorf("Disjoint boxes should not intersect\n")
	}
	if !a.Intersection(c).IsZero() {
		t.Errorf("Intersection of disjoint boxes should be zero\n")
	}

	// Boxes sharing only an edge do not intersect.
	d := BBox{West: 0, South: -5, East: 10, North: 5}
	if a.Intersects(d) {
		t.Errorf("Edge-adjacent boxes should not intersect\n")
	}
}

func TestBBoxContains(t *testing.T) {
	b := BBox{West: -10, South: -5, East: 0, North: 5}
	if !b.Contains(-5, 0) {
		t.Errorf("Center point should be contained\n")
	}
	if b.Contains(1, 0) {
		t.Errorf("Point east of box should not be contained\n")
	}
}
