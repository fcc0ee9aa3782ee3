package mesh

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// GeometryType represents the GeoJSON geometry type
type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryMultiPoint GeometryType = "MultiPoint"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
)

// Geometry represents a GeoJSON geometry object
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature with geometry and properties
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection represents a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection creates a new empty FeatureCollection
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

// AddFeature appends a feature to the collection
func (fc *FeatureCollection) AddFeature(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// NewFeature creates a Feature with the given geometry and properties
func NewFeature(geom *Geometry, props map[string]interface{}) *Feature {
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: props,
	}
}

// FootprintOptions controls SceneToFeatureCollection
type FootprintOptions struct {
	Plane         Plane
	Tolerance     float64 // Douglas-Peucker tolerance for boundary loops, in scene units; 0 keeps every vertex
	IncludePoints bool    // also emit the registered points as a MultiPoint
}

// SceneToFeatureCollection projects a registration onto a plane and describes
// it as GeoJSON: the convex hulls of the destination and registered source,
// the destination boundary loops, and optionally the registered points.
// Coordinates are scene units, not longitude/latitude.
func SceneToFeatureCollection(scene *Scene, opts FootprintOptions) *FeatureCollection {
	fc := NewFeatureCollection()
	if scene == nil {
		return fc
	}

	dstHull := hullPolygon(projectPoints(scene.Destination, opts.Plane))
	regHull := hullPolygon(projectPoints(scene.Registered, opts.Plane))

	if dstHull != nil {
		fc.AddFeature(NewFeature(polygonToGeometry(dstHull), map[string]interface{}{
			"layer": "destination-hull",
			"area":  planar.Area(dstHull),
		}))
	}
	if regHull != nil {
		props := map[string]interface{}{
			"layer": "registered-hull",
			"area":  planar.Area(regHull),
		}
		if dstHull != nil {
			dc, _ := planar.CentroidArea(dstHull)
			rc, _ := planar.CentroidArea(regHull)
			props["centroidOffset"] = planar.Distance(dc, rc)
		}
		fc.AddFeature(NewFeature(polygonToGeometry(regHull), props))
	}

	for i, loop := range scene.Boundary {
		ring := closeRing(projectPoints(loop, opts.Plane))
		if len(ring) < 4 {
			continue
		}
		simplified := SimplifyRing(ring, opts.Tolerance)
		poly := orb.Polygon{simplified}
		fc.AddFeature(NewFeature(polygonToGeometry(poly), map[string]interface{}{
			"layer":    "boundary",
			"loop":     i,
			"vertices": len(loop),
			"area":     planar.Area(poly),
			"length":   planar.Length(simplified),
		}))
	}

	if opts.IncludePoints && len(scene.Registered) > 0 {
		fc.AddFeature(NewFeature(multiPointToGeometry(projectPoints(scene.Registered, opts.Plane)),
			map[string]interface{}{"layer": "registered-points"}))
	}
	return fc
}

// WriteFeatureCollection encodes fc as indented GeoJSON
func WriteFeatureCollection(w io.Writer, fc *FeatureCollection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

// SimplifyRing applies Douglas-Peucker to a closed ring. The result stays
// closed; tolerance <= 0 returns a copy.
func SimplifyRing(ring orb.Ring, tolerance float64) orb.Ring {
	if tolerance <= 0 || len(ring) < 4 {
		return ring.Clone()
	}
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(ring.Clone()).(orb.Ring)
	if !ok || len(simplified) < 4 {
		return ring.Clone()
	}
	return closeRing(simplified)
}

func projectPoints(points []r3.Vector, plane Plane) []orb.Point {
	out := make([]orb.Point, len(points))
	for i, v := range points {
		x, y := plane.Project(v)
		out[i] = orb.Point{x, y}
	}
	return out
}

func closeRing(points []orb.Point) orb.Ring {
	ring := orb.Ring(append([]orb.Point(nil), points...))
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// hullPolygon returns the convex hull as a polygon, or nil when it has no area
func hullPolygon(points []orb.Point) orb.Polygon {
	hull := convexHull(points)
	if len(hull) < 3 {
		return nil
	}
	return orb.Polygon{closeRing(hull)}
}

// convexHull computes the convex hull of a set of 2D points using
// Andrew's monotone chain algorithm. Returns points in counter-clockwise order.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		result := make([]orb.Point, len(points))
		copy(result, points)
		return result
	}

	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)

	// Lower hull
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Upper hull
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	return hull[:len(hull)-1]
}

func polygonToGeometry(poly orb.Polygon) *Geometry {
	rings := make([][][2]float64, len(poly))
	for i, ring := range poly {
		r := make([][2]float64, len(ring))
		for j, p := range ring {
			r[j] = [2]float64{p[0], p[1]}
		}
		rings[i] = r
	}
	coordsJSON, _ := json.Marshal(rings)
	return &Geometry{
		Type:        GeometryPolygon,
		Coordinates: coordsJSON,
	}
}

func multiPointToGeometry(points []orb.Point) *Geometry {
	coords := make([][2]float64, len(points))
	for i, p := range points {
		coords[i] = [2]float64{p[0], p[1]}
	}
	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{
		Type:        GeometryMultiPoint,
		Coordinates: coordsJSON,
	}
}
