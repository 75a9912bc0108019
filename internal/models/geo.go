package models

import (
	"math"
)

// Point2D is a point in sketch space. Sketch coordinates carry no
// inherent real-world scale; the geometry engine interprets one sketch
// unit as one meter.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point2D) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// GeoPoint is a real-world position in decimal degrees (WGS84).
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point is finite and within the valid
// latitude/longitude ranges.
func (g GeoPoint) Valid() bool {
	if math.IsNaN(g.Latitude) || math.IsInf(g.Latitude, 0) {
		return false
	}
	if math.IsNaN(g.Longitude) || math.IsInf(g.Longitude, 0) {
		return false
	}
	return g.Latitude >= -90 && g.Latitude <= 90 &&
		g.Longitude >= -180 && g.Longitude <= 180
}

// Polygon is an ordered parcel boundary of at least three GeoPoints.
// The boundary is implicitly closed: the last vertex connects back to
// the first. Vertex order is preserved exactly as entered by the user;
// the engine never re-orients it.
type Polygon []GeoPoint

// ParcelGeometry is the output of the geometry engine: the real-world
// description of a sketched parcel.
//
// Centroid always equals the user-supplied anchor exactly. The anchor
// is authoritative; it is never recomputed from the projected vertices.
type ParcelGeometry struct {
	Centroid          GeoPoint  `json:"centroid"`
	Vertices          Polygon   `json:"vertices"`
	SideLengthsMeters []float64 `json:"sideLengthsMeters"`
	AreaSquareMeters  float64   `json:"areaSquareMeters"`
}
