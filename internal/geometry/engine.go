// Package geometry turns a scale-less hand sketch plus a single
// real-world anchor point into a geodesically anchored parcel
// description: projected vertices, great-circle side lengths, and area.
//
// Calibration: one sketch unit is taken to be one meter. No automatic
// scale recovery from a reference distance is attempted; parcels drawn
// at a different implicit scale will be proportionally wrong. This is
// a documented limitation of the capture flow, not something the
// engine tries to correct.
package geometry

import (
	"errors"
	"math"

	"landpool/api/internal/models"
)

// EarthRadiusMeters is the earth radius used for both the local
// projection and haversine distances.
const EarthRadiusMeters = 6378137.0

// Signed areas smaller than this are treated as degenerate (collinear
// or self-cancelling) sketches.
const degenerateAreaEpsilon = 1e-9

// MaxAnchorLatitude bounds anchors away from the poles, where
// cos(latitude) approaches zero and the equirectangular projection
// would place vertex longitudes outside [-180, 180].
const MaxAnchorLatitude = 89.9

// Engine input errors. All are caller-fixable and never retried.
var (
	ErrInsufficientVertices = errors.New("sketch must contain at least 3 distinct points")
	ErrInvalidAnchor        = errors.New("anchor must be a lat/lng coordinate away from the poles")
	ErrNonFinitePoint       = errors.New("sketch contains a non-finite point")
)

// Compute converts an ordered sketch into a ParcelGeometry anchored at
// the supplied GeoPoint. It is pure and deterministic.
//
// The sketch-space centroid is moved to the anchor; every vertex is the
// anchor displaced by that point's offset from the centroid, treated as
// local east/north meters under an equirectangular projection. The
// returned Centroid is the anchor itself, by construction.
func Compute(sketch []models.Point2D, anchor models.GeoPoint) (models.ParcelGeometry, error) {
	if !anchor.Valid() || math.Abs(anchor.Latitude) > MaxAnchorLatitude {
		return models.ParcelGeometry{}, ErrInvalidAnchor
	}

	for _, p := range sketch {
		if !p.IsFinite() {
			return models.ParcelGeometry{}, ErrNonFinitePoint
		}
	}

	points := dedupeConsecutive(sketch)
	if len(points) < 3 {
		return models.ParcelGeometry{}, ErrInsufficientVertices
	}

	cx, cy := sketchCentroid(points)

	// Offsets from the sketch centroid, in meters by calibration.
	east := make([]float64, len(points))
	north := make([]float64, len(points))
	for i, p := range points {
		east[i] = p.X - cx
		north[i] = p.Y - cy
	}

	vertices := make(models.Polygon, len(points))
	latRad := anchor.Latitude * math.Pi / 180
	for i := range points {
		vertices[i] = models.GeoPoint{
			Latitude:  anchor.Latitude + (north[i]/EarthRadiusMeters)*(180/math.Pi),
			Longitude: anchor.Longitude + (east[i]/(EarthRadiusMeters*math.Cos(latRad)))*(180/math.Pi),
		}
	}

	sides := make([]float64, len(vertices))
	for i := range vertices {
		next := (i + 1) % len(vertices)
		sides[i] = Haversine(vertices[i], vertices[next])
	}

	// The projection above is linear in the offsets, so the planar
	// shoelace over the projected pairs rescaled back to meters equals
	// the shoelace over the meter offsets themselves. Valid only for
	// small parcels, where curvature error stays negligible.
	area := math.Abs(shoelace(east, north))

	return models.ParcelGeometry{
		Centroid:          anchor,
		Vertices:          vertices,
		SideLengthsMeters: sides,
		AreaSquareMeters:  area,
	}, nil
}

// Haversine returns the great-circle distance between two points in
// meters.
func Haversine(a, b models.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// AcresFromSquareMeters converts an engine area to acres.
func AcresFromSquareMeters(sqm float64) float64 {
	return sqm / models.SquareMetersPerAcre
}

// sketchCentroid computes the area-weighted centroid of the sketch
// polygon via the shoelace first moments. Degenerate polygons
// (collinear points, ~zero signed area) fall back to the arithmetic
// mean of the vertices.
func sketchCentroid(points []models.Point2D) (float64, float64) {
	var signed, mx, my float64
	for i := range points {
		j := (i + 1) % len(points)
		cross := points[i].X*points[j].Y - points[j].X*points[i].Y
		signed += cross
		mx += (points[i].X + points[j].X) * cross
		my += (points[i].Y + points[j].Y) * cross
	}
	signed /= 2

	if math.Abs(signed) < degenerateAreaEpsilon {
		var sx, sy float64
		for _, p := range points {
			sx += p.X
			sy += p.Y
		}
		n := float64(len(points))
		return sx / n, sy / n
	}

	return mx / (6 * signed), my / (6 * signed)
}

// shoelace returns the signed area of the polygon described by the
// given coordinate slices.
func shoelace(xs, ys []float64) float64 {
	var sum float64
	for i := range xs {
		j := (i + 1) % len(xs)
		sum += xs[i]*ys[j] - xs[j]*ys[i]
	}
	return sum / 2
}

// dedupeConsecutive drops duplicate consecutive sketch points,
// including a trailing point that repeats the first (an explicitly
// closed ring). Order is otherwise preserved.
func dedupeConsecutive(points []models.Point2D) []models.Point2D {
	out := make([]models.Point2D, 0, len(points))
	for _, p := range points {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}
