package opensky

import (
	"fmt"
	"math"
)

// KmPerDegreeLat is the approximate length of one degree of latitude.
const KmPerDegreeLat = 111.0

// BoundingBox is a WGS84 query window.
type BoundingBox struct {
	LaMin float64
	LaMax float64
	LoMin float64
	LoMax float64
}

// BoundingBoxAround returns a box extending radiusKm in each direction from
// the given center. Longitude span widens with latitude.
func BoundingBoxAround(lat, lon, radiusKm float64) BoundingBox {
	latSpan := radiusKm / KmPerDegreeLat

	cos := math.Cos(lat * math.Pi / 180)
	lonSpan := 180.0
	if cos > 1e-6 {
		lonSpan = math.Min(radiusKm/(KmPerDegreeLat*cos), 180)
	}

	return BoundingBox{
		LaMin: math.Max(lat-latSpan, -90),
		LaMax: math.Min(lat+latSpan, 90),
		LoMin: math.Max(lon-lonSpan, -180),
		LoMax: math.Min(lon+lonSpan, 180),
	}
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.LaMin && lat <= b.LaMax && lon >= b.LoMin && lon <= b.LoMax
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("lat [%.4f, %.4f] lon [%.4f, %.4f]", b.LaMin, b.LaMax, b.LoMin, b.LoMax)
}
