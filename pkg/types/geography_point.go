package types

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371008.8

// GeographyPoint is a WGS84 coordinate.
type GeographyPoint struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Validate rejects coordinates outside the WGS84 ranges.
func (g GeographyPoint) Validate() error {
	if math.IsNaN(g.Lat) || g.Lat < -90 || g.Lat > 90 {
		return fmt.Errorf("geography: latitude %v out of range", g.Lat)
	}
	if math.IsNaN(g.Lng) || g.Lng < -180 || g.Lng > 180 {
		return fmt.Errorf("geography: longitude %v out of range", g.Lng)
	}
	return nil
}

// DistanceMeters returns the great-circle distance using the haversine formula.
func (g GeographyPoint) DistanceMeters(other GeographyPoint) float64 {
	lat1 := toRadians(g.Lat)
	lat2 := toRadians(other.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(other.Lng - g.Lng)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// BoundingBox is a lat/lng rectangle used to prefilter radius queries.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a rectangle containing every point within radiusMeters.
// Near the poles or across the antimeridian the longitude span widens to the
// full range.
func (g GeographyPoint) BoundingBox(radiusMeters float64) BoundingBox {
	angular := radiusMeters / earthRadiusMeters
	dLat := toDegrees(angular)

	box := BoundingBox{
		MinLat: math.Max(g.Lat-dLat, -90),
		MaxLat: math.Min(g.Lat+dLat, 90),
		MinLng: -180,
		MaxLng: 180,
	}

	cosLat := math.Cos(toRadians(g.Lat))
	if cosLat <= 1e-9 {
		return box
	}
	ratio := math.Sin(angular) / cosLat
	if ratio >= 1 {
		return box
	}
	dLng := toDegrees(math.Asin(ratio))
	if g.Lng-dLng < -180 || g.Lng+dLng > 180 {
		return box
	}
	box.MinLng = g.Lng - dLng
	box.MaxLng = g.Lng + dLng
	return box
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
