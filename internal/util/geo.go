package util

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const earthRadiusKm = 6371.0

// Offset bounds in degrees for the privacy jitter, roughly 50m to 200m
const (
	JitterMinOffset = 0.00045
	JitterMaxOffset = 0.0018
)

// Point is a lat/lng pair in degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Jitter moves a raw coordinate by an independent random offset on each axis.
// Every call draws fresh offsets. Raw coordinates must not be used after this.
func Jitter(lat, lng float64) (float64, float64) {
	return jitterWith(rand.Float64, lat, lng)
}

func jitterWith(random func() float64, lat, lng float64) (float64, float64) {
	offset := func() float64 {
		m := JitterMinOffset + random()*(JitterMaxOffset-JitterMinOffset)
		if random() < 0.5 {
			return -m
		}
		return m
	}

	dLat := offset()
	if lat+dLat > 90 || lat+dLat < -90 {
		// Near a pole the offset points back toward the equator
		dLat = -dLat
	}
	jLat := lat + dLat
	jLng := lng + offset()

	if jLng > 180 {
		jLng -= 360
	} else if jLng < -180 {
		jLng += 360
	}
	return jLat, jLng
}

// HaversineDistance returns the great-circle distance in kilometers
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	// Convert coordinates from degrees to S2 points
	point1 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat1, lng1))
	point2 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat2, lng2))

	// Calculate angle between points
	angle := s1.Angle(point1.Distance(point2))

	return angle.Radians() * earthRadiusKm
}

// Distance returns the distance from the viewer to a target in kilometers.
// ok is false when the viewer has no fix yet.
func Distance(viewer *Point, target Point) (km float64, ok bool) {
	if viewer == nil {
		return 0, false
	}
	return HaversineDistance(viewer.Lat, viewer.Lng, target.Lat, target.Lng), true
}

// DistanceLabel renders a distance for lists and popups; unknown is "?"
func DistanceLabel(km float64, ok bool) string {
	if !ok {
		return "?"
	}
	if km < 1 {
		return fmt.Sprintf("%d m", int(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1f km", km)
}
