package geo

import (
	"fmt"
	"math"
)

// Радиус Земли в метрах.
const earthRadiusMeters = 6371000

// Distance returns the great-circle distance between two points in
// meters (Haversine).
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lng1r := lng1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	lng2r := lng2 * math.Pi / 180

	dlat := lat2r - lat1r
	dlng := lng2r - lng1r

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dlng/2)*math.Sin(dlng/2)
	c := 2 * math.Asin(math.Sqrt(a))

	return earthRadiusMeters * c
}

// FormatDuration renders seconds as "2 hour(s) 5 min" / "5 min".
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%d hour(s) %d min", hours, minutes)
	}
	return fmt.Sprintf("%d min", minutes)
}

// FormatDistance renders meters as "1.2 km" / "400 m".
func FormatDistance(meters int64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", float64(meters)/1000)
	}
	return fmt.Sprintf("%d m", meters)
}
