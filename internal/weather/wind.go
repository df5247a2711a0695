package weather

import "math"

var compassPoints = [...]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// CompassPoint returns the 16-point compass abbreviation for a wind direction
// in degrees.
func CompassPoint(degrees float64) string {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	idx := int(math.Round(d/22.5)) % len(compassPoints)
	return compassPoints[idx]
}
