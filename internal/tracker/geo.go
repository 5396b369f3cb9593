package tracker

import "math"

// EarthRadiusMiles is the mean Earth radius in statute miles
const EarthRadiusMiles = 3958.8

func degreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}

// HaversineMiles returns the great-circle distance between two points in statute miles
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := degreesToRadians(lat1)
	phi2 := degreesToRadians(lat2)
	dPhi := degreesToRadians(lat2 - lat1)
	dLambda := degreesToRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMiles * c
}

// degreeDistance is the planar distance in degrees, only meaningful at
// trail-throttling scale (~0.001° ≈ 100 m)
func degreeDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return math.Hypot(lat2-lat1, lon2-lon1)
}
