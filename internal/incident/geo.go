package incident

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

type BoundingBox struct {
	Name   string  `yaml:"name" json:"name"`
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

func (b BoundingBox) Contains(l Location) bool {
	return l.Lat >= b.MinLat && l.Lat <= b.MaxLat && l.Lon >= b.MinLon && l.Lon <= b.MaxLon
}

// Centroid averages the given locations. ok is false for an empty input.
func Centroid(locations []Location) (Location, bool) {
	if len(locations) == 0 {
		return Location{}, false
	}
	var lat, lon float64
	for _, l := range locations {
		lat += l.Lat
		lon += l.Lon
	}
	n := float64(len(locations))
	return Location{Lat: lat / n, Lon: lon / n}, true
}

// DegreesForKm converts a radius to a conservative lat/lon box half-width around lat,
// used to prefilter storage queries before the exact haversine check.
func DegreesForKm(km, lat float64) (dLat, dLon float64) {
	dLat = km / 111.0
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLon = km / (111.0 * cos)
	return dLat, dLon
}
