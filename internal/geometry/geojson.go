package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
)

// FeatureCollection renders sample points as GeoJSON Point features.
func FeatureCollection(points []ingest.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(orb.Point{p.Lon, p.Lat})
		f.Properties["latitude"] = p.Lat
		f.Properties["longitude"] = p.Lon
		fc.Append(f)
	}
	return fc
}

// Bound builds the bounding box used by geometry queries.
func Bound(minLat, minLon, maxLat, maxLon float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}
}
