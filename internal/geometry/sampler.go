package geometry

import (
	"math"

	"github.com/JakeFAU/streetview-ingestor/internal/ingest"
)

// DefaultSpacing is the distance between consecutive samples, in meters.
const DefaultSpacing = 50.0

// DefaultPrecision is the number of decimal places kept on sampled coordinates (~1.1 cm).
const DefaultPrecision = 7

// Sampler walks lines at a fixed spacing.
type Sampler struct {
	spacing   float64
	precision int
}

// NewSampler builds a Sampler. A non-positive spacing falls back to DefaultSpacing;
// a negative precision disables coordinate rounding.
func NewSampler(spacing float64, precision int) *Sampler {
	if spacing <= 0 || math.IsNaN(spacing) || math.IsInf(spacing, 0) {
		spacing = DefaultSpacing
	}
	return &Sampler{spacing: spacing, precision: precision}
}

// Spacing returns the configured sample spacing in meters.
func (s *Sampler) Spacing() float64 {
	return s.spacing
}

// SampleLine emits floor(length/spacing)+1 points at distances 0, spacing, 2*spacing, ...
func (s *Sampler) SampleLine(line Line) []ingest.Point {
	count := int(math.Floor(line.Length()/s.spacing)) + 1
	points := make([]ingest.Point, 0, count)
	for i := 0; i < count; i++ {
		pt := line.PointAt(float64(i) * s.spacing)
		points = append(points, ingest.Point{
			Lat: s.round(pt.Lat()),
			Lon: s.round(pt.Lon()),
		})
	}
	return points
}

// Sample samples every line and returns the combined list with duplicates removed.
func (s *Sampler) Sample(lines []Line) []ingest.Point {
	var raw []ingest.Point
	for _, line := range lines {
		raw = append(raw, s.SampleLine(line)...)
	}
	return Dedup(raw)
}

func (s *Sampler) round(v float64) float64 {
	if s.precision < 0 {
		return v
	}
	scale := math.Pow(10, float64(s.precision))
	return math.Round(v*scale) / scale
}

// Dedup removes points with identical coordinates, keeping the first occurrence.
func Dedup(points []ingest.Point) []ingest.Point {
	seen := make(map[ingest.Point]struct{}, len(points))
	out := make([]ingest.Point, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
