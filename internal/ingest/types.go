// Package ingest defines the core types and per-point acquisition logic of the imagery pipeline.
package ingest

import (
	"strconv"
	"time"
)

// Point is a sampled (latitude, longitude) pair. Equality is coordinate-exact.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// String renders the point the way the imagery API expects its location parameter.
func (p Point) String() string {
	return FormatCoord(p.Lat) + "," + FormatCoord(p.Lon)
}

// FormatCoord renders a coordinate with the shortest exact decimal form and no exponent.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Direction is a compass heading paired with a camera pitch.
type Direction struct {
	Heading int `json:"heading"`
	Pitch   int `json:"pitch"`
}

// Directions is the fixed set of headings fetched for every point.
var Directions = []Direction{
	{Heading: 0, Pitch: 0},
	{Heading: 90, Pitch: 0},
	{Heading: 180, Pitch: 0},
	{Heading: 270, Pitch: 0},
}

// Job associates one sample point with the directions still to be attempted for it.
type Job struct {
	Point      Point
	Directions []Direction
}

// NewJob builds a Job for p covering every direction in Directions.
func NewJob(p Point) Job {
	dirs := make([]Direction, len(Directions))
	copy(dirs, Directions)
	return Job{Point: p, Directions: dirs}
}

// ImageryRecord is the metadata row persisted once per stored (lat, lon, heading).
type ImageryRecord struct {
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Heading   int       `json:"heading"`
	Pitch     int       `json:"pitch"`
	FOV       int       `json:"fov"`
	ImageURL  string    `json:"image_url"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ImageryRequest captures everything needed to request one directional image.
type ImageryRequest struct {
	Point     Point
	Direction Direction
	FOV       int
	Size      string
}

// ImageryResponse is the result returned by an ImageryClient implementation.
type ImageryResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}
