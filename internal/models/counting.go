package models

import (
	"time"

	"kepler-linecount-go/internal/geometry"
)

// Direction of a line crossing
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Axis selects which coordinate decides the direction of a crossing
type Axis string

const (
	AxisAuto Axis = "auto"
	AxisX    Axis = "x"
	AxisY    Axis = "y"
)

// IsValid checks if the axis is known
func (a Axis) IsValid() bool {
	switch a {
	case AxisAuto, AxisX, AxisY, "":
		return true
	default:
		return false
	}
}

// CountingLine is the reference line of one camera, in processing resolution
type CountingLine struct {
	geometry.Line `yaml:",inline"`
	Axis          Axis `json:"axis" yaml:"axis"`
	Invert        bool `json:"invert" yaml:"invert"`
}

// Counters are the running totals of one camera
type Counters struct {
	CountIn        uint64 `json:"count_in"`
	CountOut       uint64 `json:"count_out"`
	ActualCountOut uint64 `json:"actual_count_out"`
}

// Occupancy is max(0, in - out)
func (c Counters) Occupancy() uint64 {
	if c.CountOut >= c.CountIn {
		return 0
	}
	return c.CountIn - c.CountOut
}

// CountersResponse for API
type CountersResponse struct {
	CameraID       string       `json:"camera_id"`
	CountIn        uint64       `json:"count_in"`
	CountOut       uint64       `json:"count_out"`
	ActualCountOut uint64       `json:"actual_count_out"`
	Occupancy      uint64       `json:"occupancy"`
	ActiveTracks   int          `json:"active_tracks"`
	Line           CountingLine `json:"line"`
}

// CrossingEvent is emitted every time a track crosses a counting line
type CrossingEvent struct {
	ID        string         `json:"id"`
	CameraID  string         `json:"camera_id"`
	TrackID   int64          `json:"track_id"`
	Label     string         `json:"label"`
	Direction Direction      `json:"direction"`
	Counted   bool           `json:"counted"`
	From      geometry.Point `json:"from"`
	To        geometry.Point `json:"to"`
	Occurred  time.Time      `json:"occurred"`
	Counters  Counters       `json:"counters"`
	Occupancy uint64         `json:"occupancy"`
}
