package counting

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"kepler-linecount-go/internal/geometry"
	"kepler-linecount-go/internal/models"
)

// track is the last known position of one tracked object
type track struct {
	centroid    geometry.Point
	lastSeen    time.Time
	lastCounted time.Time
	counted     bool
}

// Counter owns the track table and counters of a single camera. Every
// mutation happens under mu so results for the same camera never interleave.
type Counter struct {
	cameraID string
	line     models.CountingLine
	axis     models.Axis
	opts     Options

	mu       sync.Mutex
	tracks   map[int64]*track
	counters models.Counters
	skipped  uint64
}

func newCounter(cameraID string, line models.CountingLine, opts Options) *Counter {
	return &Counter{
		cameraID: cameraID,
		line:     line,
		axis:     resolveAxis(line),
		opts:     opts,
		tracks:   make(map[int64]*track),
	}
}

// resolveAxis picks the coordinate used to tell "in" from "out". A line that
// is wider than it is tall is crossed vertically, so y decides.
func resolveAxis(line models.CountingLine) models.Axis {
	if line.Axis == models.AxisX || line.Axis == models.AxisY {
		return line.Axis
	}
	dx := math.Abs(line.End.X - line.Start.X)
	dy := math.Abs(line.End.Y - line.Start.Y)
	if dx >= dy {
		return models.AxisY
	}
	return models.AxisX
}

// Process runs one frame worth of detections through the track state machine
// and returns the crossings it produced, in detection order.
func (c *Counter) Process(ts time.Time, result models.DetectionResult) []models.CrossingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []models.CrossingEvent
	for _, det := range result.Detections {
		if !det.IsComplete() {
			c.skipped++
			continue
		}
		if !c.opts.accepts(det) {
			continue
		}

		id := *det.TrackID
		cur := geometry.Centroid(*det.BBox)

		tr, ok := c.tracks[id]
		if !ok {
			c.tracks[id] = &track{centroid: cur, lastSeen: ts}
			continue
		}

		prev := tr.centroid
		tr.centroid = cur
		tr.lastSeen = ts

		if !geometry.Crosses(c.line.Line, prev, cur) {
			continue
		}
		if c.opts.Cooldown > 0 && tr.counted && ts.Sub(tr.lastCounted) < c.opts.Cooldown {
			continue
		}
		tr.counted = true
		tr.lastCounted = ts

		dir := c.direction(prev, cur)
		counted := c.apply(dir)

		events = append(events, models.CrossingEvent{
			ID:        uuid.NewString(),
			CameraID:  c.cameraID,
			TrackID:   id,
			Label:     det.Label,
			Direction: dir,
			Counted:   counted,
			From:      prev,
			To:        cur,
			Occurred:  ts,
			Counters:  c.counters,
			Occupancy: c.counters.Occupancy(),
		})
	}

	c.evictLocked(ts)
	return events
}

// direction classifies a crossing. Moving towards smaller x, or towards larger
// y, is an entry; a tie on the deciding axis is an entry as well.
func (c *Counter) direction(prev, cur geometry.Point) models.Direction {
	var in bool
	if c.axis == models.AxisX {
		in = cur.X <= prev.X
	} else {
		in = cur.Y >= prev.Y
	}
	if c.line.Invert {
		in = !in
	}
	if in {
		return models.DirectionIn
	}
	return models.DirectionOut
}

// apply mutates the counters and reports whether count_out/count_in moved.
// Exits only reduce occupancy while someone is inside.
func (c *Counter) apply(dir models.Direction) bool {
	if dir == models.DirectionIn {
		c.counters.CountIn++
		return true
	}

	c.counters.ActualCountOut++
	if c.counters.Occupancy() > 0 {
		c.counters.CountOut++
		return true
	}
	return false
}

func (c *Counter) evictLocked(now time.Time) {
	if c.opts.TrackTTL <= 0 {
		return
	}
	for id, tr := range c.tracks {
		if now.Sub(tr.lastSeen) > c.opts.TrackTTL {
			delete(c.tracks, id)
		}
	}
}

// Counters returns the current totals
func (c *Counter) Counters() models.Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// Tracks returns the size of the track table
func (c *Counter) Tracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

// Skipped returns how many malformed detections were ignored
func (c *Counter) Skipped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipped
}

// Line returns the configured counting line
func (c *Counter) Line() models.CountingLine {
	return c.line
}

func (c *Counter) restore(counters models.Counters) {
	c.mu.Lock()
	c.counters = counters
	c.mu.Unlock()
}
