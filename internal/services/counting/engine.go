package counting

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
)

var (
	ErrUnknownCamera   = errors.New("camera has no counting line")
	ErrDuplicateCamera = errors.New("camera already registered")
	ErrInvalidLine     = errors.New("invalid counting line")
	ErrInvalidCounters = errors.New("invalid counters")
)

// Options tune how detections are turned into crossings. The zero value
// counts every class, never evicts tracks and applies no cooldown.
type Options struct {
	// Classes limits counting to these labels; empty counts everything.
	Classes []string
	// MinConfidence drops detections below this score.
	MinConfidence float64
	// TrackTTL evicts tracks not seen for this long. Zero keeps them forever.
	TrackTTL time.Duration
	// Cooldown ignores a second crossing of the same track within this window.
	Cooldown time.Duration
}

func (o Options) accepts(det models.Detection) bool {
	if det.Confidence < o.MinConfidence {
		return false
	}
	if len(o.Classes) == 0 {
		return true
	}
	return slices.ContainsFunc(o.Classes, func(c string) bool {
		return strings.EqualFold(c, det.Label)
	})
}

// EventSink receives every crossing after the camera lock is released
type EventSink interface {
	HandleCrossing(event models.CrossingEvent) error
}

// Engine routes detection results to the per-camera counters
type Engine struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	counters map[string]*Counter
	sinks    []EventSink
}

// NewEngine creates an engine with no cameras registered
func NewEngine(opts Options, sinks ...EventSink) *Engine {
	return &Engine{
		opts:     opts,
		logger:   logging.NewServiceLogger("counting"),
		counters: make(map[string]*Counter),
		sinks:    sinks,
	}
}

// AddSink registers another crossing consumer
func (e *Engine) AddSink(sink EventSink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, sink)
	e.mu.Unlock()
}

// Register attaches a counting line to a camera
func (e *Engine) Register(cameraID string, line models.CountingLine) error {
	if line.IsDegenerate() {
		return fmt.Errorf("%w: camera %s has identical endpoints", ErrInvalidLine, cameraID)
	}
	if !line.Axis.IsValid() {
		return fmt.Errorf("%w: camera %s has unknown axis %q", ErrInvalidLine, cameraID, line.Axis)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.counters[cameraID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCamera, cameraID)
	}
	c := newCounter(cameraID, line, e.opts)
	e.counters[cameraID] = c

	e.logger.Info().
		Str("camera_id", cameraID).
		Float64("x1", line.Start.X).Float64("y1", line.Start.Y).
		Float64("x2", line.End.X).Float64("y2", line.End.Y).
		Str("axis", string(c.axis)).
		Bool("invert", line.Invert).
		Msg("Counting line registered")
	return nil
}

// Counter returns the counter of a camera
func (e *Engine) Counter(cameraID string) (*Counter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.counters[cameraID]
	return c, ok
}

// Process feeds one frame's detections to the camera's counter and hands the
// resulting crossings to every sink.
func (e *Engine) Process(ts time.Time, result models.DetectionResult) ([]models.CrossingEvent, error) {
	c, ok := e.Counter(result.CameraID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, result.CameraID)
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	events := c.Process(ts, result)
	if len(events) == 0 {
		return nil, nil
	}

	e.mu.RLock()
	sinks := slices.Clone(e.sinks)
	e.mu.RUnlock()

	for _, ev := range events {
		e.logger.Info().
			Str("camera_id", ev.CameraID).
			Int64("track_id", ev.TrackID).
			Str("direction", string(ev.Direction)).
			Bool("counted", ev.Counted).
			Uint64("count_in", ev.Counters.CountIn).
			Uint64("count_out", ev.Counters.CountOut).
			Uint64("occupancy", ev.Occupancy).
			Msg("Line crossing")

		for _, sink := range sinks {
			if err := sink.HandleCrossing(ev); err != nil {
				e.logger.Error().Err(err).Str("camera_id", ev.CameraID).Msg("Crossing sink failed")
			}
		}
	}
	return events, nil
}

// HandleResult lets the engine sit behind the dispatcher as a per-frame hook
func (e *Engine) HandleResult(frame *models.Frame, result models.DetectionResult) {
	if _, err := e.Process(frame.Timestamp, result); err != nil {
		e.logger.Warn().Err(err).Str("camera_id", result.CameraID).Msg("Dropping detection result")
	}
}

// Restore seeds a camera's counters, typically from persisted events
func (e *Engine) Restore(cameraID string, counters models.Counters) error {
	if counters.ActualCountOut < counters.CountOut {
		return fmt.Errorf("%w: actual_count_out %d below count_out %d",
			ErrInvalidCounters, counters.ActualCountOut, counters.CountOut)
	}
	c, ok := e.Counter(cameraID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}
	c.restore(counters)
	return nil
}

// Snapshot returns the API view of one camera
func (e *Engine) Snapshot(cameraID string) (models.CountersResponse, bool) {
	c, ok := e.Counter(cameraID)
	if !ok {
		return models.CountersResponse{}, false
	}
	return snapshot(cameraID, c), true
}

// Snapshots returns every camera ordered by id
func (e *Engine) Snapshots() []models.CountersResponse {
	e.mu.RLock()
	ids := make([]string, 0, len(e.counters))
	for id := range e.counters {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	slices.Sort(ids)

	out := make([]models.CountersResponse, 0, len(ids))
	for _, id := range ids {
		if s, ok := e.Snapshot(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func snapshot(cameraID string, c *Counter) models.CountersResponse {
	counters := c.Counters()
	return models.CountersResponse{
		CameraID:       cameraID,
		CountIn:        counters.CountIn,
		CountOut:       counters.CountOut,
		ActualCountOut: counters.ActualCountOut,
		Occupancy:      counters.Occupancy(),
		ActiveTracks:   c.Tracks(),
		Line:           c.Line(),
	}
}
