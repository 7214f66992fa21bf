package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"kepler-linecount-go/internal/geometry"
	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
	"kepler-linecount-go/internal/services/streamcapture"
)

var (
	lineColor  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	inColor    = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	outColor   = color.RGBA{R: 255, G: 80, B: 80, A: 255}
	totalColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// CounterSource exposes the current counters of a camera
type CounterSource interface {
	Snapshot(cameraID string) (models.CountersResponse, bool)
}

// FramePublisher receives the rendered frame
type FramePublisher interface {
	PublishMat(cameraID string, mat gocv.Mat) error
}

// Hook renders boxes, track ids, the counting line and the counters onto
// every processed frame and hands the result to the publisher. It runs after
// the counting engine so the drawn counters include this frame.
type Hook struct {
	counters  CounterSource
	publisher FramePublisher
	logger    zerolog.Logger
}

func NewHook(counters CounterSource, publisher FramePublisher) *Hook {
	return &Hook{
		counters:  counters,
		publisher: publisher,
		logger:    logging.NewServiceLogger("overlay"),
	}
}

func (h *Hook) HandleResult(frame *models.Frame, result models.DetectionResult) {
	src, err := streamcapture.ToMat(frame)
	if err != nil {
		h.logger.Debug().Err(err).Str("camera_id", result.CameraID).Msg("Skipping overlay for frame")
		return
	}
	mat := src.Clone()
	src.Close()
	defer mat.Close()

	snap, ok := h.counters.Snapshot(result.CameraID)
	if ok {
		drawLine(&mat, snap.Line.Line)
	}
	drawDetections(&mat, result.Detections)
	if ok {
		drawCounters(&mat, snap)
	}

	if err := h.publisher.PublishMat(result.CameraID, mat); err != nil {
		h.logger.Warn().Err(err).Str("camera_id", result.CameraID).Msg("Failed to publish overlay frame")
	}
}

func drawLine(mat *gocv.Mat, line geometry.Line) {
	ext := geometry.ExtendLine(line, float64(mat.Cols()), float64(mat.Rows()))
	x1, y1 := ext.Start.Round()
	x2, y2 := ext.End.Round()
	gocv.Line(mat, image.Pt(x1, y1), image.Pt(x2, y2), lineColor, 2)
}

func drawDetections(mat *gocv.Mat, detections []models.Detection) {
	for _, det := range detections {
		if !det.IsComplete() {
			continue
		}
		b := det.BBox
		rect := image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3]))
		gocv.Rectangle(mat, rect, boxColor, 2)

		c := geometry.Centroid(*b)
		cx, cy := c.Round()
		gocv.Circle(mat, image.Pt(cx, cy), 3, boxColor, -1)

		gocv.PutText(mat, fmt.Sprintf("ID %d", *det.TrackID), image.Pt(rect.Min.X, rect.Min.Y-6),
			gocv.FontHersheySimplex, 0.5, boxColor, 1)
	}
}

type counterLabel struct {
	text  string
	color color.RGBA
}

// counterLabels lists the panel rows top to bottom. OUT only moves while
// someone is inside; ACTUAL OUT counts every exit.
func counterLabels(snap models.CountersResponse) []counterLabel {
	return []counterLabel{
		{fmt.Sprintf("IN: %d", snap.CountIn), inColor},
		{fmt.Sprintf("OUT: %d", snap.CountOut), outColor},
		{fmt.Sprintf("ACTUAL OUT: %d", snap.ActualCountOut), outColor},
		{fmt.Sprintf("INSIDE: %d", snap.Occupancy), totalColor},
	}
}

func drawCounters(mat *gocv.Mat, snap models.CountersResponse) {
	for i, l := range counterLabels(snap) {
		DrawText(mat, l.text, 20, 30+35*i, l.color)
	}
}

// DrawText draws text on a filled background box
func DrawText(mat *gocv.Mat, text string, x, y int, textColor color.RGBA) {
	const (
		fontScale = 0.7
		thickness = 2
		padding   = 8
	)
	fontFace := gocv.FontHersheySimplex
	textSize := gocv.GetTextSize(text, fontFace, fontScale, thickness)

	bgRect := image.Rect(x-padding, y-textSize.Y-padding, x+textSize.X+padding, y+padding)
	gocv.Rectangle(mat, bgRect, color.RGBA{A: 200}, -1)
	gocv.Rectangle(mat, bgRect, color.RGBA{R: 40, G: 40, B: 40, A: 255}, 1)

	gocv.PutText(mat, text, image.Pt(x+1, y+1), fontFace, fontScale, color.RGBA{A: 100}, thickness)
	gocv.PutText(mat, text, image.Pt(x, y), fontFace, fontScale, textColor, thickness)
}
