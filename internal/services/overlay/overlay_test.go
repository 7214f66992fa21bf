package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"kepler-linecount-go/internal/geometry"
	"kepler-linecount-go/internal/models"
)

type staticCounters map[string]models.CountersResponse

func (s staticCounters) Snapshot(cameraID string) (models.CountersResponse, bool) {
	snap, ok := s[cameraID]
	return snap, ok
}

type capturePublisher struct {
	camera string
	pixels []byte
	rows   int
	cols   int
}

func (c *capturePublisher) PublishMat(cameraID string, mat gocv.Mat) error {
	c.camera = cameraID
	c.pixels = mat.ToBytes()
	c.rows, c.cols = mat.Rows(), mat.Cols()
	return nil
}

func (c *capturePublisher) at(x, y int) []byte {
	i := (y*c.cols + x) * 3
	return c.pixels[i : i+3]
}

func blackFrame(width, height int) *models.Frame {
	return &models.Frame{CameraID: "door", Width: width, Height: height, Data: make([]byte, width*height*3)}
}

func TestHookDrawsLineAndBoxes(t *testing.T) {
	counters := staticCounters{"door": {
		CameraID: "door",
		CountIn:  3,
		Line: models.CountingLine{Line: geometry.Line{
			Start: geometry.Pt(100, 180),
			End:   geometry.Pt(200, 180),
		}},
	}}
	pub := &capturePublisher{}
	hook := NewHook(counters, pub)

	frame := blackFrame(640, 360)
	id := int64(7)
	box := [4]float64{300, 250, 340, 330}
	hook.HandleResult(frame, models.DetectionResult{
		CameraID:   "door",
		Detections: []models.Detection{{TrackID: &id, BBox: &box}, {BBox: &box}},
	})

	require.Equal(t, "door", pub.camera)
	require.Equal(t, 360, pub.rows)
	require.Equal(t, 640, pub.cols)

	// line is extended to the frame edges
	assert.Equal(t, []byte{0, 255, 255}, pub.at(600, 180), "extended line in BGR yellow")
	// box edge
	assert.Equal(t, []byte{0, 255, 0}, pub.at(320, 250))
	// the source frame is not drawn on
	assert.Equal(t, make([]byte, 640*360*3), frame.Data)
}

func TestHookSkipsUnknownLayout(t *testing.T) {
	pub := &capturePublisher{}
	hook := NewHook(staticCounters{}, pub)

	hook.HandleResult(&models.Frame{Width: 10, Height: 10, Data: []byte{1}}, models.DetectionResult{CameraID: "x"})
	assert.Empty(t, pub.camera)
}

func TestCounterLabelsShowBothExitCounts(t *testing.T) {
	snap := models.CountersResponse{CountIn: 4, CountOut: 4, ActualCountOut: 6, Occupancy: 0}

	var texts []string
	for _, l := range counterLabels(snap) {
		texts = append(texts, l.text)
	}
	assert.Equal(t, []string{"IN: 4", "OUT: 4", "ACTUAL OUT: 6", "INSIDE: 0"}, texts)
}
