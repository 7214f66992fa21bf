package models

// Detection is one tracked object reported by the detector for a frame.
// TrackID and BBox are pointers so that entries the detector sent without
// them can be recognised and skipped.
type Detection struct {
	TrackID    *int64      `json:"track_id,omitempty"`
	BBox       *[4]float64 `json:"bbox,omitempty"`
	Confidence float64     `json:"confidence"`
	Label      string      `json:"label"`
}

// IsComplete reports whether the detection carries a track id and a box
func (d Detection) IsComplete() bool {
	return d.TrackID != nil && d.BBox != nil
}

// DetectionResult is the ordered detector output for a single frame
type DetectionResult struct {
	CameraID   string      `json:"camera_id"`
	Sequence   int64       `json:"sequence"`
	Detections []Detection `json:"detections"`
}

// BatchRequest is what the detector receives for one batch. The three
// slices are parallel and keep batch order.
type BatchRequest struct {
	BatchID   string
	Frames    []*Frame
	SourceIDs []string
	Addresses []string
}

// Len returns the number of frames in the batch
func (b BatchRequest) Len() int {
	return len(b.Frames)
}

// MessagePublisher interface for publishing messages
type MessagePublisher interface {
	Publish(subject string, data interface{}) error
}
