package models

import (
	"time"
)

// CameraState represents the connection lifecycle of a camera endpoint
type CameraState string

const (
	CameraStateConnecting CameraState = "connecting"
	CameraStateActive     CameraState = "active"
	CameraStateFailed     CameraState = "failed"
	CameraStateStopped    CameraState = "stopped"
)

// String returns the string representation of CameraState
func (cs CameraState) String() string {
	return string(cs)
}

// IsValid checks if the camera state is known
func (cs CameraState) IsValid() bool {
	switch cs {
	case CameraStateConnecting, CameraStateActive, CameraStateFailed, CameraStateStopped:
		return true
	default:
		return false
	}
}

// CameraEndpoint is one configured video source.
type CameraEndpoint struct {
	Name string
	URL  string
}

// Frame is a decoded BGR24 image taken from a camera
type Frame struct {
	CameraID  string
	Address   string
	Sequence  int64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// BufferSlot carries one frame through the shared frame buffer
type BufferSlot struct {
	Frame    *Frame
	CameraID string
	Address  string
	PushedAt time.Time
}

// NewBufferSlot wraps a frame with its source metadata
func NewBufferSlot(frame *Frame) BufferSlot {
	return BufferSlot{
		Frame:    frame,
		CameraID: frame.CameraID,
		Address:  frame.Address,
		PushedAt: time.Now(),
	}
}

// CameraResponse for API
type CameraResponse struct {
	CameraID        string      `json:"camera_id"`
	URL             string      `json:"url"`
	State           CameraState `json:"state"`
	FramesRead      int64       `json:"frames_read"`
	FramesDecimated int64       `json:"frames_decimated"`
	FramesPushed    int64       `json:"frames_pushed"`
	Reconnects      int64       `json:"reconnects"`
	LastError       string      `json:"last_error,omitempty"`
	LastFrameTime   time.Time   `json:"last_frame_time"`
	ConnectedSince  time.Time   `json:"connected_since"`
	MJPEGUrl        string      `json:"mjpeg_url,omitempty"`
}
