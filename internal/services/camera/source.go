package camera

import (
	"context"

	"kepler-linecount-go/internal/models"
)

// FrameSource is an open connection to one camera
type FrameSource interface {
	// Read blocks until the next decoded frame is available
	Read() (*models.Frame, error)
	Close() error
}

// Opener connects to a camera endpoint
type Opener func(ctx context.Context, endpoint models.CameraEndpoint) (FrameSource, error)

// Resizer scales a frame to the processing resolution
type Resizer func(frame *models.Frame, width, height int) (*models.Frame, error)

// FrameSink accepts frames that survived decimation. Push must not block.
type FrameSink interface {
	Push(slot models.BufferSlot)
}

// PassthroughResizer returns frames untouched
func PassthroughResizer(frame *models.Frame, _, _ int) (*models.Frame, error) {
	return frame, nil
}
