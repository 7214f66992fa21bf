package camera

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"kepler-linecount-go/internal/models"
)

var (
	ErrCameraExists   = errors.New("camera already running")
	ErrCameraNotFound = errors.New("camera not found")
)

// CameraManager owns one CameraLifecycle per configured source. Units share
// nothing except the frame sink, so a failing camera never affects another.
type CameraManager struct {
	opts   Options
	open   Opener
	resize Resizer
	sink   FrameSink

	cameras map[string]*CameraLifecycle
	mutex   sync.RWMutex
	wg      sync.WaitGroup
}

// NewCameraManager creates a manager with no cameras running
func NewCameraManager(opts Options, open Opener, resize Resizer, sink FrameSink) *CameraManager {
	return &CameraManager{
		opts:    opts,
		open:    open,
		resize:  resize,
		sink:    sink,
		cameras: make(map[string]*CameraLifecycle),
	}
}

// StartCamera launches ingestion for one endpoint
func (cm *CameraManager) StartCamera(ctx context.Context, endpoint models.CameraEndpoint) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if _, exists := cm.cameras[endpoint.Name]; exists {
		return fmt.Errorf("%w: %s", ErrCameraExists, endpoint.Name)
	}

	cl := NewCameraLifecycle(endpoint, cm.opts, cm.open, cm.resize, cm.sink)
	cm.cameras[endpoint.Name] = cl

	cm.wg.Add(1)
	cl.Start(ctx)
	go func() {
		defer cm.wg.Done()
		<-cl.Done()
	}()

	return nil
}

// StartAll launches every endpoint, stopping at the first duplicate
func (cm *CameraManager) StartAll(ctx context.Context, endpoints []models.CameraEndpoint) error {
	for _, ep := range endpoints {
		if err := cm.StartCamera(ctx, ep); err != nil {
			return err
		}
	}
	log.Info().Int("cameras", len(endpoints)).Msg("Camera ingestion started")
	return nil
}

// StopCamera stops and forgets one camera
func (cm *CameraManager) StopCamera(ctx context.Context, cameraID string) error {
	cm.mutex.Lock()
	cl, exists := cm.cameras[cameraID]
	if exists {
		delete(cm.cameras, cameraID)
	}
	cm.mutex.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, cameraID)
	}
	return cl.Stop(ctx)
}

// GetCamera returns the stats of one camera
func (cm *CameraManager) GetCamera(cameraID string) (models.CameraResponse, bool) {
	cm.mutex.RLock()
	cl, exists := cm.cameras[cameraID]
	cm.mutex.RUnlock()

	if !exists {
		return models.CameraResponse{}, false
	}
	return cl.Stats(), true
}

// ListCameras returns every camera ordered by id
func (cm *CameraManager) ListCameras() []models.CameraResponse {
	cm.mutex.RLock()
	out := make([]models.CameraResponse, 0, len(cm.cameras))
	for _, cl := range cm.cameras {
		out = append(out, cl.Stats())
	}
	cm.mutex.RUnlock()

	slices.SortFunc(out, func(a, b models.CameraResponse) int {
		if a.CameraID < b.CameraID {
			return -1
		}
		if a.CameraID > b.CameraID {
			return 1
		}
		return 0
	})
	return out
}

// GetStats counts cameras per state
func (cm *CameraManager) GetStats() map[models.CameraState]int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := map[models.CameraState]int{
		models.CameraStateConnecting: 0,
		models.CameraStateActive:     0,
		models.CameraStateFailed:     0,
		models.CameraStateStopped:    0,
	}
	for _, cl := range cm.cameras {
		stats[cl.State()]++
	}
	return stats
}

// Shutdown stops every camera and waits for the sources to be released
func (cm *CameraManager) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down camera manager")

	cm.mutex.Lock()
	lifecycles := make([]*CameraLifecycle, 0, len(cm.cameras))
	for _, cl := range cm.cameras {
		lifecycles = append(lifecycles, cl)
		if cl.cancel != nil {
			cl.cancel()
		}
	}
	cm.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Int("cameras", len(lifecycles)).Msg("Camera manager shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("camera shutdown: %w", ctx.Err())
	}
}
