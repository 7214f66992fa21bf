package camera

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
)

var errPanic = errors.New("ingestion panic")

// Options shared by every camera unit
type Options struct {
	DecimationFactor  int
	ReconnectWait     time.Duration
	JitterPct         int
	Width             int
	Height            int
	PanicRestartDelay time.Duration
}

// CameraLifecycle runs the acquisition loop of a single camera. The loop
// goroutine owns the connection and the decimation counter; mu only guards
// the stats read by the API.
type CameraLifecycle struct {
	endpoint models.CameraEndpoint
	opts     Options
	open     Opener
	resize   Resizer
	sink     FrameSink
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// loop goroutine only
	sequence int64

	mu    sync.RWMutex
	stats models.CameraResponse
}

// NewCameraLifecycle creates a stopped unit for one endpoint
func NewCameraLifecycle(endpoint models.CameraEndpoint, opts Options, open Opener, resize Resizer, sink FrameSink) *CameraLifecycle {
	if resize == nil {
		resize = PassthroughResizer
	}
	if opts.DecimationFactor < 1 {
		opts.DecimationFactor = 1
	}
	return &CameraLifecycle{
		endpoint: endpoint,
		opts:     opts,
		open:     open,
		resize:   resize,
		sink:     sink,
		logger:   logging.WithCamera(logging.NewServiceLogger("ingestion"), endpoint.Name),
		done:     make(chan struct{}),
		stats: models.CameraResponse{
			CameraID: endpoint.Name,
			URL:      endpoint.URL,
			State:    models.CameraStateStopped,
		},
	}
}

// Start launches the loop; it stops when ctx is cancelled or Stop is called
func (cl *CameraLifecycle) Start(ctx context.Context) {
	ctx, cl.cancel = context.WithCancel(ctx)
	go cl.run(ctx)
}

// Stop cancels the loop and waits for it to release the source
func (cl *CameraLifecycle) Stop(ctx context.Context) error {
	if cl.cancel != nil {
		cl.cancel()
	}
	select {
	case <-cl.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("camera %s did not stop: %w", cl.endpoint.Name, ctx.Err())
	}
}

// Done is closed once the loop has exited
func (cl *CameraLifecycle) Done() <-chan struct{} {
	return cl.done
}

// Stats returns a copy of the unit's counters
func (cl *CameraLifecycle) Stats() models.CameraResponse {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.stats
}

// State returns the current connection state
func (cl *CameraLifecycle) State() models.CameraState {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.stats.State
}

func (cl *CameraLifecycle) setState(state models.CameraState) {
	cl.mu.Lock()
	cl.stats.State = state
	if state == models.CameraStateActive {
		cl.stats.ConnectedSince = time.Now()
	}
	cl.mu.Unlock()
}

func (cl *CameraLifecycle) update(fn func(s *models.CameraResponse)) {
	cl.mu.Lock()
	fn(&cl.stats)
	cl.mu.Unlock()
}

// run retries the camera forever with a fixed wait between attempts
func (cl *CameraLifecycle) run(ctx context.Context) {
	defer close(cl.done)
	defer cl.setState(models.CameraStateStopped)

	cl.logger.Info().Str("url", cl.endpoint.URL).Msg("Starting camera ingestion")

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			cl.update(func(s *models.CameraResponse) { s.Reconnects++ })
		}

		err := cl.capture(ctx)
		if ctx.Err() != nil {
			cl.logger.Info().Msg("Camera ingestion stopped")
			return
		}

		delay := cl.backoff()
		if errors.Is(err, errPanic) && cl.opts.PanicRestartDelay > 0 {
			delay = cl.opts.PanicRestartDelay
		}

		cl.update(func(s *models.CameraResponse) {
			s.State = models.CameraStateFailed
			if err != nil {
				s.LastError = err.Error()
			}
		})
		cl.logger.Error().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("Camera failed, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// capture opens the source and pumps frames until a read fails or ctx ends.
// The source is always released before capture returns.
func (cl *CameraLifecycle) capture(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cl.logger.Error().Interface("panic", r).Msg("Camera panic recovered")
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	cl.setState(models.CameraStateConnecting)

	src, err := cl.open(ctx, cl.endpoint)
	if err != nil {
		return fmt.Errorf("open %s: %w", cl.endpoint.Name, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			cl.logger.Warn().Err(cerr).Msg("Failed to release camera")
		}
	}()

	cl.setState(models.CameraStateActive)
	cl.logger.Info().Msg("Camera connected")

	var counter int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := src.Read()
		if err != nil {
			return fmt.Errorf("read %s: %w", cl.endpoint.Name, err)
		}

		keep := counter%int64(cl.opts.DecimationFactor) == 0
		counter++
		if !keep {
			cl.update(func(s *models.CameraResponse) {
				s.FramesRead++
				s.FramesDecimated++
			})
			continue
		}

		cl.sequence++
		frame.CameraID = cl.endpoint.Name
		frame.Address = cl.endpoint.URL
		frame.Sequence = cl.sequence
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}

		resized, err := cl.resize(frame, cl.opts.Width, cl.opts.Height)
		if err != nil {
			cl.logger.Warn().Err(err).Int64("sequence", frame.Sequence).Msg("Resize failed, dropping frame")
			cl.update(func(s *models.CameraResponse) { s.FramesRead++ })
			continue
		}

		cl.sink.Push(models.NewBufferSlot(resized))
		cl.update(func(s *models.CameraResponse) {
			s.FramesRead++
			s.FramesPushed++
			s.LastFrameTime = resized.Timestamp
		})
	}
}

// backoff returns the reconnect wait with optional symmetric jitter
func (cl *CameraLifecycle) backoff() time.Duration {
	wait := cl.opts.ReconnectWait
	if cl.opts.JitterPct <= 0 || wait <= 0 {
		return wait
	}
	spread := float64(wait) * float64(cl.opts.JitterPct) / 100
	delay := time.Duration(float64(wait) + spread*(rand.Float64()*2-1))
	if delay < 0 {
		return 0
	}
	return delay
}
