package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kepler-linecount-go/internal/api/handlers"
	"kepler-linecount-go/internal/config"
	"kepler-linecount-go/internal/models"
	"kepler-linecount-go/internal/services/camera"
	"kepler-linecount-go/internal/services/counting"
	"kepler-linecount-go/internal/services/detection"
	"kepler-linecount-go/internal/services/dispatch"
	"kepler-linecount-go/internal/services/framebuffer"
	"kepler-linecount-go/internal/services/messaging"
	"kepler-linecount-go/internal/services/overlay"
	"kepler-linecount-go/internal/services/publisher/mjpeg"
	"kepler-linecount-go/internal/services/streamcapture"
	"kepler-linecount-go/internal/store"
)

const detectorHealthInterval = 5 * time.Second

// ServiceContainer holds all services of the counting pipeline. Store,
// Messaging, Events and MJPEG are nil when disabled.
type ServiceContainer struct {
	Config        *config.Config
	Buffer        *framebuffer.Buffer
	Counting      *counting.Engine
	Detector      *detection.Client
	Dispatcher    *dispatch.Dispatcher
	CameraManager *camera.CameraManager

	Store     *store.Store
	Messaging *messaging.Service
	Events    *messaging.EventPublisher
	MJPEG     *mjpeg.Publisher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServiceContainer wires the pipeline without starting anything
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	sc := &ServiceContainer{Config: cfg}

	buffer, err := framebuffer.New(cfg.BufferCapacity, cfg.BufferPurgeSize)
	if err != nil {
		return nil, err
	}
	sc.Buffer = buffer

	sc.Counting = counting.NewEngine(counting.Options{
		Classes:       cfg.CountClasses,
		MinConfidence: cfg.MinConfidence,
		TrackTTL:      cfg.TrackTTL,
		Cooldown:      cfg.CrossingCooldown,
	})
	for _, cam := range cfg.Cameras {
		if err := sc.Counting.Register(cam.Name, cam.Line); err != nil {
			return nil, fmt.Errorf("camera %s: %w", cam.Name, err)
		}
	}

	if cfg.StoreEnabled {
		if err := sc.openStore(); err != nil {
			sc.closeOptional()
			return nil, err
		}
	}

	if cfg.NatsEnabled {
		msg, err := messaging.NewService(cfg)
		if err != nil {
			// crossings are still counted and stored without NATS
			log.Warn().Err(err).Msg("NATS unavailable, crossing events will not be published")
		} else {
			sc.Messaging = msg
			sc.Events = messaging.NewEventPublisher(msg, cfg.NatsSubjectPrefix, cfg.WorkerID)
			sc.Counting.AddSink(sc.Events)
		}
	}

	sc.Detector, err = detection.NewClient(detection.Options{
		Endpoint: cfg.DetectorEndpoint,
		TLS:      cfg.DetectorTLS,
		Encode:   streamcapture.JPEGEncoder(cfg.JPEGQuality),
	})
	if err != nil {
		sc.closeOptional()
		return nil, err
	}

	// the overlay runs after the engine so it draws the updated counters
	hooks := []dispatch.FrameHook{sc.Counting}
	if cfg.OverlayEnabled {
		sc.MJPEG = mjpeg.NewPublisher(cfg.JPEGQuality, cfg.ProcessingWidth, cfg.ProcessingHeight)
		hooks = append(hooks, overlay.NewHook(sc.Counting, sc.MJPEG))
	}

	dispatchOpts := dispatch.Options{
		BatchSize:       cfg.BatchSize,
		Workers:         cfg.DispatchWorkers,
		FlushTimeout:    cfg.BatchFlushTimeout,
		DetectorTimeout: cfg.DetectorTimeout,
	}
	if sc.Events != nil {
		dispatchOpts.OnBatchError = sc.Events.BatchFailed
	}
	sc.Dispatcher = dispatch.New(sc.Buffer, sc.Detector, dispatchOpts, hooks...)

	sc.CameraManager = camera.NewCameraManager(camera.Options{
		DecimationFactor:  cfg.DecimationFactor,
		ReconnectWait:     cfg.ReconnectWait,
		JitterPct:         cfg.ReconnectJitterPct,
		Width:             cfg.ProcessingWidth,
		Height:            cfg.ProcessingHeight,
		PanicRestartDelay: cfg.PanicRestartDelay,
	}, streamcapture.Open, streamcapture.Resize, sc.Buffer)

	return sc, nil
}

// openStore opens the event store, restores the counters it holds and
// subscribes it to new crossings.
func (sc *ServiceContainer) openStore() error {
	st, err := store.Open(sc.Config.StorePath)
	if err != nil {
		return err
	}
	sc.Store = st

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, cam := range sc.Config.Cameras {
		counters, err := st.LoadCounters(ctx, cam.Name)
		if err != nil {
			return fmt.Errorf("restore counters of %s: %w", cam.Name, err)
		}
		if err := sc.Counting.Restore(cam.Name, counters); err != nil {
			return fmt.Errorf("restore counters of %s: %w", cam.Name, err)
		}
		if counters.CountIn > 0 || counters.ActualCountOut > 0 {
			log.Info().
				Str("camera_id", cam.Name).
				Uint64("count_in", counters.CountIn).
				Uint64("count_out", counters.CountOut).
				Uint64("occupancy", counters.Occupancy()).
				Msg("Restored counters from event store")
		}
	}
	sc.Counting.AddSink(st)
	return nil
}

// Start launches the dispatcher first so the buffer is drained as soon as
// cameras start pushing.
func (sc *ServiceContainer) Start(ctx context.Context) error {
	ctx, sc.cancel = context.WithCancel(ctx)

	sc.Detector.WaitHealthy(ctx, detectorHealthInterval)
	sc.Dispatcher.Start(ctx)

	endpoints := make([]models.CameraEndpoint, 0, len(sc.Config.Cameras))
	for _, cam := range sc.Config.Cameras {
		endpoints = append(endpoints, cam.Endpoint())
	}
	if err := sc.CameraManager.StartAll(ctx, endpoints); err != nil {
		return err
	}

	if sc.Events != nil && sc.Config.NatsStatusInterval > 0 {
		sc.wg.Add(1)
		go func() {
			defer sc.wg.Done()
			sc.Events.RunStatusLoop(ctx, sc.Config.NatsStatusInterval, sc.CameraManager.ListCameras)
		}()
	}
	return nil
}

// BufferStats implements handlers.PipelineSource
func (sc *ServiceContainer) BufferStats() framebuffer.Stats {
	return sc.Buffer.Stats()
}

// DispatcherStats implements handlers.PipelineSource
func (sc *ServiceContainer) DispatcherStats() dispatch.Stats {
	return sc.Dispatcher.Stats()
}

// HealthChecks returns one probe per external dependency
func (sc *ServiceContainer) HealthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"detector": sc.Detector.HealthCheck,
	}
	if sc.Store != nil {
		checks["store"] = sc.Store.Ping
	}
	if sc.Messaging != nil {
		checks["nats"] = func(context.Context) error {
			if !sc.Messaging.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	return checks
}

// Shutdown stops ingestion, lets the dispatcher finish the batch it holds,
// then releases the outputs.
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	var errs []error

	if sc.CameraManager != nil {
		if err := sc.CameraManager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	sc.Buffer.Close()
	if sc.cancel != nil {
		sc.cancel()
	}
	if sc.Dispatcher != nil {
		if err := sc.Dispatcher.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	sc.wg.Wait()

	if sc.MJPEG != nil {
		sc.MJPEG.Shutdown()
	}
	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Store != nil {
		if err := sc.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Detector != nil {
		if err := sc.Detector.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	buf := sc.Buffer.Stats()
	disp := sc.Dispatcher.Stats()
	log.Info().
		Uint64("frames_purged", buf.Purged).
		Int("frames_left", buf.Length).
		Uint64("batches", disp.Batches).
		Uint64("failed_batches", disp.FailedBatches).
		Msg("Pipeline stopped")

	return errors.Join(errs...)
}

// closeOptional releases what NewServiceContainer opened before failing
func (sc *ServiceContainer) closeOptional() {
	if sc.Store != nil {
		_ = sc.Store.Close()
	}
	if sc.Messaging != nil {
		_ = sc.Messaging.Shutdown(context.Background())
	}
}
