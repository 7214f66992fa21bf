package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
	"kepler-linecount-go/internal/services/framebuffer"
)

// ErrResultCount means the detector did not return one result per frame
var ErrResultCount = errors.New("detector result count mismatch")

// Detector runs detection and tracking on a whole batch. It is called with at
// most one batch in flight.
type Detector interface {
	DetectBatch(ctx context.Context, batch models.BatchRequest) ([]models.DetectionResult, error)
}

// FrameHook is invoked synchronously for every frame of a successful batch,
// in batch order.
type FrameHook interface {
	HandleResult(frame *models.Frame, result models.DetectionResult)
}

// FrameHookFunc adapts a function to FrameHook
type FrameHookFunc func(frame *models.Frame, result models.DetectionResult)

func (f FrameHookFunc) HandleResult(frame *models.Frame, result models.DetectionResult) {
	f(frame, result)
}

// BatchSource hands out complete batches of buffered frames
type BatchSource interface {
	PopBatch(ctx context.Context, n int, flushAfter time.Duration) ([]models.BufferSlot, error)
}

type Options struct {
	BatchSize       int
	Workers         int
	FlushTimeout    time.Duration // 0 waits for a full batch
	DetectorTimeout time.Duration
	LatencyWindow   int

	// OnBatchError is told about every batch the detector failed. The batch
	// is dropped either way.
	OnBatchError func(batch models.BatchRequest, err error)
}

// Dispatcher drains the frame buffer in fixed size batches, sends each batch
// to the detector and routes the per-frame results to the hooks.
type Dispatcher struct {
	source   BatchSource
	detector Detector
	hooks    []FrameHook
	opts     Options
	logger   zerolog.Logger

	// assembleMu serializes batch assembly; inferMu is taken before
	// assembleMu is released so batches reach the detector in pop order.
	assembleMu sync.Mutex
	inferMu    sync.Mutex

	stats *statsRecorder
	wg    sync.WaitGroup
}

// New creates a dispatcher; call Start to launch the workers
func New(source BatchSource, detector Detector, opts Options, hooks ...FrameHook) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.LatencyWindow < 1 {
		opts.LatencyWindow = 256
	}
	return &Dispatcher{
		source:   source,
		detector: detector,
		hooks:    hooks,
		opts:     opts,
		logger:   logging.NewServiceLogger("dispatcher"),
		stats:    newStatsRecorder(opts.LatencyWindow),
	}
}

// Start launches the consumer workers. They stop when ctx is cancelled or
// the buffer is closed, after finishing the batch they hold.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().
		Int("batch_size", d.opts.BatchSize).
		Int("workers", d.opts.Workers).
		Dur("flush_timeout", d.opts.FlushTimeout).
		Msg("Starting batch dispatcher")

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// Stats returns the dispatcher counters and latency figures
func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With().Int("worker", id).Logger()

	for {
		err := d.runOnce(ctx)
		if ctx.Err() != nil {
			logger.Debug().Msg("Dispatcher worker stopped")
			return
		}
		switch {
		case errors.Is(err, framebuffer.ErrClosed):
			logger.Debug().Msg("Frame buffer closed, dispatcher worker exiting")
			return
		case errors.Is(err, framebuffer.ErrInvalidSize):
			logger.Error().Err(err).Msg("Dispatcher misconfigured, worker exiting")
			return
		}
	}
}

// runOnce assembles one batch and dispatches it
func (d *Dispatcher) runOnce(ctx context.Context) error {
	d.assembleMu.Lock()
	slots, err := d.source.PopBatch(ctx, d.opts.BatchSize, d.opts.FlushTimeout)
	if err != nil {
		d.assembleMu.Unlock()
		return err
	}
	d.inferMu.Lock()
	d.assembleMu.Unlock()
	defer d.inferMu.Unlock()

	return d.dispatch(ctx, partition(slots))
}

// partition splits a batch into the parallel frame / source / address lists
func partition(slots []models.BufferSlot) models.BatchRequest {
	batch := models.BatchRequest{
		BatchID:   uuid.NewString(),
		Frames:    make([]*models.Frame, len(slots)),
		SourceIDs: make([]string, len(slots)),
		Addresses: make([]string, len(slots)),
	}
	for i, slot := range slots {
		batch.Frames[i] = slot.Frame
		batch.SourceIDs[i] = slot.CameraID
		batch.Addresses[i] = slot.Address
	}
	return batch
}

func (d *Dispatcher) dispatch(ctx context.Context, batch models.BatchRequest) error {
	// shutdown must not abort a batch that is already assembled
	callCtx := context.WithoutCancel(ctx)
	if d.opts.DetectorTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, d.opts.DetectorTimeout)
		defer cancel()
	}

	start := time.Now()
	results, err := d.detect(callCtx, batch)
	elapsed := time.Since(start)

	if err == nil && len(results) != batch.Len() {
		err = fmt.Errorf("%w: sent %d frames, got %d results", ErrResultCount, batch.Len(), len(results))
	}
	if err != nil {
		d.stats.failed(err)
		d.logger.Error().
			Err(err).
			Str("batch_id", batch.BatchID).
			Int("batch_size", batch.Len()).
			Dur("elapsed", elapsed).
			Msg("Detector failed, dropping batch")
		if d.opts.OnBatchError != nil {
			d.opts.OnBatchError(batch, err)
		}
		return err
	}

	d.stats.succeeded(batch.Len(), elapsed)
	d.logger.Debug().
		Str("batch_id", batch.BatchID).
		Int("batch_size", batch.Len()).
		Dur("elapsed", elapsed).
		Msg("Batch processed")

	for i, frame := range batch.Frames {
		res := results[i]
		res.CameraID = batch.SourceIDs[i]
		res.Sequence = frame.Sequence
		for _, hook := range d.hooks {
			d.invoke(hook, frame, res)
		}
	}
	return nil
}

func (d *Dispatcher) detect(ctx context.Context, batch models.BatchRequest) (results []models.DetectionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return d.detector.DetectBatch(ctx, batch)
}

func (d *Dispatcher) invoke(hook FrameHook, frame *models.Frame, result models.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("camera_id", result.CameraID).
				Int64("sequence", result.Sequence).
				Interface("panic", r).
				Msg("Frame hook panic recovered")
		}
	}()
	hook.HandleResult(frame, result)
}
