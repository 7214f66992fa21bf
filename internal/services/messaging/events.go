package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
)

// BatchFailure is published when the detector rejects a batch
type BatchFailure struct {
	BatchID   string    `json:"batch_id"`
	Cameras   []string  `json:"cameras"`
	Frames    int       `json:"frames"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// CameraStatus is the periodic ingestion snapshot
type CameraStatus struct {
	WorkerID  string                  `json:"worker_id"`
	Timestamp time.Time               `json:"timestamp"`
	Cameras   []models.CameraResponse `json:"cameras"`
}

// EventPublisher maps pipeline events onto subjects under one prefix:
//
//	<prefix>.crossings.<camera>  every crossing event
//	<prefix>.batches.failed      detector failures
//	<prefix>.cameras.status      periodic camera stats
type EventPublisher struct {
	pub      models.MessagePublisher
	prefix   string
	workerID string
	logger   zerolog.Logger
}

func NewEventPublisher(pub models.MessagePublisher, prefix, workerID string) *EventPublisher {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "linecount"
	}
	return &EventPublisher{
		pub:      pub,
		prefix:   prefix,
		workerID: workerID,
		logger:   logging.NewServiceLogger("events"),
	}
}

// CrossingSubject returns the subject crossing events of a camera go to
func (p *EventPublisher) CrossingSubject(cameraID string) string {
	return p.prefix + ".crossings." + subjectToken(cameraID)
}

// HandleCrossing publishes one crossing event
func (p *EventPublisher) HandleCrossing(event models.CrossingEvent) error {
	return p.pub.Publish(p.CrossingSubject(event.CameraID), event)
}

// BatchFailed reports a dropped batch. Publish errors are only logged.
func (p *EventPublisher) BatchFailed(batch models.BatchRequest, err error) {
	failure := BatchFailure{
		BatchID:   batch.BatchID,
		Cameras:   uniqueSources(batch.SourceIDs),
		Frames:    batch.Len(),
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
	if perr := p.pub.Publish(p.prefix+".batches.failed", failure); perr != nil {
		p.logger.Warn().Err(perr).Str("batch_id", batch.BatchID).Msg("Failed to publish batch failure")
	}
}

// RunStatusLoop publishes list() every interval until ctx is done
func (p *EventPublisher) RunStatusLoop(ctx context.Context, interval time.Duration, list func() []models.CameraResponse) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := CameraStatus{WorkerID: p.workerID, Timestamp: time.Now(), Cameras: list()}
			if err := p.pub.Publish(p.prefix+".cameras.status", status); err != nil {
				p.logger.Warn().Err(err).Msg("Failed to publish camera status")
			}
		}
	}
}

// subjectToken makes a camera id safe to use as a single subject token
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}

func uniqueSources(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
