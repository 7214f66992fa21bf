package mjpeg

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

const boundary = "frame"

// Publisher keeps the latest rendered JPEG per camera and streams it to any
// number of HTTP viewers as multipart/x-mixed-replace.
type Publisher struct {
	quality   int
	width     int
	height    int
	keepalive time.Duration

	jpegMutex  sync.RWMutex
	latestJPEG map[string][]byte

	// one notify channel per viewer
	notifyMutex sync.Mutex
	viewers     map[string]map[chan struct{}]struct{}

	// closed by Shutdown; ends every open stream
	done     chan struct{}
	shutdown sync.Once
}

// NewPublisher creates a publisher; width and height size the placeholder
// shown before the first frame of a camera arrives.
func NewPublisher(quality, width, height int) *Publisher {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Publisher{
		quality:    quality,
		width:      width,
		height:     height,
		keepalive:  2 * time.Second,
		latestJPEG: make(map[string][]byte),
		viewers:    make(map[string]map[chan struct{}]struct{}),
		done:       make(chan struct{}),
	}
}

// PublishMat encodes mat and makes it the current image of the camera
func (p *Publisher) PublishMat(cameraID string, mat gocv.Mat) error {
	jpeg, err := p.encode(mat)
	if err != nil {
		return err
	}
	p.PublishJPEG(cameraID, jpeg)
	return nil
}

// PublishJPEG stores an already encoded image and wakes the viewers
func (p *Publisher) PublishJPEG(cameraID string, jpeg []byte) {
	p.jpegMutex.Lock()
	p.latestJPEG[cameraID] = jpeg
	p.jpegMutex.Unlock()

	p.notifyMutex.Lock()
	for notify := range p.viewers[cameraID] {
		select {
		case notify <- struct{}{}:
		default:
		}
	}
	p.notifyMutex.Unlock()
}

// Latest returns the current image of a camera
func (p *Publisher) Latest(cameraID string) ([]byte, bool) {
	p.jpegMutex.RLock()
	defer p.jpegMutex.RUnlock()
	b, ok := p.latestJPEG[cameraID]
	return b, ok && len(b) > 0
}

// Viewers returns the number of open streams for a camera
func (p *Publisher) Viewers(cameraID string) int {
	p.notifyMutex.Lock()
	defer p.notifyMutex.Unlock()
	return len(p.viewers[cameraID])
}

func (p *Publisher) subscribe(cameraID string) chan struct{} {
	notify := make(chan struct{}, 1)
	p.notifyMutex.Lock()
	if p.viewers[cameraID] == nil {
		p.viewers[cameraID] = make(map[chan struct{}]struct{})
	}
	p.viewers[cameraID][notify] = struct{}{}
	p.notifyMutex.Unlock()
	return notify
}

func (p *Publisher) unsubscribe(cameraID string, notify chan struct{}) {
	p.notifyMutex.Lock()
	defer p.notifyMutex.Unlock()
	delete(p.viewers[cameraID], notify)
	if len(p.viewers[cameraID]) == 0 {
		delete(p.viewers, cameraID)
	}
}

func (p *Publisher) encode(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, p.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	defer buf.Close()

	b := buf.GetBytes()
	jpegCopy := make([]byte, len(b))
	copy(jpegCopy, b)
	return jpegCopy, nil
}

func (p *Publisher) placeholder(cameraID string) []byte {
	mat := gocv.NewMatWithSize(p.height, p.width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	mat.SetTo(gocv.Scalar{Val1: 64, Val2: 64, Val3: 64, Val4: 0})

	textColor := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.PutText(&mat, fmt.Sprintf("Camera: %s", cameraID),
		image.Pt(20, p.height/2), gocv.FontHersheySimplex, 1.0, textColor, 2)
	gocv.PutText(&mat, "Waiting for frames...",
		image.Pt(20, p.height/2+40), gocv.FontHersheySimplex, 0.8, textColor, 2)

	b, err := p.encode(mat)
	if err != nil {
		log.Warn().Err(err).Str("camera_id", cameraID).Msg("Failed to render MJPEG placeholder")
		return nil
	}
	return b
}

// StreamMJPEGHTTP serves the camera until the client disconnects or the
// publisher shuts down
func (p *Publisher) StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request, cameraID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	notify := p.subscribe(cameraID)
	defer p.unsubscribe(cameraID, notify)

	writePart := func(jpeg []byte) bool {
		if err := writeMultipart(w, jpeg); err != nil {
			log.Debug().Err(err).Str("camera_id", cameraID).Msg("MJPEG viewer went away")
			return false
		}
		flusher.Flush()
		return true
	}

	first, ok := p.Latest(cameraID)
	if !ok {
		first = p.placeholder(cameraID)
	}
	if len(first) > 0 && !writePart(first) {
		return
	}

	keepaliveTicker := time.NewTicker(p.keepalive)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-notify:
		case <-keepaliveTicker.C:
		}
		if buf, ok := p.Latest(cameraID); ok {
			if !writePart(buf) {
				return
			}
		}
	}
}

func writeMultipart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// Shutdown ends every open stream. http.Server.Shutdown does not cancel
// running requests, so it must run before or alongside it. Safe to call twice.
func (p *Publisher) Shutdown() {
	p.shutdown.Do(func() {
		log.Info().Msg("MJPEG Publisher shutting down")
		close(p.done)
	})
}
