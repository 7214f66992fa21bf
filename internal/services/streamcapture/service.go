package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"kepler-linecount-go/internal/models"
	"kepler-linecount-go/internal/services/camera"
)

// Frames produced here carry raw BGR24 pixels in Frame.Data
const bytesPerPixel = 3

var (
	ErrReadFailed  = errors.New("failed to read frame from VideoCapture")
	ErrEmptyFrame  = errors.New("received empty frame from VideoCapture")
	ErrFrameLayout = errors.New("frame data does not match its dimensions")
)

var ffmpegOnce sync.Once

// Open connects to an RTSP/HTTP/file URL through the FFmpeg backend. A URL
// that is a plain integer opens the local capture device with that index.
func Open(ctx context.Context, endpoint models.CameraEndpoint) (camera.FrameSource, error) {
	ffmpegOnce.Do(configureFFmpegOptions)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if device, convErr := strconv.Atoi(endpoint.URL); convErr == nil {
		vc, err = gocv.OpenVideoCapture(device)
	} else {
		vc, err = gocv.OpenVideoCaptureWithAPI(endpoint.URL, gocv.VideoCaptureFFmpeg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open stream %s: %w", endpoint.Name, err)
	}

	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture is not opened for camera %s", endpoint.Name)
	}

	// Minimal buffer keeps the reader close to live
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	log.Info().
		Str("camera_id", endpoint.Name).
		Float64("actual_fps", vc.Get(gocv.VideoCaptureFPS)).
		Float64("actual_width", vc.Get(gocv.VideoCaptureFrameWidth)).
		Float64("actual_height", vc.Get(gocv.VideoCaptureFrameHeight)).
		Msg("VideoCapture opened")

	return &source{vc: vc, img: gocv.NewMat()}, nil
}

type source struct {
	vc  *gocv.VideoCapture
	img gocv.Mat
}

func (s *source) Read() (*models.Frame, error) {
	if ok := s.vc.Read(&s.img); !ok {
		return nil, ErrReadFailed
	}
	if s.img.Empty() {
		return nil, ErrEmptyFrame
	}
	return &models.Frame{
		Timestamp: time.Now(),
		Width:     s.img.Cols(),
		Height:    s.img.Rows(),
		Data:      s.img.ToBytes(),
	}, nil
}

func (s *source) Close() error {
	if err := s.img.Close(); err != nil {
		return err
	}
	return s.vc.Close()
}

// Resize scales a BGR24 frame with linear interpolation. Frames already at
// the target size are returned as they are.
func Resize(frame *models.Frame, width, height int) (*models.Frame, error) {
	if frame.Width == width && frame.Height == height {
		return frame, nil
	}

	src, err := ToMat(frame)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	out := *frame
	out.Width, out.Height = width, height
	out.Data = dst.ToBytes()
	return &out, nil
}

// JPEGEncoder returns a detector encoder producing JPEG images
func JPEGEncoder(quality int) func(frame *models.Frame) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return func(frame *models.Frame) ([]byte, error) {
		mat, err := ToMat(frame)
		if err != nil {
			return nil, err
		}
		defer mat.Close()
		return EncodeJPEG(mat, quality)
	}
}

// EncodeJPEG compresses a Mat and copies the result out of C memory
func EncodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ToMat wraps a BGR24 frame in a new Mat the caller must close
func ToMat(frame *models.Frame) (gocv.Mat, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) != frame.Width*frame.Height*bytesPerPixel {
		return gocv.Mat{}, fmt.Errorf("%w: %dx%d with %d bytes", ErrFrameLayout, frame.Width, frame.Height, len(frame.Data))
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap frame: %w", err)
	}
	return mat, nil
}

// configureFFmpegOptions sets the capture options the OpenCV FFmpeg backend
// reads from the environment
func configureFFmpegOptions() {
	if existing := os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS"); existing != "" {
		log.Info().Str("ffmpeg_options", existing).Msg("Using FFmpeg options from environment")
		return
	}

	ffmpegOptions := map[string]string{
		"rtsp_transport":      "tcp",
		"buffer_size":         "2097152",
		"max_delay":           "500000",
		"stimeout":            "5000000",
		"rw_timeout":          "5000000",
		"flags":               "low_delay",
		"fflags":              "nobuffer+flush_packets",
		"analyzeduration":     "500000",
		"probesize":           "2000000",
		"err_detect":          "careful",
		"allowed_media_types": "video",
	}
	opts := formatFFmpegOptions(ffmpegOptions)
	os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", opts)

	log.Info().Str("ffmpeg_options", opts).Msg("FFmpeg options configured for OpenCV")
}

// formatFFmpegOptions renders key;value pairs joined by |, sorted by key
func formatFFmpegOptions(options map[string]string) string {
	pairs := make([]string, 0, len(options))
	for key, value := range options {
		pairs = append(pairs, key+";"+value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "|")
}
