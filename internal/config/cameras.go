package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"kepler-linecount-go/internal/models"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// CameraConfig is one row of the camera table
type CameraConfig struct {
	Name string              `yaml:"name"`
	URL  string              `yaml:"url"`
	Line models.CountingLine `yaml:"line"`
}

// Endpoint returns the connection half of the row
func (c CameraConfig) Endpoint() models.CameraEndpoint {
	return models.CameraEndpoint{Name: c.Name, URL: c.URL}
}

type camerasFile struct {
	Cameras []CameraConfig `yaml:"cameras"`
}

// LoadCameras reads the camera table from a YAML file
func LoadCameras(path string) ([]CameraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read camera table %s: %w", path, err)
	}
	cameras, err := ParseCameras(data)
	if err != nil {
		return nil, fmt.Errorf("parse camera table %s: %w", path, err)
	}
	return cameras, nil
}

// ParseCameras decodes a camera table, rejecting unknown keys
func ParseCameras(data []byte) ([]CameraConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file camerasFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	for i := range file.Cameras {
		if file.Cameras[i].Line.Axis == "" {
			file.Cameras[i].Line.Axis = models.AxisAuto
		}
	}
	return file.Cameras, nil
}

// Validate checks the pipeline settings and the camera table together
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.BatchSize <= 0 {
		add("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.BufferPurgeSize <= 0 || c.BufferCapacity <= c.BufferPurgeSize {
		add("need BUFFER_CAPACITY > BUFFER_PURGE_SIZE > 0, got %d and %d", c.BufferCapacity, c.BufferPurgeSize)
	}
	if c.BatchSize > c.BufferCapacity {
		add("BATCH_SIZE %d exceeds BUFFER_CAPACITY %d", c.BatchSize, c.BufferCapacity)
	}
	if c.DecimationFactor < 1 {
		add("DECIMATION_FACTOR must be at least 1, got %d", c.DecimationFactor)
	}
	if c.ReconnectWait <= 0 {
		add("RECONNECT_WAIT must be positive, got %s", c.ReconnectWait)
	}
	if c.ReconnectJitterPct < 0 || c.ReconnectJitterPct > 100 {
		add("RECONNECT_JITTER_PCT must be within 0-100, got %d", c.ReconnectJitterPct)
	}
	if c.ProcessingWidth <= 0 || c.ProcessingHeight <= 0 {
		add("processing resolution must be positive, got %dx%d", c.ProcessingWidth, c.ProcessingHeight)
	}
	if c.DispatchWorkers < 1 {
		add("DISPATCH_WORKERS must be at least 1, got %d", c.DispatchWorkers)
	}
	if c.BatchFlushTimeout < 0 {
		add("BATCH_FLUSH_TIMEOUT must not be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		add("MIN_CONFIDENCE must be within [0,1], got %g", c.MinConfidence)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		add("JPEG_QUALITY must be within 1-100, got %d", c.JPEGQuality)
	}
	if strings.TrimSpace(c.DetectorEndpoint) == "" {
		add("DETECTOR_ENDPOINT is required")
	}

	if len(c.Cameras) == 0 {
		add("camera table is empty")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		switch {
		case cam.Name == "":
			add("camera #%d has no name", i)
		case seen[cam.Name]:
			add("camera %q listed twice", cam.Name)
		}
		seen[cam.Name] = true

		if cam.URL == "" {
			add("camera %q has no url", cam.Name)
		}
		if cam.Line.IsDegenerate() {
			add("camera %q counting line has identical endpoints", cam.Name)
		}
		if !cam.Line.Axis.IsValid() {
			add("camera %q has unknown axis %q", cam.Name, cam.Line.Axis)
		}
	}

	return errors.Join(errs...)
}
