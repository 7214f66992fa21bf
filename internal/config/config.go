package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Host        string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Camera table and counting lines
	CamerasFile string
	Cameras     []CameraConfig

	// Ingestion
	DecimationFactor   int // Keep every Nth frame (1 = keep all)
	ReconnectWait      time.Duration
	ReconnectJitterPct int
	ProcessingWidth    int
	ProcessingHeight   int
	PanicRestartDelay  time.Duration

	// Shared frame buffer
	BufferCapacity  int
	BufferPurgeSize int

	// Batch dispatch
	BatchSize         int
	DispatchWorkers   int
	BatchFlushTimeout time.Duration // 0 waits for a full batch

	// Detector (gRPC)
	DetectorEndpoint string
	DetectorTimeout  time.Duration
	DetectorTLS      bool
	JPEGQuality      int

	// Counting
	CountClasses     []string
	MinConfidence    float64
	TrackTTL         time.Duration // 0 keeps tracks forever
	CrossingCooldown time.Duration

	// NATS (crossing events)
	// Default: nats://localhost:4222 (works with Docker Compose setup)
	// Docker: Use nats://nats:4222 if running worker in Docker
	NatsEnabled        bool
	NatsURL            string
	NatsSubjectPrefix  string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration
	NatsStatusInterval time.Duration

	// SQLite event store
	StoreEnabled bool
	StorePath    string

	// Overlay / MJPEG
	OverlayEnabled bool

	// HTTP
	HTTPReadHeaderTimeout time.Duration

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "linecount-1"),
		Host:        getEnv("HOST", "0.0.0.0"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		CamerasFile: getEnv("CAMERAS_FILE", "cameras.yaml"),

		// Ingestion
		DecimationFactor:   getEnvInt("DECIMATION_FACTOR", 3),
		ReconnectWait:      getEnvDuration("RECONNECT_WAIT", 10*time.Second),
		ReconnectJitterPct: getEnvInt("RECONNECT_JITTER_PCT", 0),
		ProcessingWidth:    getEnvInt("PROCESSING_WIDTH", 640),
		ProcessingHeight:   getEnvInt("PROCESSING_HEIGHT", 360),
		PanicRestartDelay:  getEnvDuration("PANIC_RESTART_DELAY", 5*time.Second),

		// Shared frame buffer
		BufferCapacity:  getEnvInt("BUFFER_CAPACITY", 2048),
		BufferPurgeSize: getEnvInt("BUFFER_PURGE_SIZE", 64),

		// Batch dispatch
		BatchSize:         getEnvInt("BATCH_SIZE", 16),
		DispatchWorkers:   getEnvInt("DISPATCH_WORKERS", 2),
		BatchFlushTimeout: getEnvDuration("BATCH_FLUSH_TIMEOUT", 0),

		// Detector
		DetectorEndpoint: getEnv("DETECTOR_ENDPOINT", "localhost:50051"),
		DetectorTimeout:  getEnvDuration("DETECTOR_TIMEOUT", 30*time.Second),
		DetectorTLS:      getEnvBool("DETECTOR_TLS", false),
		JPEGQuality:      getEnvInt("JPEG_QUALITY", 80),

		// Counting
		CountClasses:     getEnvList("COUNT_CLASSES", []string{"person"}),
		MinConfidence:    getEnvFloat("MIN_CONFIDENCE", 0),
		TrackTTL:         getEnvDuration("TRACK_TTL", 0),
		CrossingCooldown: getEnvDuration("CROSSING_COOLDOWN", 0),

		// NATS
		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getNatsURL(),
		NatsSubjectPrefix:  getEnv("NATS_SUBJECT_PREFIX", "linecount"),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),
		NatsStatusInterval: getEnvDuration("NATS_STATUS_INTERVAL", 30*time.Second),

		// SQLite event store
		StoreEnabled: getEnvBool("STORE_ENABLED", false),
		StorePath:    getEnv("STORE_PATH", "linecount.db"),

		OverlayEnabled: getEnvBool("OVERLAY_ENABLED", true),

		HTTPReadHeaderTimeout: getEnvDuration("HTTP_READ_HEADER_TIMEOUT", 10*time.Second),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable. A variable set to "*" yields
// an empty list.
func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	if strings.TrimSpace(value) == "*" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}
