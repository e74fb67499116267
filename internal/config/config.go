package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the full worker configuration, loaded from the environment with
// optional .env support. Defaults mirror the deployment this worker replaces.
type Config struct {
	// Application
	WorkerID string
	Port     int
	LogLevel string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Cameras. URLs carry credentials; names are display-only and padded
	// with "Camera - <n>" when fewer names than URLs are given.
	CameraURLs  []string
	CameraNames []string

	// Capture
	RTSPTransport        string // ffmpeg rtsp_transport, tcp for reliability
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	CaptureBufferSize    int
	CaptureFPS           int
	DetectionStride      int // run detection on every Nth frame
	IdleDelay            time.Duration
	ErrorDelay           time.Duration

	// Detection model
	ModelWeightsPath    string
	ModelConfigPath     string
	ModelNamesPath      string
	ModelInputSize      int
	ConfidenceThreshold float64
	NMSThreshold        float64

	// Tracking
	MaxDisappeared time.Duration
	MatchRadius    float64
	MaxHistory     int

	// Alerting
	NotificationCooldown time.Duration

	// Telegram
	TelegramEnabled  bool
	TelegramBotToken string
	TelegramChatID   string
	TelegramTimeout  time.Duration

	// NATS (structured alert events for downstream consumers)
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	AlertsSubject      string

	// Persistence
	ImageDir         string
	NotificationLog  string
	NotifiedSetsPath string

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

// Load builds the configuration from the environment, reading .env first when
// present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		WorkerID: getEnv("WORKER_ID", "sentry-1"),
		Port:     getEnvInt("PORT", 8000),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		CameraURLs:  getEnvList("CAMERA_URLS"),
		CameraNames: getEnvList("CAMERA_NAMES"),

		RTSPTransport:        getEnv("RTSP_TRANSPORT", "tcp"),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:       getEnvDuration("RECONNECT_DELAY", 3*time.Second),
		CaptureBufferSize:    getEnvInt("CAPTURE_BUFFER_SIZE", 10),
		CaptureFPS:           getEnvInt("CAPTURE_FPS", 15),
		DetectionStride:      getEnvInt("DETECTION_STRIDE", 5),
		IdleDelay:            getEnvDuration("IDLE_DELAY", 10*time.Millisecond),
		ErrorDelay:           getEnvDuration("ERROR_DELAY", 1*time.Second),

		ModelWeightsPath:    getEnv("MODEL_WEIGHTS", "yolov2-tiny.weights"),
		ModelConfigPath:     getEnv("MODEL_CONFIG", "yolov2-tiny.cfg"),
		ModelNamesPath:      getEnv("MODEL_NAMES", "coco.names"),
		ModelInputSize:      getEnvInt("MODEL_INPUT_SIZE", 416),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		NMSThreshold:        getEnvFloat("NMS_THRESHOLD", 0.4),

		MaxDisappeared: getEnvDuration("MAX_DISAPPEARED", 300*time.Second),
		MatchRadius:    getEnvFloat("MATCH_RADIUS", 150),
		MaxHistory:     getEnvInt("MAX_HISTORY", 40),

		NotificationCooldown: getEnvDuration("NOTIFICATION_COOLDOWN", 30*time.Second),

		TelegramEnabled:  getEnvBool("TELEGRAM_ENABLED", true),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramTimeout:  getEnvDuration("TELEGRAM_TIMEOUT", 30*time.Second),

		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1),
		AlertsSubject:      getEnv("ALERTS_SUBJECT", "sentry.alerts"),

		ImageDir:         getEnv("IMAGE_DIR", "detections"),
		NotificationLog:  getEnv("NOTIFICATION_LOG", "notifications.txt"),
		NotifiedSetsPath: getEnv("NOTIFIED_SETS_PATH", "notified_persons.json"),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate rejects configurations the worker cannot run with.
func (c *Config) Validate() error {
	if len(c.CameraURLs) == 0 {
		return fmt.Errorf("no cameras configured, set CAMERA_URLS")
	}
	if c.DetectionStride < 1 {
		return fmt.Errorf("DETECTION_STRIDE must be >= 1, got %d", c.DetectionStride)
	}
	if c.TelegramEnabled && (c.TelegramBotToken == "" || c.TelegramChatID == "") {
		return fmt.Errorf("telegram enabled but TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID missing")
	}
	return nil
}

// CameraName returns the display name for a zero-based camera index.
func (c *Config) CameraName(i int) string {
	if i < len(c.CameraNames) && c.CameraNames[i] != "" {
		return c.CameraNames[i]
	}
	return fmt.Sprintf("Camera - %d", i+1)
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

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
