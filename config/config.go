package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the supervisor. Values come from the
// environment (optionally a .env file) with conservative defaults.
type Config struct {
	// Bridge endpoints
	BridgeWSURL  string
	BridgeAPIURL string

	// Health probe
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	HealthMissLimit     int

	// Reconnect policy
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int // 0 = unbounded

	// Sampling-rate estimation and streaming detection
	RateWindow      time.Duration
	SupervisorTick  time.Duration
	EEGThreshold    float64
	PPGThreshold    float64
	ACCThreshold    float64
	RequiredSensors []string
	StreamDownTicks int

	// Monitor
	HistoryCapacity         int
	HistoryMaxAge           time.Duration
	ErrorRateAlertThreshold float64

	// Local status API for the UI shell; empty disables.
	StatusAPIAddr string

	// Telegram alert notifier; empty token disables.
	TelegramBotToken string
	TelegramChatID   string

	// MQTT telemetry publisher; empty broker disables.
	MQTTBroker      string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
}

// LoadConfig reads the environment into a Config and validates it.
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		BridgeWSURL:  getEnv("BRIDGE_WS_URL", "ws://127.0.0.1:8765/ws"),
		BridgeAPIURL: getEnv("BRIDGE_API_URL", "http://127.0.0.1:8766"),

		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", time.Second),
		HealthCheckTimeout:  getEnvDuration("HEALTH_CHECK_TIMEOUT", 2*time.Second),
		HealthMissLimit:     getEnvInt("HEALTH_MISS_LIMIT", 2),

		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    getEnvDuration("RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 0),

		RateWindow:      getEnvDuration("RATE_WINDOW", time.Second),
		SupervisorTick:  getEnvDuration("SUPERVISOR_TICK", time.Second),
		EEGThreshold:    getEnvFloat("EEG_RATE_THRESHOLD", 200.0),
		PPGThreshold:    getEnvFloat("PPG_RATE_THRESHOLD", 40.0),
		ACCThreshold:    getEnvFloat("ACC_RATE_THRESHOLD", 25.0),
		RequiredSensors: getEnvList("REQUIRED_SENSORS", []string{"eeg", "ppg", "acc"}),
		StreamDownTicks: getEnvInt("STREAM_DOWN_TICKS", 2),

		HistoryCapacity:         getEnvInt("HISTORY_CAPACITY", 100),
		HistoryMaxAge:           getEnvDuration("HISTORY_MAX_AGE", 24*time.Hour),
		ErrorRateAlertThreshold: getEnvFloat("ERROR_RATE_ALERT_THRESHOLD", 0.3),

		StatusAPIAddr: getEnv("STATUS_API_ADDR", "127.0.0.1:8790"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "neurolink/telemetry"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the supervisor must not start with.
func (c *Config) Validate() error {
	if c.BridgeWSURL == "" {
		return fmt.Errorf("invalid config: BRIDGE_WS_URL must not be empty")
	}
	if c.BridgeAPIURL == "" {
		return fmt.Errorf("invalid config: BRIDGE_API_URL must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"HEALTH_CHECK_INTERVAL": c.HealthCheckInterval,
		"HEALTH_CHECK_TIMEOUT":  c.HealthCheckTimeout,
		"RECONNECT_BASE_DELAY":  c.ReconnectBaseDelay,
		"RECONNECT_MAX_DELAY":   c.ReconnectMaxDelay,
		"RATE_WINDOW":           c.RateWindow,
		"SUPERVISOR_TICK":       c.SupervisorTick,
		"HISTORY_MAX_AGE":       c.HistoryMaxAge,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", name)
		}
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("invalid config: RECONNECT_MAX_DELAY below RECONNECT_BASE_DELAY")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("invalid config: RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if c.HealthMissLimit < 1 {
		return fmt.Errorf("invalid config: HEALTH_MISS_LIMIT must be at least 1")
	}
	for name, v := range map[string]float64{
		"EEG_RATE_THRESHOLD": c.EEGThreshold,
		"PPG_RATE_THRESHOLD": c.PPGThreshold,
		"ACC_RATE_THRESHOLD": c.ACCThreshold,
	} {
		if v <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", name)
		}
	}
	if len(c.RequiredSensors) == 0 {
		return fmt.Errorf("invalid config: REQUIRED_SENSORS must name at least one sensor")
	}
	for _, s := range c.RequiredSensors {
		switch s {
		case "eeg", "ppg", "acc":
		case "battery", "bat":
			return fmt.Errorf("invalid config: battery cannot gate streaming detection")
		default:
			return fmt.Errorf("invalid config: unknown sensor %q in REQUIRED_SENSORS", s)
		}
	}
	if c.StreamDownTicks < 1 {
		return fmt.Errorf("invalid config: STREAM_DOWN_TICKS must be at least 1")
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("invalid config: HISTORY_CAPACITY must be at least 1")
	}
	if c.ErrorRateAlertThreshold <= 0 || c.ErrorRateAlertThreshold > 1 {
		return fmt.Errorf("invalid config: ERROR_RATE_ALERT_THRESHOLD must be in (0,1]")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
