package services

import (
	"time"

	"neurolink/config"

	"go.uber.org/zap"
)

// testConfig returns a config with production defaults squeezed down to
// test-friendly timings.
func testConfig() *config.Config {
	return &config.Config{
		BridgeWSURL:             "ws://127.0.0.1:8765/ws",
		BridgeAPIURL:            "http://127.0.0.1:8766",
		HealthCheckInterval:     50 * time.Millisecond,
		HealthCheckTimeout:      100 * time.Millisecond,
		HealthMissLimit:         2,
		ReconnectBaseDelay:      50 * time.Millisecond,
		ReconnectMaxDelay:       200 * time.Millisecond,
		RateWindow:              time.Second,
		SupervisorTick:          50 * time.Millisecond,
		EEGThreshold:            200,
		PPGThreshold:            40,
		ACCThreshold:            25,
		RequiredSensors:         []string{"eeg", "ppg", "acc"},
		StreamDownTicks:         2,
		HistoryCapacity:         100,
		HistoryMaxAge:           24 * time.Hour,
		ErrorRateAlertThreshold: 0.3,
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
