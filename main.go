package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neurolink/config"
	"neurolink/log"
	"neurolink/models"
	"neurolink/services"

	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration; an invalid threshold or interval refuses to start
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("NeuroLink bridge supervisor starting",
		zap.String("bridge_ws", cfg.BridgeWSURL),
		zap.String("bridge_api", cfg.BridgeAPIURL),
		zap.Float64("eeg_threshold", cfg.EEGThreshold),
		zap.Float64("ppg_threshold", cfg.PPGThreshold),
		zap.Float64("acc_threshold", cfg.ACCThreshold),
		zap.Strings("required_sensors", cfg.RequiredSensors),
	)

	supervisor := services.NewSupervisor(cfg, logger.Named("supervisor"))

	// Optional Telegram notifier for critical alerts
	var notifier *services.TelegramNotifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier, err = services.NewTelegramNotifier(cfg, logger.Named("telegram"))
		if err != nil {
			logger.Fatal("Failed to initialize Telegram notifier", zap.Error(err))
		}
		if err := notifier.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	// Optional MQTT telemetry publisher
	var publisher *services.StatusPublisher
	if cfg.MQTTBroker != "" {
		publisher, err = services.NewStatusPublisher(cfg, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("Failed to initialize MQTT publisher", zap.Error(err))
		}
		defer publisher.Close()
	}

	supervisor.OnAlert(func(alert models.Alert) {
		if publisher != nil {
			publisher.PublishAlert(alert)
		}
		if notifier != nil && alert.Level == models.AlertCritical {
			go func() {
				if err := notifier.NotifyAlert(alert); err != nil {
					logger.Error("Failed to send Telegram alert", zap.Error(err))
				}
			}()
		}
	})
	supervisor.OnStatusChange(func(status models.OverallStatus) {
		if publisher != nil {
			publisher.PublishStatus(status)
		}
		if notifier != nil {
			go func() {
				if err := notifier.NotifyStatusChange(status); err != nil {
					logger.Warn("Failed to send Telegram status update", zap.Error(err))
				}
			}()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	cleanupDone := make(chan bool, 1)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping supervisor")
		cancel()

		select {
		case <-cleanupDone:
			logger.Info("Cleanup completed successfully")
		case <-time.After(5 * time.Second):
			logger.Warn("Cleanup timeout, forcing exit")
		}

		logger.Info("NeuroLink bridge supervisor stopped")
		os.Exit(0)
	}()

	if err := supervisor.Start(ctx); err != nil {
		logger.Fatal("Failed to start supervisor", zap.Error(err))
	}

	var statusAPI *services.StatusAPI
	if cfg.StatusAPIAddr != "" {
		statusAPI = services.NewStatusAPI(cfg.StatusAPIAddr, supervisor, logger.Named("status_api"))
		statusAPI.Start()
	}

	logger.Info("Supervisor running, monitoring bridge connection")

	<-ctx.Done()

	logger.Info("Starting cleanup")
	if statusAPI != nil {
		statusAPI.Shutdown()
	}
	supervisor.Stop()
	cleanupDone <- true
}
