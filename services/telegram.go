package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"neurolink/config"
	"neurolink/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramNotifier delivers critical supervisor alerts to a Telegram
// chat. Delivery failures are logged and swallowed; the notifier can
// never affect connection state. Per-level delivery is throttled so a
// flapping link does not flood the chat (the alert log itself stays
// unthrottled).
type TelegramNotifier struct {
	bot           *tgbotapi.BotAPI
	chatID        int64
	logger        *zap.Logger
	lastSendTimes map[models.AlertLevel]time.Time
}

// NewTelegramNotifier creates and connection-tests the notifier.
func NewTelegramNotifier(cfg *config.Config, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	tn := &TelegramNotifier{
		bot:           bot,
		chatID:        chatID,
		logger:        logger,
		lastSendTimes: make(map[models.AlertLevel]time.Time),
	}

	if err := tn.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}
	return tn, nil
}

// testConnection tests Telegram connection with retry logic
func (tn *TelegramNotifier) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		tn.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := tn.bot.GetMe()
		if err == nil {
			tn.logger.Info("Telegram connection successful")
			return nil
		}

		tn.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// SendStartupMessage announces that the supervisor came up.
func (tn *TelegramNotifier) SendStartupMessage() error {
	msg := tgbotapi.NewMessage(tn.chatID,
		"🧠 <b>NeuroLink supervisor started</b>\nMonitoring the device bridge.")
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true
	if _, err := tn.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	return nil
}

// NotifyAlert delivers one alert, subject to the per-level throttle.
func (tn *TelegramNotifier) NotifyAlert(alert models.Alert) error {
	if last, ok := tn.lastSendTimes[alert.Level]; ok && time.Since(last) < 15*time.Second {
		tn.logger.Debug("Throttling telegram alert", zap.Uint64("alert_id", alert.ID))
		return nil
	}

	msg := tgbotapi.NewMessage(tn.chatID, tn.formatAlert(alert))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true
	if _, err := tn.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}

	tn.lastSendTimes[alert.Level] = time.Now()
	tn.logger.Info("Sent telegram alert",
		zap.Uint64("alert_id", alert.ID),
		zap.String("level", string(alert.Level)))
	return nil
}

// NotifyStatusChange announces recovery back to a healthy status.
func (tn *TelegramNotifier) NotifyStatusChange(status models.OverallStatus) error {
	if status != models.StatusHealthy {
		return nil
	}
	msg := tgbotapi.NewMessage(tn.chatID,
		"✅ <b>Bridge connection healthy</b>\nAll sensors streaming above threshold.")
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true
	if _, err := tn.bot.Send(msg); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}
	return nil
}

// formatAlert creates a mobile-friendly formatted message
func (tn *TelegramNotifier) formatAlert(alert models.Alert) string {
	var sb strings.Builder

	if alert.Level == models.AlertCritical {
		sb.WriteString("🚨 <b>NEUROLINK ALERT</b> 🚨\n\n")
	} else {
		sb.WriteString("⚠️ <b>NeuroLink warning</b>\n\n")
	}
	sb.WriteString(fmt.Sprintf("<b>Alert #%d</b> (%s)\n", alert.ID, alert.Level))
	sb.WriteString(fmt.Sprintf("🕐 %s\n\n", alert.Timestamp.Format("2006-01-02 15:04:05")))
	sb.WriteString(alert.Message)
	return sb.String()
}
