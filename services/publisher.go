package services

import (
	"encoding/json"
	"fmt"
	"time"

	"neurolink/config"
	"neurolink/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// StatusPublisher mirrors supervisor telemetry onto MQTT topics so
// external dashboards can watch the link without talking to the
// desktop client. Publishing is QoS 0 fire-and-forget: a broker outage
// is logged and otherwise invisible to the supervisor.
type StatusPublisher struct {
	client      mqtt.Client
	topicPrefix string
	logger      *zap.Logger
}

// NewStatusPublisher connects to the configured broker.
func NewStatusPublisher(cfg *config.Config, logger *zap.Logger) (*StatusPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.MQTTBroker))
	opts.SetClientID("neurolink-supervisor")
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &StatusPublisher{
		client:      client,
		topicPrefix: cfg.MQTTTopicPrefix,
		logger:      logger,
	}, nil
}

// PublishStatus mirrors a reported-status change.
func (p *StatusPublisher) PublishStatus(status models.OverallStatus) {
	p.publish("status", map[string]any{
		"overall":   status,
		"timestamp": time.Now(),
	})
}

// PublishAlert mirrors a raised alert.
func (p *StatusPublisher) PublishAlert(alert models.Alert) {
	p.publish("alerts", alert)
}

func (p *StatusPublisher) publish(suffix string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("failed to marshal telemetry payload", zap.Error(err))
		return
	}
	topic := p.topicPrefix + "/" + suffix
	token := p.client.Publish(topic, 0, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.logger.Warn("telemetry publish failed",
				zap.String("topic", topic),
				zap.Error(token.Error()))
		}
	}()
}

// Close disconnects from the broker.
func (p *StatusPublisher) Close() {
	p.client.Disconnect(250)
	p.logger.Info("MQTT publisher closed")
}
