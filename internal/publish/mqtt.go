// Package publish forwards confirmed events (new plates, capacity alerts)
// to an MQTT broker. Publishing is best-effort; broker trouble never blocks
// a session.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"parkstream/internal/config"
	"parkstream/internal/logger"
	"parkstream/internal/vision"
)

const connectTimeout = 10 * time.Second

// MQTTPublisher publishes plate sightings and capacity alerts under a
// configurable topic prefix.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
}

// NewMQTT connects to the broker in cfg. Returns (nil, nil) when no broker
// URL is configured so callers can wire a plain nil publisher.
func NewMQTT(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	if cfg.BrokerURL == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("publish", "connected to MQTT broker %s", cfg.BrokerURL)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("publish", "MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}

	return &MQTTPublisher{client: client, prefix: cfg.TopicPrefix}, nil
}

// PublishPlate publishes a newly sighted plate to <prefix>/plates.
func (p *MQTTPublisher) PublishPlate(plate vision.Plate) {
	p.publish(p.prefix+"/plates", map[string]any{
		"plate_number": plate.Number,
		"confidence":   plate.OCRConfidence,
		"timestamp":    time.Now().Unix(),
	})
}

// PublishCapacityAlert publishes a fired capacity alert to <prefix>/alerts.
func (p *MQTTPublisher) PublishCapacityAlert(report vision.SlotReport) {
	p.publish(p.prefix+"/alerts", map[string]any{
		"total_slots":    report.TotalSlots,
		"occupied":       report.Occupied,
		"occupancy_rate": report.OccupancyRate,
		"timestamp":      time.Now().Unix(),
	})
}

func (p *MQTTPublisher) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("publish", "marshal payload for %s: %v", topic, err)
		return
	}
	token := p.client.Publish(topic, 0, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Warn("publish", "publish to %s failed: %v", topic, err)
		}
	}()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
