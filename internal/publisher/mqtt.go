package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/monthclose/internal/config"
	"github.com/jgoulah/monthclose/pkg/models"
)

const (
	qos            = 1
	publishTimeout = 10 * time.Second
)

// Publisher publishes committed settlements to an MQTT broker
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// New connects to the broker described by cfg
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "monthclose"
	}

	// Configure MQTT client options
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", err)
	}

	return newWithClient(client, cfg.TopicPrefix), nil
}

func newWithClient(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "monthclose"
	}
	return &Publisher{
		client:      client,
		topicPrefix: strings.TrimSuffix(prefix, "/"),
	}
}

// brokerURL accepts host:port or a full URL
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Payload is the retained message body for one settlement
type Payload struct {
	CycleID       string  `json:"cycle_id"`
	DeviceID      string  `json:"device_id"`
	Alias         string  `json:"alias"`
	UsageRecordID int64   `json:"usage_record_id"`
	Period        string  `json:"period"`
	BaselineKWh   float64 `json:"baseline_kwh"`
	ReadingKWh    float64 `json:"reading_kwh"`
	Accumulated   float64 `json:"accumulated_kwh"`
	FinalizedAt   string  `json:"finalized_at"`
}

// Topic returns the topic a device's settlements are published on
func (p *Publisher) Topic(deviceID string) string {
	return fmt.Sprintf("%s/%s/monthly", p.topicPrefix, deviceID)
}

// Report publishes s as a retained message
func (p *Publisher) Report(ctx context.Context, s models.Settlement) error {
	body, err := json.Marshal(Payload{
		CycleID:       s.CycleID,
		DeviceID:      s.DeviceID,
		Alias:         s.Alias,
		UsageRecordID: s.UsageRecordID,
		Period:        s.Period,
		BaselineKWh:   s.Baseline,
		ReadingKWh:    s.Reading,
		Accumulated:   s.Accumulated,
		FinalizedAt:   s.FinalizedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	topic := p.Topic(s.DeviceID)
	token := p.client.Publish(topic, qos, true, body)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
