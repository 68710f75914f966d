package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/gridcache/internal/config"
	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/internal/resolver"
	"github.com/jgoulah/gridcache/pkg/models"
)

// Snapshot is the dashboard state pushed to MQTT and Home Assistant
type Snapshot struct {
	SiteID      string   `json:"site_id"`
	Status      string   `json:"status"`
	PerKwh      *float64 `json:"per_kwh"`
	PriceSource string   `json:"price_source,omitempty"`
	PriceStale  bool     `json:"price_stale"`
	Descriptor  string   `json:"descriptor,omitempty"`
	CostPerHour *float64 `json:"cost_per_hour"`
	UsageKW     *float64 `json:"usage_kw"`
	IsEstimated bool     `json:"is_estimated"`
	GeneratedAt string   `json:"generated_at"`
}

// NewSnapshot builds a Snapshot from whatever the resolver could answer. A
// nil price or cost leaves the matching fields empty.
func NewSnapshot(siteID string, price *resolver.Resolved[models.PriceInterval], cost *resolver.CostEstimate, health resolver.HealthReport) Snapshot {
	snap := Snapshot{
		SiteID:      siteID,
		Status:      string(health.Status),
		GeneratedAt: interval.Format(health.CheckedAt),
	}
	if price != nil {
		perKwh := price.Value.PerKwh
		snap.PerKwh = &perKwh
		snap.PriceSource = string(price.Source)
		snap.PriceStale = price.Stale
		if price.Value.Descriptor != nil {
			snap.Descriptor = *price.Value.Descriptor
		}
	}
	if cost != nil {
		costPerHour := cost.CostPerHour
		power := cost.PowerKW
		snap.CostPerHour = &costPerHour
		snap.UsageKW = &power
		snap.IsEstimated = cost.IsEstimated
	}
	return snap
}

// Publisher handles publishing to MQTT and Home Assistant
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	haConfig    config.HAConfig
	http        *http.Client
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	// Validate HA config if enabled
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
		if haCfg.EntityID == "" {
			return nil, fmt.Errorf("Home Assistant entity_id is required when enabled")
		}
	}

	var client mqtt.Client
	// Set default topic prefix if not specified
	topicPrefix := mqttCfg.TopicPrefix
	if topicPrefix == "" {
		topicPrefix = "gridcache"
	}

	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		// Configure MQTT client options
		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("gridcache")
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(false)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		// Create and connect client
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
	}

	return &Publisher{
		client:      client,
		topicPrefix: strings.TrimRight(topicPrefix, "/"),
		haConfig:    haCfg,
		http:        &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Enabled reports whether any destination is configured
func (p *Publisher) Enabled() bool {
	return p.client != nil || p.haConfig.Enabled
}

// Topic returns the MQTT topic snapshots are published to
func (p *Publisher) Topic() string {
	return p.topicPrefix + "/snapshot"
}

// Publish sends a snapshot to every enabled destination
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) error {
	if !p.Enabled() {
		return fmt.Errorf("neither MQTT nor Home Assistant publishing is enabled in config")
	}

	if p.client != nil {
		if err := p.publishMQTT(snap); err != nil {
			return err
		}
	}
	if p.haConfig.Enabled {
		if err := p.publishHA(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishMQTT(snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	// Publish retained at QoS 1
	token := p.client.Publish(p.Topic(), 1, true, body)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publishing to %s: timed out", p.Topic())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.Topic(), err)
	}
	return nil
}

// HAState matches the Home Assistant REST state payload
type HAState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func (p *Publisher) publishHA(ctx context.Context, snap Snapshot) error {
	// Build the state API URL for the entity
	apiURL := fmt.Sprintf("%s/api/states/%s", strings.TrimRight(p.haConfig.URL, "/"), p.haConfig.EntityID)

	// Create payload for Home Assistant
	state := "unavailable"
	if snap.PerKwh != nil {
		state = fmt.Sprintf("%.2f", *snap.PerKwh)
	}
	payload := HAState{
		State: state,
		Attributes: map[string]any{
			"unit_of_measurement": "c/kWh",
			"status":              snap.Status,
			"price_source":        snap.PriceSource,
			"price_stale":         snap.PriceStale,
			"descriptor":          snap.Descriptor,
			"cost_per_hour":       snap.CostPerHour,
			"usage_kw":            snap.UsageKW,
			"is_estimated":        snap.IsEstimated,
			"generated_at":        snap.GeneratedAt,
		},
	}

	// Marshal to JSON
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	// Create HTTP request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	// Send request
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// Read error response body for debugging
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
