package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jgoulah/gridcache/internal/config"
	"github.com/jgoulah/gridcache/internal/resolver"
	"github.com/jgoulah/gridcache/pkg/models"
)

func TestNewValidatesHAConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.HAConfig
	}{
		{"missing url", config.HAConfig{Enabled: true, Token: "t", EntityID: "sensor.x"}},
		{"missing token", config.HAConfig{Enabled: true, URL: "http://ha", EntityID: "sensor.x"}},
		{"missing entity", config.HAConfig{Enabled: true, URL: "http://ha", Token: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(config.MQTTConfig{}, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := New(config.MQTTConfig{Enabled: true}, config.HAConfig{}); err == nil {
		t.Error("expected error for MQTT without broker")
	}
}

func TestPublishDisabled(t *testing.T) {
	p, err := New(config.MQTTConfig{}, config.HAConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if p.Enabled() {
		t.Error("publisher should be disabled")
	}
	if err := p.Publish(context.Background(), Snapshot{}); err == nil {
		t.Error("expected error when nothing is enabled")
	}
	if p.Topic() != "gridcache/snapshot" {
		t.Errorf("topic = %s", p.Topic())
	}
}

func TestPublishHomeAssistant(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody HAState
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p, err := New(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: srv.URL + "/", Token: "ha-token", EntityID: "sensor.amber_price"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	descriptor := "high"
	price := &resolver.Resolved[models.PriceInterval]{
		Value:  models.PriceInterval{PerKwh: 31.456, Descriptor: &descriptor},
		Source: resolver.SourceLive,
	}
	cost := &resolver.CostEstimate{CostPerHour: 15.5, PowerKW: 0.5, IsEstimated: true}
	health := resolver.HealthReport{Status: resolver.StatusOK, CheckedAt: time.Date(2025, 12, 29, 9, 42, 0, 0, time.UTC)}

	snap := NewSnapshot("site-1", price, cost, health)
	if err := p.Publish(context.Background(), snap); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if gotPath != "/api/states/sensor.amber_price" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer ha-token" {
		t.Errorf("auth = %s", gotAuth)
	}
	if gotBody.State != "31.46" {
		t.Errorf("state = %s, want 31.46", gotBody.State)
	}
	if gotBody.Attributes["descriptor"] != "high" || gotBody.Attributes["is_estimated"] != true {
		t.Errorf("attributes = %v", gotBody.Attributes)
	}
}

func TestPublishHomeAssistantError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: srv.URL, Token: "bad", EntityID: "sensor.x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Publish(context.Background(), Snapshot{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSnapshotWithoutPrice(t *testing.T) {
	snap := NewSnapshot("site-1", nil, nil, resolver.HealthReport{Status: resolver.StatusUnknown})
	if snap.PerKwh != nil || snap.CostPerHour != nil {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Status != "unknown" {
		t.Errorf("status = %s", snap.Status)
	}
}
