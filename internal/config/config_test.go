package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadEngineConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
room:
  id: vault-room
  name: The Vault
network:
  api_port: 9090
  mqtt_url: tcp://broker:1883
  scene_pack: scenes.json
intervals:
  watch_poll_ms: 50
policies:
  allow_manual_checks: false
  strict_jumps: true
services:
  effects_url: http://effects:8080
`)

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Room.ID != "vault-room" {
		t.Errorf("expected room id 'vault-room', got '%s'", cfg.Room.ID)
	}
	if cfg.APIPort() != 9090 {
		t.Errorf("expected api port 9090, got %d", cfg.APIPort())
	}
	if cfg.Intervals.WatchPollMs != 50 {
		t.Errorf("expected watch_poll_ms 50, got %d", cfg.Intervals.WatchPollMs)
	}
	if cfg.AllowManualChecks() {
		t.Error("expected allow_manual_checks false")
	}
	if !cfg.Policies.StrictJumps {
		t.Error("expected strict_jumps true")
	}
	if cfg.Services.EffectsURL != "http://effects:8080" {
		t.Errorf("unexpected effects url '%s'", cfg.Services.EffectsURL)
	}
}

func TestDefaults(t *testing.T) {
	path := writeConfig(t, "version: 1\nroom:\n  id: vault-room\n")

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.APIPort() != 8080 {
		t.Errorf("expected default api port 8080, got %d", cfg.APIPort())
	}
	if !cfg.AllowManualChecks() {
		t.Error("expected manual checks allowed by default")
	}
	t.Setenv("MQTT_URL", "")
	if cfg.MQTTURL() != "tcp://localhost:1883" {
		t.Errorf("expected default broker url, got '%s'", cfg.MQTTURL())
	}
}

func TestMQTTURLEnvOverride(t *testing.T) {
	path := writeConfig(t, "version: 1\nnetwork:\n  mqtt_url: tcp://file:1883\n")

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	t.Setenv("MQTT_URL", "tcp://env:1883")
	if cfg.MQTTURL() != "tcp://env:1883" {
		t.Errorf("expected env override, got '%s'", cfg.MQTTURL())
	}

	t.Setenv("MQTT_URL", "")
	if cfg.MQTTURL() != "tcp://file:1883" {
		t.Errorf("expected file value, got '%s'", cfg.MQTTURL())
	}
}

func TestUnsupportedVersion(t *testing.T) {
	path := writeConfig(t, "version: 2\n")
	if _, err := LoadEngineConfig(path); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := LoadEngineConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
