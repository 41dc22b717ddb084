package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeTmpConfig writes a tmp YAML file and returns its path.
func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
flight:
  node:
    ip: "10.0.0.1"
    hostname: "test-host"
    flight_id: "flight-01"
  mapping:
    file: "/etc/flightcore/mappings.yml"
  transport:
    operator_addrs:
      - "10.0.0.2:5025"
  sequence:
    command_socket_path: "/tmp/sequence.sock"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "0.0.0.0:9091"
    path: "/metrics"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.IP != "10.0.0.1" {
		t.Errorf("Node.IP = %q, want 10.0.0.1", cfg.Node.IP)
	}
	if cfg.Node.Hostname != "test-host" {
		t.Errorf("Node.Hostname = %q, want test-host", cfg.Node.Hostname)
	}
	if cfg.Node.FlightId != "flight-01" {
		t.Errorf("Node.FlightId = %q, want flight-01", cfg.Node.FlightId)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}

	// Defaults applied.
	if cfg.Transport.BoardListenPort != 4573 {
		t.Errorf("Transport.BoardListenPort = %d, want 4573", cfg.Transport.BoardListenPort)
	}
	if cfg.Transport.BoardCommandPort != 8378 {
		t.Errorf("Transport.BoardCommandPort = %d, want 8378", cfg.Transport.BoardCommandPort)
	}
	if cfg.Transport.OperatorPushPort != 7201 {
		t.Errorf("Transport.OperatorPushPort = %d, want 7201", cfg.Transport.OperatorPushPort)
	}
	if cfg.Registry.TTL != 350_000_000 { // 350ms in nanoseconds
		t.Errorf("Registry.TTL = %v, want 350ms", cfg.Registry.TTL)
	}
	if cfg.Registry.HeartbeatThreshold != 20 {
		t.Errorf("Registry.HeartbeatThreshold = %d, want 20", cfg.Registry.HeartbeatThreshold)
	}
	if cfg.Interlocks.GoldfishThresholdVolts != 10.0 {
		t.Errorf("Interlocks.GoldfishThresholdVolts = %v, want 10.0", cfg.Interlocks.GoldfishThresholdVolts)
	}
	if len(cfg.Log.Outputs) != 1 || cfg.Log.Outputs[0].Type != "stdout" {
		t.Errorf("Log.Outputs = %v, want single stdout default", cfg.Log.Outputs)
	}
}

func TestLoadMissingOperatorAddrsFails(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
flight:
  mapping:
    file: "/etc/flightcore/mappings.yml"
  log:
    level: "info"
    format: "json"
`))
	if err == nil {
		t.Fatal("expected error for missing transport.operator_addrs, got nil")
	}
}

func TestLoadMissingMappingFileFails(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
flight:
  transport:
    operator_addrs:
      - "10.0.0.2:5025"
  log:
    level: "info"
    format: "json"
`))
	if err == nil {
		t.Fatal("expected error for missing mapping.file, got nil")
	}
}

func TestLoadInvalidLogLevelFails(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
flight:
  mapping:
    file: "/etc/flightcore/mappings.yml"
  transport:
    operator_addrs:
      - "10.0.0.2:5025"
  log:
    level: "verbose"
    format: "json"
`))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestLoadExplicitNodeIPSkipsAutoDetect(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
flight:
  node:
    ip: "192.168.1.50"
  mapping:
    file: "/etc/flightcore/mappings.yml"
  transport:
    operator_addrs:
      - "10.0.0.2:5025"
  log:
    level: "info"
    format: "json"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.IP != "192.168.1.50" {
		t.Errorf("Node.IP = %q, want 192.168.1.50 (explicit value must win over auto-detect)", cfg.Node.IP)
	}
}
