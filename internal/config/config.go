// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration for the Flight Core.
// Maps to the `flight:` root key in YAML.
type GlobalConfig struct {
	Node       NodeConfig       `mapstructure:"node"`
	Mapping    MappingConfig    `mapstructure:"mapping"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Sensor     SensorConfig     `mapstructure:"sensor"`
	DiskLog    DiskLogConfig    `mapstructure:"disk_log"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Sequence   SequenceConfig   `mapstructure:"sequence"`
	Interlocks InterlocksConfig `mapstructure:"interlocks"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig identifies this Flight Core instance to boards and the
// operator console.
type NodeConfig struct {
	IP       string `mapstructure:"ip"`       // Empty = auto-detect
	Hostname string `mapstructure:"hostname"` // Empty = os.Hostname()
	FlightId string `mapstructure:"flight_id"`
}

// ─── Mapping ───

// MappingConfig points at the bootstrap mapping-table file.
type MappingConfig struct {
	File string `mapstructure:"file"`
}

// ─── Transport ───

// TransportConfig configures the board UDP link and the operator TCP/UDP
// links.
type TransportConfig struct {
	BoardListenPort   int           `mapstructure:"board_listen_port"`
	BoardCommandPort  int           `mapstructure:"board_command_port"`
	OperatorPushPort  int           `mapstructure:"operator_push_port"`
	OperatorTCPPort   int           `mapstructure:"operator_tcp_port"`
	OperatorAddrs     []string      `mapstructure:"operator_addrs"`
	OperatorKeepalive time.Duration `mapstructure:"operator_keepalive"`

	// OperatorMonitorEnabled distinguishes "give up reconnecting forever
	// after the first failure" (false) from "keep retrying with
	// OperatorReconnectTimeout per attempt" (true).
	OperatorMonitorEnabled   bool          `mapstructure:"operator_monitor_enabled"`
	OperatorReconnectTimeout time.Duration `mapstructure:"operator_reconnect_timeout"`
}

// ─── Registry ───

// RegistryConfig configures liveness/heartbeat tracking.
type RegistryConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	HeartbeatThreshold uint32        `mapstructure:"heartbeat_threshold"`
}

// ─── Sensor Worker ───

// SensorConfig configures the 200 Hz/20 Hz sensor worker.
type SensorConfig struct {
	RecoSpiPaths   [3]string `mapstructure:"reco_spi_paths"`
	RecoSpiSpeedHz uint32    `mapstructure:"reco_spi_speed_hz"`
	GpsI2CPath     string    `mapstructure:"gps_i2c_path"`
	GpsI2CAddr     uint16    `mapstructure:"gps_i2c_addr"`
	GpsPeriodMs    uint16    `mapstructure:"gps_period_ms"`
	NoFixWarnLog   bool      `mapstructure:"no_fix_warn_log"`
}

// ─── Disk Logger ───

// DiskLogConfig configures the rotating binary state recorder.
type DiskLogConfig struct {
	Dir          string `mapstructure:"dir"`
	ChannelSlots int    `mapstructure:"channel_slots"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout string `mapstructure:"batch_timeout"`
	RotateMaxMB  int    `mapstructure:"rotate_max_mb"`
}

// ─── Shared State Publisher ───

// PublisherConfig configures the shared-memory VehicleState mirror.
type PublisherConfig struct {
	Path          string        `mapstructure:"path"`
	MaxRecordSize int           `mapstructure:"max_record_size"`
	GracePeriod   time.Duration `mapstructure:"grace_period"`
}

// ─── Sequence Supervisor ───

// SequenceConfig configures the script interpreter and command socket.
type SequenceConfig struct {
	Interpreter       string `mapstructure:"interpreter"`
	CommandSocketPath string `mapstructure:"command_socket_path"`
	AbortScriptPath   string `mapstructure:"abort_script_path"`
	AbortStageScript  string `mapstructure:"abort_stage_script_path"`

	// ScriptDir resolves an operator-supplied sequence name to its script
	// path (ScriptDir/<name>.script) for CmdRunSequence, the same
	// convention abort_script_path and abort_stage_script_path already use
	// for the two reserved sequence names.
	ScriptDir string `mapstructure:"script_dir"`
}

// ─── Safety Interlocks ───

// InterlocksConfig configures the servo-LoC and Goldfish interlocks.
type InterlocksConfig struct {
	MonitorServoDisconnects bool          `mapstructure:"monitor_servo_disconnects"`
	ServoSilenceLimit       time.Duration `mapstructure:"servo_silence_limit"`
	GoldfishThresholdVolts  float64       `mapstructure:"goldfish_threshold_volts"`
	GoldfishGracePeriod     time.Duration `mapstructure:"goldfish_grace_period"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string         `mapstructure:"level"`  // debug / info / warn / error
	Format  string         `mapstructure:"format"` // json / text
	Outputs []OutputConfig `mapstructure:"outputs"`
}

// OutputConfig describes one structured-log destination.
type OutputConfig struct {
	Type       string `mapstructure:"type"` // "stdout" | "file"
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type configRoot struct {
	Flight GlobalConfig `mapstructure:"flight"`
}

// Load loads configuration from file. The YAML file uses `flight:` as its
// root key; env vars use the FLIGHT_ prefix (e.g. FLIGHT_LOG_LEVEL) via the
// `.`→`_` key replacer.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Flight

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets the protocol's well-known ports and timing constants.
func setDefaults(v *viper.Viper) {
	v.SetDefault("flight.transport.board_listen_port", 4573)
	v.SetDefault("flight.transport.board_command_port", 8378)
	v.SetDefault("flight.transport.operator_push_port", 7201)
	v.SetDefault("flight.transport.operator_tcp_port", 5025)
	v.SetDefault("flight.transport.operator_keepalive", "1s")
	v.SetDefault("flight.transport.operator_monitor_enabled", true)
	v.SetDefault("flight.transport.operator_reconnect_timeout", "2s")

	v.SetDefault("flight.registry.ttl", "350ms")
	v.SetDefault("flight.registry.heartbeat_threshold", 20)

	v.SetDefault("flight.sensor.reco_spi_speed_hz", 1000000)
	v.SetDefault("flight.sensor.gps_period_ms", 50)
	v.SetDefault("flight.sensor.no_fix_warn_log", false)

	v.SetDefault("flight.disk_log.dir", "/var/lib/flightcore/log")
	v.SetDefault("flight.disk_log.channel_slots", 500)
	v.SetDefault("flight.disk_log.batch_timeout", "500ms")
	v.SetDefault("flight.disk_log.rotate_max_mb", 100)

	v.SetDefault("flight.publisher.path", "/dev/shm/flightcore.state")
	v.SetDefault("flight.publisher.max_record_size", 65536)
	v.SetDefault("flight.publisher.grace_period", "20ms")

	v.SetDefault("flight.sequence.interpreter", "/usr/bin/env")
	v.SetDefault("flight.sequence.command_socket_path", "/var/run/flightcore/sequence.sock")
	v.SetDefault("flight.sequence.script_dir", "/etc/flightcore/sequences")

	v.SetDefault("flight.interlocks.monitor_servo_disconnects", true)
	v.SetDefault("flight.interlocks.servo_silence_limit", "1s")
	v.SetDefault("flight.interlocks.goldfish_threshold_volts", 10.0)
	v.SetDefault("flight.interlocks.goldfish_grace_period", "25m")

	v.SetDefault("flight.metrics.enabled", true)
	v.SetDefault("flight.metrics.listen", ":9091")
	v.SetDefault("flight.metrics.path", "/metrics")

	v.SetDefault("flight.log.level", "info")
	v.SetDefault("flight.log.format", "json")
}

// ValidateAndApplyDefaults validates configuration and resolves the node
// hostname/IP (the same auto-detect contract the node identity needs
// regardless of domain).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if len(cfg.Log.Outputs) == 0 {
		cfg.Log.Outputs = []OutputConfig{{Type: "stdout"}}
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}
	if cfg.Node.FlightId == "" {
		cfg.Node.FlightId = "flight-01"
	}

	resolvedIP, err := resolveNodeIP(&cfg.Node)
	if err != nil {
		return err
	}
	cfg.Node.IP = resolvedIP

	if len(cfg.Transport.OperatorAddrs) == 0 {
		return fmt.Errorf("transport.operator_addrs is required (at least one operator TCP address)")
	}
	if cfg.Mapping.File == "" {
		return fmt.Errorf("mapping.file is required (bootstrap mapping table path)")
	}

	return nil
}

// resolveNodeIP resolves the node's own IP: explicit value first, else the
// first non-loopback, non-link-local IPv4 address.
func resolveNodeIP(node *NodeConfig) (string, error) {
	if node.IP != "" {
		return node.IP, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set FLIGHT_NODE_IP or flight.node.ip")
}
