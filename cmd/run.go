// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nova-avionics/flightcore/internal/abortstage"
	"github.com/nova-avionics/flightcore/internal/config"
	"github.com/nova-avionics/flightcore/internal/disklog"
	flog "github.com/nova-avionics/flightcore/internal/log"
	"github.com/nova-avionics/flightcore/internal/mainloop"
	"github.com/nova-avionics/flightcore/internal/mapping"
	"github.com/nova-avionics/flightcore/internal/metrics"
	"github.com/nova-avionics/flightcore/internal/publisher"
	"github.com/nova-avionics/flightcore/internal/registry"
	"github.com/nova-avionics/flightcore/internal/sensorworker"
	"github.com/nova-avionics/flightcore/internal/sensorworker/i2cbus"
	"github.com/nova-avionics/flightcore/internal/sensorworker/spibus"
	"github.com/nova-avionics/flightcore/internal/sequence"
	"github.com/nova-avionics/flightcore/internal/transport"
	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// tickPeriod is the Main Loop's own scheduling granularity: faster than
// both the 200 Hz operator push and the 20 Hz heartbeat cadence it gates
// internally, so neither cadence is starved.
const tickPeriod = 2 * time.Millisecond

// runCmd runs the Flight Core in the foreground. It is the default and only
// long-running command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Flight Core control loop in the foreground",
	Long: `Run the Flight Core daemon process in foreground.

The daemon loads configuration and the bootstrap mapping table, opens the
board UDP transport, the operator TCP/UDP links, the sensor worker's SPI
and I2C buses, the disk logger, and the shared-memory publisher, then
drives the Main Loop until SIGTERM/SIGINT. SIGHUP reloads the mapping
table and re-arms the Abort Stage Machine's DEFAULT stage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := flog.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := slog.Default()
	log.Info("flight core starting", "flight_id", cfg.Node.FlightId,
		"hostname", cfg.Node.Hostname, "node_ip", cfg.Node.IP)

	// --mappings and --socket, when set on the command line, take priority
	// over the config file: they're operational overrides for test
	// harnesses and one-off reloads, not durable configuration.
	if rootCmd.PersistentFlags().Changed("mappings") {
		cfg.Mapping.File = mappingsFile
	}
	if socketPath != "" {
		cfg.Sequence.CommandSocketPath = socketPath
	}

	mappings, err := mapping.LoadFile(cfg.Mapping.File)
	if err != nil {
		return fmt.Errorf("load mappings: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, log)
		if err := metricsServer.Start(context.Background()); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	if err := sequence.CheckInterpreter(cfg.Sequence.Interpreter); err != nil {
		return fmt.Errorf("sequence interpreter preflight: %w", err)
	}

	reg := registry.New(cfg.Registry.TTL, cfg.Registry.HeartbeatThreshold)

	board, err := transport.NewBoardLink(cfg.Transport.BoardListenPort, cfg.Transport.BoardCommandPort, log)
	if err != nil {
		return fmt.Errorf("open board link: %w", err)
	}
	defer board.Close()

	operatorAddrs := normalizeOperatorAddrs(cfg.Transport.OperatorAddrs, cfg.Transport.OperatorTCPPort)
	operator := transport.NewOperatorLink(operatorAddrs, cfg.Transport.OperatorMonitorEnabled,
		cfg.Transport.OperatorReconnectTimeout, cfg.Transport.OperatorKeepalive, log)

	cmdSocket, err := sequence.NewCommandSocket(cfg.Sequence.CommandSocketPath, log)
	if err != nil {
		return fmt.Errorf("open sequence command socket: %w", err)
	}
	defer cmdSocket.Close()

	supervisor := sequence.New(cfg.Sequence.Interpreter, log)

	addrOf := func(id vehicle.BoardId) (net.IP, bool) {
		dev, ok := reg.Device(id)
		if !ok || dev.Addr == nil {
			return nil, false
		}
		return dev.Addr.IP, true
	}
	abortMachine := abortstage.New(board, addrOf, supervisor, log)

	pub, err := publisher.Open(cfg.Publisher.Path, cfg.Publisher.MaxRecordSize, cfg.Publisher.GracePeriod)
	if err != nil {
		return fmt.Errorf("open shared state publisher: %w", err)
	}
	defer pub.Close()

	batchTimeout, err := time.ParseDuration(cfg.DiskLog.BatchTimeout)
	if err != nil {
		return fmt.Errorf("parse disk_log.batch_timeout: %w", err)
	}
	logger, err := disklog.Open(disklog.Options{
		Directory:    cfg.DiskLog.Dir,
		MaxSizeBytes: int64(cfg.DiskLog.RotateMaxMB) * 1024 * 1024,
		ChannelSize:  cfg.DiskLog.ChannelSlots,
		BatchSize:    cfg.DiskLog.BatchSize,
		BatchTimeout: batchTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("open disk logger: %w", err)
	}
	defer logger.Close()

	var recoBuses [3]*spibus.Bus
	for i, path := range cfg.Sensor.RecoSpiPaths {
		if path == "" {
			continue
		}
		bus, err := spibus.Open(path, cfg.Sensor.RecoSpiSpeedHz)
		if err != nil {
			log.Error("failed to open reco spi bus, degrading to zeroed state", "mcu", i, "path", path, "error", err)
			continue
		}
		recoBuses[i] = bus
		defer bus.Close()
	}

	var gpsBus *i2cbus.Bus
	if cfg.Sensor.GpsI2CPath != "" {
		gpsBus, err = i2cbus.Open(cfg.Sensor.GpsI2CPath, cfg.Sensor.GpsI2CAddr)
		if err != nil {
			log.Error("failed to open gps i2c bus, gps reader disabled", "path", cfg.Sensor.GpsI2CPath, "error", err)
			gpsBus = nil
		} else {
			defer gpsBus.Close()
		}
	}

	mailbox := &sensorworker.Mailbox{}
	stateFeed := make(chan *vehicle.VehicleState, 1)
	worker := sensorworker.New(recoBuses, gpsBus, mailbox, logger, stateFeed, sensorworker.Options{
		GpsMeasurementPeriod: time.Duration(cfg.Sensor.GpsPeriodMs) * time.Millisecond,
		PrintGpsStatus:       cfg.Sensor.NoFixWarnLog,
	}, log)

	loop := mainloop.New(&mainloop.Loop{
		Registry:         reg,
		Mappings:         mappings,
		Board:            board,
		Operator:         operator,
		CmdSocket:        cmdSocket,
		Supervisor:       supervisor,
		AbortStage:       abortMachine,
		Publisher:        pub,
		Mailbox:          mailbox,
		Worker:           worker,
		Metrics:          metrics.Recorder{},
		Log:              log,
		FlightId:         cfg.Node.FlightId,
		OperatorPushPort: cfg.Transport.OperatorPushPort,
		MonitorServo:     cfg.Interlocks.MonitorServoDisconnects,

		ServoSilenceLimit:      cfg.Interlocks.ServoSilenceLimit,
		GoldfishThresholdVolts: cfg.Interlocks.GoldfishThresholdVolts,
		GoldfishGracePeriod:    cfg.Interlocks.GoldfishGracePeriod,

		AbortScriptPath:      cfg.Sequence.AbortScriptPath,
		AbortStageScriptPath: cfg.Sequence.AbortStageScript,
		CommandSocketPath:    cfg.Sequence.CommandSocketPath,
		SequenceScriptDir:    cfg.Sequence.ScriptDir,
	})
	if len(operatorAddrs) > 0 {
		if ip := resolveOperatorPushIP(operatorAddrs[0]); ip != nil {
			loop.OperatorIP = ip
		}
	}

	if err := abortMachine.OnMappingUpload(reg.All(), mappings, cfg.Sequence.AbortStageScript, cfg.Sequence.CommandSocketPath); err != nil {
		log.Error("failed to arm abort stage watchdog", "error", err)
	}

	stop := make(chan struct{})
	go worker.Run(stop)
	go runOperatorReconnectLoop(operator, log, stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	log.Info("flight core ready, entering main loop")
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.Info("received shutdown signal", "signal", sig)
				close(stop)
				supervisor.StopAll()
				log.Info("flight core stopped gracefully")
				return nil
			case syscall.SIGHUP:
				log.Info("received reload signal, reloading mappings")
				reloaded, err := mapping.LoadFile(cfg.Mapping.File)
				if err != nil {
					log.Error("mapping reload failed, keeping prior table", "error", err)
					continue
				}
				if err := loop.Mappings.Replace(reloaded.All()); err != nil {
					log.Error("mapping reload rejected", "error", err)
					continue
				}
				if err := abortMachine.OnMappingUpload(reg.All(), loop.Mappings, cfg.Sequence.AbortStageScript, cfg.Sequence.CommandSocketPath); err != nil {
					log.Error("failed to re-arm abort stage watchdog after reload", "error", err)
				}
			}
		case <-ticker.C:
			loop.Tick()
			if metricsServer != nil {
				metricsServer.Tick()
			}
			select {
			case stateFeed <- loop.State().Clone():
			default:
			}
		}
	}
}

// runOperatorReconnectLoop owns the operator TCP link's reconnect policy so
// the Main Loop never performs the blocking dial itself.
func runOperatorReconnectLoop(operator *transport.OperatorLink, log *slog.Logger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if operator.State() == transport.LinkDisabled {
			log.Info("operator link monitoring disabled, reconnect loop exiting")
			return
		}
		if !operator.Alive() {
			if err := operator.Connect(); err != nil {
				if operator.State() == transport.LinkDisabled {
					return
				}
				log.Warn("operator link connect failed, retrying", "error", err)
				select {
				case <-stop:
					return
				case <-time.After(2 * time.Second):
				}
				continue
			}
		}
		select {
		case <-stop:
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// resolveOperatorPushIP derives the operator's UDP push address from the
// first configured TCP address's host part.
func resolveOperatorPushIP(tcpAddr string) net.IP {
	host, _, err := net.SplitHostPort(tcpAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// normalizeOperatorAddrs appends the default operator TCP port to any
// configured address that lacks one.
func normalizeOperatorAddrs(addrs []string, port int) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, _, err := net.SplitHostPort(a); err != nil {
			a = net.JoinHostPort(a, fmt.Sprintf("%d", port))
		}
		out = append(out, a)
	}
	return out
}
