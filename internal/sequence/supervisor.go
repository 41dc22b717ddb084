// Package sequence implements the Sequence Supervisor: at-most-one-running
// script subprocess per name, and the Unix datagram command channel
// scripts use to talk back to the Flight Core.
package sequence

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/nova-avionics/flightcore/internal/mapping"
	"github.com/nova-avionics/flightcore/internal/vehicle"
)

// AbortStageName is the reserved sequence name for the always-running
// abort-condition watchdog spawned on mapping upload.
const AbortStageName = "AbortStage"

// AbortName is the reserved name for the stored abort script; it is never
// run on receipt as an ordinary sequence, only invoked by the Abort Stage
// Machine's Abort handler.
const AbortName = "abort"

// running is one supervised subprocess.
type running struct {
	cmd *exec.Cmd
}

// Supervisor maintains the name→running-subprocess map, enforcing that at
// most one subprocess per name runs at a time.
type Supervisor struct {
	mu          sync.Mutex
	sequences   map[string]*running
	interpreter string
	log         *slog.Logger
}

// New returns a Supervisor that spawns scripts via the named interpreter
// binary (e.g. "/usr/bin/flight-interpreter").
func New(interpreter string, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		sequences:   make(map[string]*running),
		interpreter: interpreter,
		log:         log,
	}
}

// isRunning reports whether the process named by name is still running,
// forgetting it if it has exited. Caller must hold mu.
func (s *Supervisor) isRunning(name string) bool {
	r, ok := s.sequences[name]
	if !ok {
		return false
	}
	if r.cmd.ProcessState != nil {
		delete(s.sequences, name)
		return false
	}
	return true
}

// Execute spawns a named script unless one by that name is already
// running, in which case it refuses. table is used to build the generated
// prelude exposing each mapping as a handle.
func (s *Supervisor) Execute(name string, scriptPath string, table *mapping.Table, commandSocketPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning(name) {
		return fmt.Errorf("sequence: %q is already running", name)
	}

	prelude := GeneratePrelude(table, commandSocketPath)
	cmd := exec.Command(s.interpreter, scriptPath)
	cmd.Stdin = strings.NewReader(prelude)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("sequence: spawn %q: %w", name, err)
	}
	s.sequences[name] = &running{cmd: cmd}

	go func() {
		if err := cmd.Wait(); err != nil {
			s.log.Warn("sequence exited with error", "name", name, "error", err)
		} else {
			s.log.Info("sequence exited", "name", name)
		}
	}()

	return nil
}

// Stop kills the named sequence's subprocess if it is still running.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning(name) {
		return nil
	}
	r := s.sequences[name]
	if err := r.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("sequence: kill %q: %w", name, err)
	}
	delete(s.sequences, name)
	return nil
}

// StopAllExcept kills every running sequence except the given name,
// matching AbortViaStage's "kill every running sequence except AbortStage"
// handler.
func (s *Supervisor) StopAllExcept(keep string) {
	s.mu.Lock()
	names := make([]string, 0, len(s.sequences))
	for name := range s.sequences {
		if name != keep {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Stop(name); err != nil {
			s.log.Warn("failed to stop sequence", "name", name, "error", err)
		}
	}
}

// StopAll kills every running sequence.
func (s *Supervisor) StopAll() {
	s.StopAllExcept("")
}

// Running reports whether a sequence by this name currently has a live
// subprocess.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning(name)
}

// GeneratePrelude builds the script prelude text that exposes each mapping
// by text_id as a handle of the appropriate kind, plus OPEN/CLOSED
// constants.
func GeneratePrelude(table *mapping.Table, commandSocketPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "COMMAND_SOCKET = %q\n", commandSocketPath)
	fmt.Fprintln(&b, "OPEN = 0")
	fmt.Fprintln(&b, "CLOSED = 1")
	if table != nil {
		for _, m := range table.All() {
			kind := "Sensor"
			if m.SensorType == vehicle.SensorValve {
				kind = "Valve"
			}
			fmt.Fprintf(&b, "%s = %s(%q)\n", identifierName(m.TextId), kind, m.TextId)
		}
	}
	return b.String()
}

// identifierName turns a text_id like "valve.mov" into a script-safe
// identifier "valve_mov".
func identifierName(textId string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(textId)
}
