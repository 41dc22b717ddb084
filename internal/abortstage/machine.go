// Package abortstage implements the Abort Stage Machine: named abort
// stages, safe-valve configuration push, and abort policy execution.
package abortstage

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nova-avionics/flightcore/internal/mapping"
	"github.com/nova-avionics/flightcore/internal/sequence"
	"github.com/nova-avionics/flightcore/internal/vehicle"
	"github.com/nova-avionics/flightcore/internal/wire"
)

// BoardSender is the subset of transport.BoardLink the Machine needs to
// push commands to boards, kept narrow so it can be faked in tests.
type BoardSender interface {
	SendCommand(ip net.IP, cmd wire.BoardCommand) error
}

// BoardAddress resolves a board id to its last-known IP, used when pushing
// abort-stage valve configs or abort commands.
type BoardAddress func(id vehicle.BoardId) (net.IP, bool)

// Machine holds the collection of named abort stages and applies the
// abort-stage command handlers against a VehicleState.
type Machine struct {
	stages map[string]vehicle.AbortStage
	sender BoardSender
	addrOf BoardAddress
	sup    *sequence.Supervisor
	log    *slog.Logger
}

// New returns a Machine seeded with the DEFAULT stage.
func New(sender BoardSender, addrOf BoardAddress, sup *sequence.Supervisor, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		stages: map[string]vehicle.AbortStage{
			vehicle.DefaultStageName: vehicle.NewDefaultAbortStage(),
		},
		sender: sender,
		addrOf: addrOf,
		sup:    sup,
		log:    log,
	}
}

// CreateAbortStage resolves each valve spec through the Mapping table to a
// (board_id, channel, powered, timer) triple and stores (or replaces) the
// named stage. Power is computed as (desired==Closed) XOR normally_closed.
func (m *Machine) CreateAbortStage(name, condition string, specs []wire.AbortStageValveSpec, table *mapping.Table) error {
	safe := make(map[vehicle.BoardId][]vehicle.ValveAction)
	for _, spec := range specs {
		mp, ok := table.ByTextId(spec.ValveTextId)
		if !ok {
			return fmt.Errorf("abortstage: unknown valve text_id %q", spec.ValveTextId)
		}
		desiredClosed := spec.Desired == wire.DesiredClosed
		powered := desiredClosed != mp.IsNormallyClosed()
		safe[mp.BoardId] = append(safe[mp.BoardId], vehicle.ValveAction{
			Channel:     mp.Channel,
			Powered:     powered,
			SafingTimer: spec.SafingTimer,
		})
	}
	m.stages[name] = vehicle.AbortStage{
		Name:            name,
		AbortCondition:  condition,
		Aborted:         false,
		ValveSafeStates: safe,
	}
	return nil
}

// SetAbortStage makes the named stage current and pushes its per-board
// safe-state table to every SAM via AbortStageValveStates.
func (m *Machine) SetAbortStage(name string, state *vehicle.VehicleState) error {
	stage, ok := m.stages[name]
	if !ok {
		return fmt.Errorf("abortstage: unknown stage %q", name)
	}
	state.AbortStage = stage

	for boardId, actions := range stage.ValveSafeStates {
		ip, ok := m.addrOf(boardId)
		if !ok {
			m.log.Warn("cannot push abort stage to unregistered board", "board", boardId)
			continue
		}
		if err := m.sender.SendCommand(ip, wire.BoardCommand{
			Tag:         wire.TagOutAbortStageValveStates,
			ValveStates: actions,
		}); err != nil {
			m.log.Error("failed to push abort stage valve states", "board", boardId, "error", err)
		}
	}
	return nil
}

// AbortViaStage kills every running sequence except AbortStage, sends every
// SAM an Abort{use_stage_timers:true}, and marks the current stage aborted.
func (m *Machine) AbortViaStage(state *vehicle.VehicleState, boards []vehicle.BoardId) {
	m.sup.StopAllExcept(sequence.AbortStageName)
	for _, boardId := range boards {
		if boardId.Role() != vehicle.RoleSam && boardId.Role() != vehicle.RoleFlightSam && boardId.Role() != vehicle.RoleGroundSam {
			continue
		}
		ip, ok := m.addrOf(boardId)
		if !ok {
			continue
		}
		if err := m.sender.SendCommand(ip, wire.BoardCommand{Tag: wire.TagOutAbort, AbortUseStageTimers: true}); err != nil {
			m.log.Error("failed to send abort", "board", boardId, "error", err)
		}
	}
	state.AbortStage.Aborted = true
}

// Abort implements the top-level Abort handler: if the current stage is
// DEFAULT, run the stored abort sequence (after killing everything else);
// otherwise it is equivalent to AbortViaStage.
func (m *Machine) Abort(state *vehicle.VehicleState, boards []vehicle.BoardId, table *mapping.Table, abortScriptPath, commandSocketPath string) error {
	if state.AbortStage.Name == vehicle.DefaultStageName {
		m.sup.StopAll()
		return m.sup.Execute(sequence.AbortName, abortScriptPath, table, commandSocketPath)
	}
	m.AbortViaStage(state, boards)
	return nil
}

// OnMappingUpload implements the reset sequence run when a new mapping
// table is uploaded: kill any running AbortStage sequence, re-create
// DEFAULT, clear stored abort config on all SAMs, and respawn the
// AbortStage supervisor sequence.
func (m *Machine) OnMappingUpload(boards []vehicle.BoardId, table *mapping.Table, abortStageScriptPath, commandSocketPath string) error {
	m.sup.Stop(sequence.AbortStageName)
	m.stages[vehicle.DefaultStageName] = vehicle.NewDefaultAbortStage()

	for _, boardId := range boards {
		ip, ok := m.addrOf(boardId)
		if !ok {
			continue
		}
		if err := m.sender.SendCommand(ip, wire.BoardCommand{Tag: wire.TagOutClearStoredAbortStage}); err != nil {
			m.log.Error("failed to clear stored abort stage", "board", boardId, "error", err)
		}
	}

	return m.sup.Execute(sequence.AbortStageName, abortStageScriptPath, table, commandSocketPath)
}

// Current returns the currently-tracked stage name/condition, used by the
// spawned AbortStage watchdog sequence's `curr_abort_condition()` call.
func (m *Machine) Current(state *vehicle.VehicleState) vehicle.AbortStage {
	return state.AbortStage
}

// EvaluateTick is the 100 Hz evaluation the spawned AbortStage sequence
// performs: call AbortViaStage when the current stage's condition holds,
// unless already aborted or the current stage is named FLIGHT.
func (m *Machine) EvaluateTick(state *vehicle.VehicleState, boards []vehicle.BoardId, conditionHolds bool) {
	if state.AbortStage.Aborted {
		return
	}
	if state.AbortStage.Name == "FLIGHT" {
		return
	}
	if !conditionHolds {
		return
	}
	m.AbortViaStage(state, boards)
}

// pollInterval is the AbortStage watchdog's evaluation cadence (100 Hz).
const pollInterval = 10 * time.Millisecond
