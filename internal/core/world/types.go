package world

import (
	"errors"

	"github.com/zeusync/tablesync/internal/core/protocol"
)

// ErrInvalidEntityReference is logged when a component is attached to an
// entity that does not exist. It is never returned.
var ErrInvalidEntityReference = errors.New("invalid entity reference")

// EntityID is an opaque handle, assigned from 1 upward.
type EntityID uint64

type ComponentType string

// Component is typed data attached to an entity. Each entity holds at most
// one component per ComponentType.
type Component interface {
	ComponentType() ComponentType
}

// Phase is the tick stage a system runs in.
type Phase uint8

const (
	PhaseServerEvents Phase = iota
	PhaseSimulation
	PhaseAnimation
	PhaseUIProjection
)

func (p Phase) String() string {
	switch p {
	case PhaseServerEvents:
		return "server_events"
	case PhaseSimulation:
		return "simulation"
	case PhaseAnimation:
		return "animation"
	case PhaseUIProjection:
		return "ui_projection"
	default:
		return "unknown"
	}
}

// System is a phase-bound update unit. Systems carry no state across ticks
// that the World depends on.
type System interface {
	Update(w *World, dt float64)
}

// Phased systems choose their phase; others run in PhaseSimulation.
type Phased interface {
	Phase() Phase
}

// Ordered systems choose their position within a phase (lower first);
// others use 0.
type Ordered interface {
	Order() int
}

// EventHandler is implemented by ServerEvents systems that react to specific
// events. Returning false falls back to one generic Update(w, 0) call.
type EventHandler interface {
	HandleEvent(w *World, event protocol.Event) bool
}

// EntityObserver systems are told about entity creation and removal.
type EntityObserver interface {
	OnEntityAdded(w *World, id EntityID)
	OnEntityRemoved(w *World, id EntityID)
}

func phaseOf(s System) Phase {
	if p, ok := s.(Phased); ok {
		return p.Phase()
	}
	return PhaseSimulation
}

func orderOf(s System) int {
	if o, ok := s.(Ordered); ok {
		return o.Order()
	}
	return 0
}
