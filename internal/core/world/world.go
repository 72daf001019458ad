// Package world is a small entity/component store driven by a fixed
// four-phase tick: queued server events are applied first, then simulation,
// animation and UI projection systems run in that order.
//
// A World is owned by a single driver and is not safe for concurrent use.
package world

import (
	"sort"

	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/pkg/sequence"
)

type entity struct {
	id         EntityID
	components map[ComponentType]Component
}

type World struct {
	logger log.Log

	nextID   EntityID
	entities map[EntityID]*entity
	index    map[ComponentType]map[EntityID]struct{}

	systems []System
	events  *sequence.Queue[protocol.Event]

	updating bool
	ticks    uint64
}

func New(logger log.Log) *World {
	if logger == nil {
		logger = log.NewNop()
	}
	return &World{
		logger:   logger.With(log.String("component", "world")),
		nextID:   1,
		entities: make(map[EntityID]*entity),
		index:    make(map[ComponentType]map[EntityID]struct{}),
		events:   sequence.NewQueue[protocol.Event](),
	}
}

func (w *World) CreateEntity() EntityID {
	id := w.nextID
	w.nextID++
	w.entities[id] = &entity{id: id, components: make(map[ComponentType]Component)}
	w.logger.Debug("Created entity", log.Uint64("entity", uint64(id)))

	for _, s := range w.systems {
		if o, ok := s.(EntityObserver); ok {
			o.OnEntityAdded(w, id)
		}
	}
	return id
}

// RemoveEntity drops the entity and all its components. Unknown ids are
// ignored.
func (w *World) RemoveEntity(id EntityID) {
	e, ok := w.entities[id]
	if !ok {
		return
	}
	for ct := range e.components {
		w.unindex(ct, id)
	}
	delete(w.entities, id)
	w.logger.Debug("Removed entity", log.Uint64("entity", uint64(id)))

	for _, s := range w.systems {
		if o, ok := s.(EntityObserver); ok {
			o.OnEntityRemoved(w, id)
		}
	}
}

func (w *World) HasEntity(id EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

// AddComponent attaches c to id, replacing any component of the same type.
// A missing entity is logged and nothing changes.
func (w *World) AddComponent(id EntityID, c Component) {
	e, ok := w.entities[id]
	if !ok {
		w.logger.Warn("Cannot add component",
			log.Uint64("entity", uint64(id)),
			log.String("component_type", string(c.ComponentType())),
			log.Error(ErrInvalidEntityReference))
		return
	}
	ct := c.ComponentType()
	e.components[ct] = c

	set, ok := w.index[ct]
	if !ok {
		set = make(map[EntityID]struct{})
		w.index[ct] = set
	}
	set[id] = struct{}{}
}

func (w *World) RemoveComponent(id EntityID, ct ComponentType) {
	e, ok := w.entities[id]
	if !ok {
		return
	}
	if _, ok = e.components[ct]; !ok {
		return
	}
	delete(e.components, ct)
	w.unindex(ct, id)
}

func (w *World) GetComponent(id EntityID, ct ComponentType) (Component, bool) {
	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	c, ok := e.components[ct]
	return c, ok
}

func (w *World) HasComponent(id EntityID, ct ComponentType) bool {
	_, ok := w.GetComponent(id, ct)
	return ok
}

// Components returns a copy of the entity's component set.
func (w *World) Components(id EntityID) map[ComponentType]Component {
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	out := make(map[ComponentType]Component, len(e.components))
	for ct, c := range e.components {
		out[ct] = c
	}
	return out
}

// EntitiesWith returns the ids owning a component of type ct, ascending.
func (w *World) EntitiesWith(ct ComponentType) []EntityID {
	set := w.index[ct]
	ids := make([]EntityID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Entities returns every live id, ascending.
func (w *World) Entities() []EntityID {
	ids := make([]EntityID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func (w *World) EntityCount() int { return len(w.entities) }

// AddSystem registers s and re-sorts systems by phase then order. Systems
// with equal phase and order keep registration order.
func (w *World) AddSystem(s System) {
	w.systems = append(w.systems, s)
	w.sortSystems()
	w.logger.Debug("Added system",
		log.String("phase", phaseOf(s).String()),
		log.Int("order", orderOf(s)))
}

// RemoveSystem unregisters s; it reports whether s was registered.
func (w *World) RemoveSystem(s System) bool {
	for i, candidate := range w.systems {
		if candidate == s {
			w.systems = append(w.systems[:i:i], w.systems[i+1:]...)
			return true
		}
	}
	return false
}

// Systems returns the registered systems in execution order.
func (w *World) Systems() []System {
	return append([]System(nil), w.systems...)
}

// AddServerEvent queues event for the next tick's ServerEvents phase.
func (w *World) AddServerEvent(event protocol.Event) {
	if event == nil {
		return
	}
	w.events.Enqueue(event)
}

func (w *World) PendingEvents() int { return w.events.Len() }

// Ticks counts completed Update calls.
func (w *World) Ticks() uint64 { return w.ticks }

// Update runs one tick. Calls made from inside a system are rejected.
func (w *World) Update(dt float64) {
	if w.updating {
		w.logger.Error("World update re-entered from a system; ignoring")
		return
	}
	w.updating = true
	defer func() { w.updating = false }()

	w.applyServerEvents()
	w.runPhase(PhaseSimulation, dt)
	w.runPhase(PhaseAnimation, dt)
	w.runPhase(PhaseUIProjection, dt)
	w.ticks++
}

// Clear drops every entity, system and queued event and restarts ids at 1.
func (w *World) Clear() {
	w.entities = make(map[EntityID]*entity)
	w.index = make(map[ComponentType]map[EntityID]struct{})
	w.systems = nil
	w.events.Clear()
	w.nextID = 1
	w.logger.Debug("World cleared")
}

func (w *World) applyServerEvents() {
	handlers := w.phaseSystems(PhaseServerEvents)
	for {
		event, ok := w.events.Dequeue()
		if !ok {
			return
		}
		for _, s := range handlers {
			if h, ok := s.(EventHandler); ok && h.HandleEvent(w, event) {
				continue
			}
			s.Update(w, 0)
		}
	}
}

func (w *World) runPhase(phase Phase, dt float64) {
	for _, s := range w.phaseSystems(phase) {
		s.Update(w, dt)
	}
}

func (w *World) phaseSystems(phase Phase) []System {
	var out []System
	for _, s := range w.systems {
		if phaseOf(s) == phase {
			out = append(out, s)
		}
	}
	return out
}

func (w *World) sortSystems() {
	sort.SliceStable(w.systems, func(i, j int) bool {
		pi, pj := phaseOf(w.systems[i]), phaseOf(w.systems[j])
		if pi != pj {
			return pi < pj
		}
		return orderOf(w.systems[i]) < orderOf(w.systems[j])
	})
}

func (w *World) unindex(ct ComponentType, id EntityID) {
	set, ok := w.index[ct]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(w.index, ct)
	}
}

func sortIDs(ids []EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
