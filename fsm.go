package qudicore

import (
	"fmt"
	"sync"
)

// State is one of the five module lifecycle states named in spec §4.3.
type State int

const (
	StateDeactivated State = iota
	StateActivating
	StateIdle
	StateLocked
	StateDeactivating
)

func (s State) String() string {
	switch s {
	case StateDeactivated:
		return "deactivated"
	case StateActivating:
		return "activating"
	case StateIdle:
		return "idle"
	case StateLocked:
		return "locked"
	case StateDeactivating:
		return "deactivating"
	default:
		return "unknown"
	}
}

// legalTransitions encodes the FSM edges from spec §4.3:
//
//	deactivated  -> activating
//	activating   -> idle | deactivated (activation failure, I1)
//	idle         -> locked | deactivating
//	locked       -> idle                (I2: only the module itself may leave locked)
//	deactivating -> deactivated          (I3: always runs to completion)
var legalTransitions = map[State]map[State]bool{
	StateDeactivated:  {StateActivating: true},
	StateActivating:   {StateIdle: true, StateDeactivated: true},
	StateIdle:         {StateLocked: true, StateDeactivating: true},
	StateLocked:       {StateIdle: true},
	StateDeactivating: {StateDeactivated: true},
}

// StateMachine guards one module's lifecycle state. All transitions funnel
// through set(), so the legality table above is the single source of truth
// for what the manager, a module's own code, and remote callers may do.
//
// Locked is special per I2: set() does not distinguish caller identity (Go
// has no notion of "self" across a call boundary), so the manager must never
// call Lock/Unlock directly on a module it does not own; only the owning
// module's own hook code is expected to do so. The type does not attempt to
// enforce this at runtime beyond the transition table, matching module.py's
// own reliance on convention rather than a capability token.
type StateMachine struct {
	mu         sync.RWMutex
	current    State
	moduleName string
	onChange   func(from, to State)
}

func newStateMachine(moduleName string) *StateMachine {
	return &StateMachine{current: StateDeactivated, moduleName: moduleName}
}

// OnChange registers a callback invoked after every successful transition.
// Manager uses this to emit EventTypeModuleStateChanged.
func (m *StateMachine) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *StateMachine) Deactivated() bool { return m.Current() == StateDeactivated }
func (m *StateMachine) Idle() bool        { return m.Current() == StateIdle }
func (m *StateMachine) Locked() bool      { return m.Current() == StateLocked }
func (m *StateMachine) Activated() bool {
	s := m.Current()
	return s == StateIdle || s == StateLocked
}

// set performs a guarded transition, returning ErrStateTransition wrapped
// with the offending pair if the edge is not in legalTransitions.
func (m *StateMachine) set(to State) error {
	m.mu.Lock()
	from := m.current
	allowed := legalTransitions[from][to]
	if !allowed {
		m.mu.Unlock()
		return fmt.Errorf("%s: %s -> %s: %w", m.moduleName, from, to, ErrStateTransition)
	}
	m.current = to
	onChange := m.onChange
	m.mu.Unlock()
	if onChange != nil {
		onChange(from, to)
	}
	return nil
}

// Lock transitions idle -> locked. Per I2 this must only be invoked by the
// module's own hook code (e.g. from inside a long-running acquisition),
// never by the manager.
func (m *StateMachine) Lock() error { return m.set(StateLocked) }

// Unlock transitions locked -> idle, subject to the same I2 discipline as
// Lock.
func (m *StateMachine) Unlock() error { return m.set(StateIdle) }

// beginActivate transitions deactivated -> activating.
func (m *StateMachine) beginActivate() error { return m.set(StateActivating) }

// endActivate transitions activating -> idle on success, or activating ->
// deactivated on failure (I1: a module that fails to activate is left fully
// deactivated, never stuck mid-way).
func (m *StateMachine) endActivate(ok bool) error {
	if ok {
		return m.set(StateIdle)
	}
	return m.set(StateDeactivated)
}

// beginDeactivate transitions idle -> deactivating. From locked it fails
// with ErrStateTransition; the module has to unlock first.
func (m *StateMachine) beginDeactivate() error { return m.set(StateDeactivating) }

// endDeactivate transitions deactivating -> deactivated. Per I3 the caller
// must invoke this even if the module's OnDeactivate hook returned an error,
// so a failing teardown never leaves the module stuck in deactivating.
func (m *StateMachine) endDeactivate() error { return m.set(StateDeactivated) }
