package qudicore

import "fmt"

// StatusBinder is the non-generic face of Status[T], the counterpart of
// OptionBinder for descriptors backed by the per-module appdata status
// file instead of the config document.
type StatusBinder interface {
	statusName() string
	marshalRaw() (any, error)
	unmarshalRaw(any) error
	hasDefault() bool
}

// Status is a generic persisted-value descriptor, the Go counterpart of
// qudi's StatusVar class-level descriptor. Its value survives across
// deactivate/activate cycles and process restarts via the module's appdata
// YAML file (appdata.go), subject to spec §4.5's "module_default_data_dir"
// rules. representer/constructor let a module persist a value qudi's own
// StatusVar(representer=, constructor=) pair would use for a custom domain
// type that isn't directly YAML-marshalable (spec §3/§4.2); L2 requires
// constructor(representer(v)) == v for any v the module ever sets.
type Status[T any] struct {
	name        string
	value       T
	hasDefault  bool
	representer func(T) (any, error)
	constructor func(any) (T, error)
}

type statusConfig[T any] func(*Status[T])

// WithRepresenter overrides how Value() is turned into the plain any
// marshalRaw hands to the appdata store, mirroring StatusVar(representer=).
func WithRepresenter[T any](fn func(T) (any, error)) statusConfig[T] {
	return func(s *Status[T]) { s.representer = fn }
}

// WithStatusConstructor overrides how a loaded appdata value becomes a T,
// mirroring StatusVar(constructor=) for types a plain type assertion or
// yaml remarshal can't rebuild (e.g. a value object with unexported
// invariants a plain struct literal would violate).
func WithStatusConstructor[T any](fn func(any) (T, error)) statusConfig[T] {
	return func(s *Status[T]) { s.constructor = fn }
}

// NewStatus declares a Status named name with the given zero/default value.
// Loading from the appdata file (see appdata.go / Manager.loadStatuses)
// overwrites Value() before OnActivate runs; saving happens after
// OnDeactivate completes, per I3 ("status dump happens only once teardown
// has fully run").
func NewStatus[T any](name string, def T, opts ...statusConfig[T]) *Status[T] {
	s := &Status[T]{name: name, value: def, hasDefault: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Status[T]) Value() T           { return s.value }
func (s *Status[T]) Set(v T)            { s.value = v }
func (s *Status[T]) statusName() string { return s.name }
func (s *Status[T]) hasDefault() bool   { return s.hasDefault }

// marshalRaw returns the current value as a plain any suitable for
// yaml.v3 marshalling by the appdata store, running the representer first
// if the descriptor declared one.
func (s *Status[T]) marshalRaw() (any, error) {
	if s.representer != nil {
		return s.representer(s.value)
	}
	return s.value, nil
}

// unmarshalRaw turns raw (already YAML-decoded into an any tree) back into
// the status value: via the constructor if one was declared, else a direct
// type assertion, else a yaml remarshal for shapes that don't assert
// cleanly (e.g. a map[string]any decoded where T is a concrete struct).
func (s *Status[T]) unmarshalRaw(raw any) error {
	if s.constructor != nil {
		v, err := s.constructor(raw)
		if err != nil {
			return fmt.Errorf("status %q: %w: %v", s.name, ErrDescriptor, err)
		}
		s.value = v
		return nil
	}
	if v, ok := raw.(T); ok {
		s.value = v
		return nil
	}
	v, err := remarshalYAML[T](raw)
	if err != nil {
		return fmt.Errorf("status %q: %w: %v", s.name, ErrDescriptor, err)
	}
	s.value = v
	return nil
}
