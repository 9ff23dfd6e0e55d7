package qudicore

import (
	"fmt"
	"reflect"

	"github.com/golobby/cast"
)

// OptionBinder is the non-generic face of Option[T], discoverable via
// reflection without the manager needing to know T. Mirrors the narrow
// "binder" pattern used for cross-package descriptor discovery.
type OptionBinder interface {
	optionName() string
	setRaw(value any) error
	required() bool
	hasValue() bool
	defaultApplied() bool
	resetFromConfig()
}

// Option is a generic configuration-value descriptor, the Go counterpart of
// qudi's ConfigOption class-level descriptor. A module declares one
// Option[T] per config key as a struct field; the manager discovers and
// populates every Option field before a module's OnActivate hook runs.
type Option[T any] struct {
	name       string
	value      T
	haveValue  bool
	isDefault  bool
	isRequired bool
	hasDefault bool
	checker    func(T) error
	constructor func(any) (T, error)
}

// NewOption declares an Option named name. Use the With* functions to
// configure it further; an Option with neither a default nor Required() is
// optional and simply stays at T's zero value when unset.
func NewOption[T any](name string) *Option[T] {
	return &Option[T]{name: name}
}

type optionConfig[T any] func(*Option[T])

// WithDefault gives the option a default value used when the config file
// omits the key.
func WithDefault[T any](def T) optionConfig[T] {
	return func(o *Option[T]) {
		o.value = def
		o.hasDefault = true
		o.isDefault = true
	}
}

// Required marks the option as mandatory; Manager.Register fails with
// ErrOptionMissing if the config file omits it.
func Required[T any]() optionConfig[T] {
	return func(o *Option[T]) { o.isRequired = true }
}

// WithChecker attaches a validity check run after the raw config value is
// coerced to T, mirroring ConfigOption(checker=...) in option.py.
func WithChecker[T any](fn func(T) error) optionConfig[T] {
	return func(o *Option[T]) { o.checker = fn }
}

// WithConstructor overrides how a raw YAML-decoded value becomes a T,
// mirroring ConfigOption(constructor=...) for types cast can't coerce on
// its own (e.g. building a time.Duration from a unit-suffixed string).
func WithConstructor[T any](fn func(any) (T, error)) optionConfig[T] {
	return func(o *Option[T]) { o.constructor = fn }
}

// Configure applies the given optionConfig functions. Call it immediately
// after NewOption: it does not check whether the option has already been
// bound, so a WithDefault applied later replaces the current value,
// including one set from the config, and no error is returned.
func (o *Option[T]) Configure(opts ...optionConfig[T]) *Option[T] {
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// Value returns the option's current, fully resolved value.
func (o *Option[T]) Value() T { return o.value }

// IsDefault reports whether Value() is the declared default rather than a
// config-supplied override.
func (o *Option[T]) IsDefault() bool { return o.isDefault }

func (o *Option[T]) optionName() string    { return o.name }
func (o *Option[T]) required() bool        { return o.isRequired }
func (o *Option[T]) hasValue() bool        { return o.haveValue || o.hasDefault }
func (o *Option[T]) defaultApplied() bool  { return o.isDefault }
func (o *Option[T]) resetFromConfig()      { o.haveValue = false; o.isDefault = o.hasDefault }

// setRaw coerces a raw value decoded from YAML (string, int64, float64,
// bool, []any, map[string]any) into T, using the constructor if given or
// golobby/cast otherwise, then runs the checker.
func (o *Option[T]) setRaw(raw any) error {
	var v T
	var err error
	if o.constructor != nil {
		v, err = o.constructor(raw)
	} else {
		v, err = castTo[T](raw)
	}
	if err != nil {
		return fmt.Errorf("option %q: %w: %v", o.name, ErrDescriptor, err)
	}
	if o.checker != nil {
		if err := o.checker(v); err != nil {
			return fmt.Errorf("option %q: %w: %v", o.name, ErrDescriptor, err)
		}
	}
	o.value = v
	o.haveValue = true
	o.isDefault = false
	return nil
}

// castTo returns raw unchanged when it already is a T, and otherwise coerces
// it into T via golobby/cast's reflection-driven FromType.
func castTo[T any](raw any) (T, error) {
	var zero T
	if v, ok := raw.(T); ok {
		return v, nil
	}
	converted, err := cast.FromType(raw, reflect.TypeOf(zero))
	if err != nil {
		return zero, err
	}
	v, ok := converted.(T)
	if !ok {
		return zero, fmt.Errorf("no coercion from %T to %T", raw, zero)
	}
	return v, nil
}
