package qudicore

import (
	"fmt"
	"reflect"
)

// ConnectorBinder is the non-generic face of Connector[T], the counterpart
// of OptionBinder/StatusBinder for descriptors that bind to another
// module's exported interface instead of a config value or persisted
// value.
type ConnectorBinder interface {
	connectorName() string
	interfaceType() reflect.Type
	required() bool
	bind(target any) error
	bound() bool
}

// Connector is a generic descriptor that wires a module to another
// module's implementation, the Go counterpart of qudi's Connector
// class-level descriptor. T is the interface the target module must
// satisfy; Manager.Activate resolves it from the `connect:` block of the
// config, checking for cyclic graphs before any module is activated.
type Connector[T any] struct {
	name       string
	isRequired bool
	isShared   bool
	target     T
	isBound    bool
}

type connectorConfig struct {
	required bool
	shared   bool
}

type ConnectorOpt func(*connectorConfig)

// ConnectorRequired marks the connector mandatory; activation fails with
// ErrConnectorUnbound if the config's connect: block omits it.
func ConnectorRequired() ConnectorOpt { return func(c *connectorConfig) { c.required = true } }

// ConnectorShared records a "shared" flag on the connector. The manager
// does not read it: any number of dependents may bind the same target
// whether or not their connectors are marked shared.
func ConnectorShared() ConnectorOpt { return func(c *connectorConfig) { c.shared = true } }

// NewConnector declares a Connector named name requiring interface T.
func NewConnector[T any](name string, opts ...ConnectorOpt) *Connector[T] {
	cfg := connectorConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return &Connector[T]{name: name, isRequired: cfg.required, isShared: cfg.shared}
}

// Target returns the bound target, or ErrConnectorUnbound if the connector
// was declared optional and the config's connect: block never mapped it.
// Callers must check the error rather than calling through a zero-value T,
// which for a concrete pointer type is nil and panics on first method call.
func (c *Connector[T]) Target() (T, error) {
	if !c.isBound {
		var zero T
		return zero, fmt.Errorf("connector %q: %w", c.name, ErrConnectorUnbound)
	}
	return c.target, nil
}

func (c *Connector[T]) connectorName() string      { return c.name }
func (c *Connector[T]) interfaceType() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (c *Connector[T]) required() bool              { return c.isRequired }
func (c *Connector[T]) bound() bool                 { return c.isBound }

// bind assigns target to this connector after the manager has already
// verified target satisfies T; it type-asserts defensively so a
// programming error in the manager surfaces as ErrConnectorTypeMismatch
// rather than a panic.
func (c *Connector[T]) bind(target any) error {
	t, ok := target.(T)
	if !ok {
		return fmt.Errorf("connector %q: %w", c.name, ErrConnectorTypeMismatch)
	}
	c.target = t
	c.isBound = true
	return nil
}
