package qudicore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Kind is a module's position in the three-layer hierarchy: hardware
// drivers, measurement logic, graphical interfaces. It fixes the module's
// default threading behavior and its permitted connection direction.
type Kind string

const (
	KindHardware Kind = "hardware"
	KindLogic    Kind = "logic"
	KindGUI      Kind = "gui"
)

func (k Kind) valid() bool {
	switch k {
	case KindHardware, KindLogic, KindGUI:
		return true
	default:
		return false
	}
}

// defaultThreaded returns the class-level threading default per spec §4.3:
// logic modules default true, GUI and hardware modules default false.
func (k Kind) defaultThreaded() bool {
	return k == KindLogic
}

// Hooks is implemented by every user module. The manager calls
// OnActivate/OnDeactivate on the goroutine that requested the transition;
// for a threaded module it acquires the module's named worker thread but
// does not dispatch the hooks onto it.
type Hooks interface {
	OnActivate(ctx context.Context) error
	OnDeactivate(ctx context.Context) error
}

// Shower is the Show method a GUI module can provide, mirroring
// GuiBase.show() in module.py. The manager neither calls it nor requires it
// of modules registered under the "gui" section.
type Shower interface {
	Show() error
}

// ThreadOverride describes a Threaded method, matching the class attribute
// `_threaded` in module.py. Every module embedding Base already has one:
// Base.Threaded() returns the flag passed to InitBase, and the manager
// consults only that method, not the kind's defaultThreaded.
type ThreadOverride interface {
	Threaded() bool
}

// url mirrors module_url() in module.py: "<implementation_ref>.<class
// name>::<config name>", the unique identity string for a module type
// bound to a config name.
func url(implementationRef, className, name string) string {
	return fmt.Sprintf("%s.%s::%s", implementationRef, className, name)
}

// threadName mirrors module_thread_name() in module.py.
func threadName(kind Kind, name string) string {
	return fmt.Sprintf("mod-%s-%s", kind, name)
}

var (
	urlUUIDs   = map[string]uuid.UUID{}
	urlUUIDsMu sync.Mutex
)

// uuidForURL returns a stable UUID for a given module URL, generating one
// on first use. This mirrors module.py's Base.__url_uuid_map: the same
// module URL always yields the same UUID within a process lifetime, even
// across reload cycles that reconstruct the instance.
func uuidForURL(moduleURL string) uuid.UUID {
	urlUUIDsMu.Lock()
	defer urlUUIDsMu.Unlock()
	if id, ok := urlUUIDs[moduleURL]; ok {
		return id
	}
	id := uuid.New()
	urlUUIDs[moduleURL] = id
	return id
}

// Base is embedded by every qudi module implementation. It carries the
// read-only identity/meta fields named in spec §4.3: name, kind, uuid,
// threaded, default data dir, module-scoped logger, and the FSM handle.
//
// Base does not itself satisfy Hooks; concrete module types embed Base and
// implement OnActivate/OnDeactivate themselves, mirroring module.py's
// abstractmethod pair.
type Base struct {
	name            string
	kind            Kind
	implementation  string
	class           string
	url             string
	uuid            uuid.UUID
	threaded        bool
	defaultDataRoot string
	log             *Logger
	state           *StateMachine
}

// InitBase must be called from a module implementation's constructor
// before the instance is handed to the manager. It mirrors Base.__init__
// in module.py: it resolves the stable per-URL UUID, fixes the threading
// flag, and wires the state machine.
func InitBase(name string, kind Kind, implementationRef, className string, threaded bool, dataRoot string, log *Logger) Base {
	moduleURL := url(implementationRef, className, name)
	b := Base{
		name:            name,
		kind:            kind,
		implementation:  implementationRef,
		class:           className,
		url:             moduleURL,
		uuid:            uuidForURL(moduleURL),
		threaded:        threaded,
		defaultDataRoot: dataRoot,
		log:             log.Named(name),
	}
	b.state = newStateMachine(name)
	return b
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Kind() Kind          { return b.kind }
func (b *Base) UUID() uuid.UUID     { return b.uuid }
func (b *Base) Threaded() bool      { return b.threaded }
func (b *Base) URL() string         { return b.url }
func (b *Base) Log() *Logger        { return b.log }
func (b *Base) State() *StateMachine { return b.state }

// DefaultDataDir returns the generic per-module data directory named in
// module.py's Base.module_default_data_dir: <root>/<name>. Implementations
// may derive calibration-file paths etc. from it.
func (b *Base) DefaultDataDir() string {
	return filepath.Join(b.defaultDataRoot, b.name)
}
