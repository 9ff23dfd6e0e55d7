package qudicore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Ulm-IQO/qudi-core/thread"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Module is satisfied by any module constructed with InitBase embedded, plus
// the user-supplied OnActivate/OnDeactivate hooks. The manager never holds a
// concrete module type; it only ever sees this interface, mirroring
// module.py's reliance on Base for every piece of manager-visible state.
type Module interface {
	Hooks
	Name() string
	Kind() Kind
	UUID() uuid.UUID
	Threaded() bool
	Log() *Logger
	State() *StateMachine
	DefaultDataDir() string
}

// record is the manager's bookkeeping entry for one registered module.
type record struct {
	module      Module
	allowRemote bool
	connectTo   map[string]string // connector name -> target module name
	refCount    int               // number of bound local dependents currently holding this module's exporter
	remoteRefs  int               // number of outstanding remote acquire() handles holding this module open
}

// Manager is the single authority over module registration, dependency
// resolution, and lifecycle transitions (spec §4.4: "exactly one component
// may ever call a module's activate/deactivate"). It embeds *EventBus so it
// satisfies Subject directly.
type Manager struct {
	*EventBus

	mu      sync.Mutex
	records map[string]*record
	store   *AppDataStore
	threads *thread.Manager
	log     *Logger
}

// NewManager constructs an empty Manager. store persists/loads Status
// descriptor values across activate/deactivate cycles; see appdata.go.
// threads is used to acquire/release a worker thread for every threaded
// module across its activate/deactivate cycle (spec §5, G1-G4); it may be
// nil in tests that never activate a threaded module.
func NewManager(store *AppDataStore, threads *thread.Manager, log *Logger) *Manager {
	return &Manager{
		EventBus: NewEventBus("qudi.manager", log),
		records:  make(map[string]*record),
		store:    store,
		threads:  threads,
		log:      log,
	}
}

// Register adds a module under name. connectTo maps each of the module's
// declared Connector names to the name of another registered module that
// will supply it; options is the module's config `options:` map, applied to
// every declared Option field immediately (spec §4.2: options are resolved
// at construction, once, and are immutable thereafter); allowRemote marks
// the module eligible for the remote server's export list (spec §6
// "list-remotable").
func (m *Manager) Register(name string, module Module, connectTo map[string]string, options map[string]any, allowRemote bool) error {
	m.mu.Lock()
	if _, exists := m.records[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrDuplicateModuleName)
	}
	m.records[name] = &record{module: module, allowRemote: allowRemote, connectTo: connectTo}
	m.mu.Unlock()

	if err := applyOptions(name, module, options); err != nil {
		m.mu.Lock()
		delete(m.records, name)
		m.mu.Unlock()
		return err
	}

	m.Emit(context.Background(), EventTypeModuleAdded, map[string]string{"name": name})
	return nil
}

// Unregister removes a deactivated module from the registry, e.g. after a
// config reload drops it.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	if !rec.module.State().Deactivated() {
		return fmt.Errorf("%s: %w", name, ErrInvariant)
	}
	delete(m.records, name)
	m.Emit(context.Background(), EventTypeModuleRemoved, map[string]string{"name": name})
	return nil
}

// dependencyOrder returns registered module names in connector-resolution
// order: a module is only ever ordered after every module whose connector
// points at it. The DFS-with-temp-mark cycle check mirrors the teacher's
// resolveDependencies; ErrCyclicConnectors replaces ErrCircularDependency as
// this graph's edges are connector bindings, not generic declared deps.
func (m *Manager) dependencyOrder() ([]string, error) {
	var order []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if inStack[name] {
			return fmt.Errorf("%s: %w", name, ErrCyclicConnectors)
		}
		if visited[name] {
			return nil
		}
		inStack[name] = true
		rec, ok := m.records[name]
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
		}
		targets := make([]string, 0, len(rec.connectTo))
		for _, target := range rec.connectTo {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			if err := visit(target); err != nil {
				return err
			}
		}
		inStack[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// ActivateAll activates every registered module in dependency order,
// binding connectors just-in-time as each dependency becomes idle. A module
// whose dependency failed to activate is itself left deactivated rather
// than attempted (I1), and the returned error aggregates every independent
// failure via multierr so one broken module doesn't hide the others.
func (m *Manager) ActivateAll(ctx context.Context) error {
	m.mu.Lock()
	order, err := m.dependencyOrder()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	var errs error
	failed := make(map[string]bool)
	for _, name := range order {
		if err := m.Activate(ctx, name); err != nil {
			failed[name] = true
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Activate brings a module, and every module its required connectors
// transitively depend on, from deactivated to idle. Per spec §4.5 step 2
// and P5, activate(name) walks name's connector closure in dependency
// order and brings each dependency up bottom-up before running name's own
// OnActivate; a cycle anywhere in that closure fails with
// ErrCyclicConnectors before any hook runs.
func (m *Manager) Activate(ctx context.Context, name string) error {
	m.mu.Lock()
	order, err := m.dependencyOrderFrom(name)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	var errs error
	for _, dep := range order {
		if dep == name {
			continue
		}
		if err := m.activateOne(ctx, dep); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: dependency %s: %w", name, dep, err))
		}
	}
	if errs != nil {
		return errs
	}
	return m.activateOne(ctx, name)
}

// dependencyOrderFrom returns just the transitive required-connector
// closure of name (including name itself), in bottom-up order, rather than
// dependencyOrder's whole-registry order. Callers must hold m.mu.
func (m *Manager) dependencyOrderFrom(name string) ([]string, error) {
	var order []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(n string) error
	visit = func(n string) error {
		if inStack[n] {
			return fmt.Errorf("%s: %w", n, ErrCyclicConnectors)
		}
		if visited[n] {
			return nil
		}
		inStack[n] = true
		rec, ok := m.records[n]
		if !ok {
			return fmt.Errorf("%s: %w", n, ErrModuleNotFound)
		}
		for _, target := range rec.connectTo {
			if err := visit(target); err != nil {
				return err
			}
		}
		inStack[n] = false
		visited[n] = true
		order = append(order, n)
		return nil
	}

	if err := visit(name); err != nil {
		return nil, err
	}
	return order, nil
}

// activateOne brings a single, already-resolved module from deactivated to
// idle without touching its dependencies; Activate calls this once per
// module in the closure it computes.
func (m *Manager) activateOne(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}

	if rec.module.State().Activated() {
		return nil
	}

	if err := m.bindConnectors(name, rec); err != nil {
		return err
	}

	if err := m.loadStatuses(rec.module); err != nil {
		return err
	}

	if m.threads != nil && rec.module.Threaded() {
		m.threads.Acquire(threadName(rec.module.Kind(), name))
	}

	if err := rec.module.State().beginActivate(); err != nil {
		return err
	}

	hookErr := rec.module.OnActivate(ctx)
	if err := rec.module.State().endActivate(hookErr == nil); err != nil {
		return err
	}
	if hookErr != nil {
		rec.module.Log().Exception("activation failed", hookErr)
		if m.threads != nil && rec.module.Threaded() {
			m.threads.Release(threadName(rec.module.Kind(), name))
		}
		return fmt.Errorf("%s: %w: %v", name, ErrHook, hookErr)
	}

	m.mu.Lock()
	for _, target := range rec.connectTo {
		if tr, ok := m.records[target]; ok {
			tr.refCount++
		}
	}
	m.mu.Unlock()

	m.Emit(ctx, EventTypeModuleStateChanged, map[string]string{"name": name, "state": rec.module.State().Current().String()})
	return nil
}

// bindConnectors resolves every Connector field on the module against the
// currently-registered, currently-idle target modules.
func (m *Manager) bindConnectors(name string, rec *record) error {
	binders := moduleConnectors(rec.module)
	for connName, binder := range binders {
		targetName, mapped := rec.connectTo[connName]
		if !mapped {
			if binder.required() {
				return fmt.Errorf("%s.%s: %w", name, connName, ErrConnectorUnbound)
			}
			continue
		}
		m.mu.Lock()
		targetRec, ok := m.records[targetName]
		m.mu.Unlock()
		if !ok {
			return fmt.Errorf("%s.%s -> %s: %w", name, connName, targetName, ErrModuleNotFound)
		}
		if !targetRec.module.State().Activated() {
			return fmt.Errorf("%s.%s -> %s: %w", name, connName, targetName, ErrConnectorUnbound)
		}
		if err := binder.bind(targetRec.module); err != nil {
			return err
		}
	}
	return nil
}

// loadStatuses populates every Status field from the appdata store before
// OnActivate runs, per spec §4.5.
func (m *Manager) loadStatuses(module Module) error {
	if m.store == nil {
		return nil
	}
	saved, err := m.store.Load(module.Name())
	if err != nil {
		return fmt.Errorf("%s: %w: %v", module.Name(), ErrDescriptor, err)
	}
	for key, binder := range moduleStatuses(module) {
		raw, ok := saved[key]
		if !ok {
			continue
		}
		if err := binder.unmarshalRaw(raw); err != nil {
			return err
		}
	}
	return nil
}

// saveStatuses dumps every Status field to the appdata store. Per I3 this
// must run only after OnDeactivate has fully returned, success or failure.
// A Status whose representer fails is logged, left out of the dump and
// reported in the returned error; the remaining Status values are saved.
func (m *Manager) saveStatuses(module Module) error {
	if m.store == nil {
		return nil
	}
	var errs error
	out := make(map[string]any)
	for key, binder := range moduleStatuses(module) {
		raw, err := binder.marshalRaw()
		if err != nil {
			module.Log().Exception("status variable dropped from dump", err)
			errs = multierr.Append(errs, fmt.Errorf("%s.%s: %w: %v", module.Name(), key, ErrDescriptor, err))
			continue
		}
		out[key] = raw
	}
	return multierr.Append(errs, m.store.Save(module.Name(), out))
}

// Deactivate tears a single module down: deactivating -> deactivated always
// runs to completion (I3) even if OnDeactivate returns an error or a
// dependent is still bound, in which case dependents are deactivated first.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	var dependents []string
	if ok {
		for otherName, other := range m.records {
			for _, target := range other.connectTo {
				if target == name && other.module.State().Activated() {
					dependents = append(dependents, otherName)
				}
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}

	var errs error
	for _, dep := range dependents {
		if err := m.Deactivate(ctx, dep); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if !rec.module.State().Activated() {
		return errs
	}

	if err := rec.module.State().beginDeactivate(); err != nil {
		return multierr.Append(errs, err)
	}
	hookErr := rec.module.OnDeactivate(ctx)
	if hookErr != nil {
		rec.module.Log().Exception("deactivation hook failed", hookErr)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w: %v", name, ErrHook, hookErr))
	}
	if err := rec.module.State().endDeactivate(); err != nil {
		return multierr.Append(errs, err)
	}
	if err := m.saveStatuses(rec.module); err != nil {
		errs = multierr.Append(errs, err)
	}
	if m.threads != nil && rec.module.Threaded() {
		m.threads.Release(threadName(rec.module.Kind(), name))
	}

	m.mu.Lock()
	for _, target := range rec.connectTo {
		if tr, ok := m.records[target]; ok && tr.refCount > 0 {
			tr.refCount--
		}
	}
	m.mu.Unlock()

	m.Emit(ctx, EventTypeModuleStateChanged, map[string]string{"name": name, "state": rec.module.State().Current().String()})
	return errs
}

// DeactivateAll tears down every activated module in reverse dependency
// order.
func (m *Manager) DeactivateAll(ctx context.Context) error {
	m.mu.Lock()
	order, err := m.dependencyOrder()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.Deactivate(ctx, order[i]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Reload deactivates then reactivates a single module, e.g. after its
// config section changed on disk.
func (m *Manager) Reload(ctx context.Context, name string) error {
	if err := m.Deactivate(ctx, name); err != nil {
		return err
	}
	return m.Activate(ctx, name)
}

// AcquireRemote implements the remote server's "acquire" op (spec §4.6,
// §8 scenario 4): a remote caller acquiring a shared-exporter module
// activates it on demand if it isn't already idle, and holds a reference
// distinct from a local connector's refCount so a remote disconnect never
// tears down a module a local dependent still has bound.
func (m *Manager) AcquireRemote(name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	if !rec.module.State().Activated() {
		if err := m.Activate(context.Background(), name); err != nil {
			return err
		}
	}
	m.mu.Lock()
	rec.remoteRefs++
	m.mu.Unlock()
	return nil
}

// ReleaseRemote implements the remote server's "release" op and the
// implicit release-on-disconnect. It deactivates the module only once
// every remote holder has released it and no local dependent still has it
// connector-bound, matching the shared-exporter policy of spec §4.6.
func (m *Manager) ReleaseRemote(name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	if rec.remoteRefs > 0 {
		rec.remoteRefs--
	}
	shouldDeactivate := rec.remoteRefs == 0 && rec.refCount == 0
	m.mu.Unlock()
	if shouldDeactivate {
		return m.Deactivate(context.Background(), name)
	}
	return nil
}

// ClearAppData deletes a deactivated module's persisted status file,
// mirroring qudi's clear_module_appdata. Refuses to touch an activated
// module since its in-memory Status values would otherwise immediately
// overwrite whatever was just cleared on the next deactivate.
func (m *Manager) ClearAppData(name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	if !rec.module.State().Deactivated() {
		return fmt.Errorf("%s: %w", name, ErrInvariant)
	}
	if m.store == nil {
		return nil
	}
	return m.store.Clear(name)
}

// ModuleSnapshot is the manager's public, read-only view of one module's
// state per spec §4.5 ({name, kind, state, has_appdata, thread, is_remote}),
// used by the diagnostics HTTP surface and the watchdog.
type ModuleSnapshot struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	State      string `json:"state"`
	HasAppData bool   `json:"hasAppdata"`
	Thread     string `json:"thread,omitempty"`
	IsRemote   bool   `json:"isRemote"`
	RefCount   int    `json:"refCount"`
}

// Snapshot returns the current state of every registered module in
// dependency order, with ties broken by name (plain name order when the
// graph can't be resolved, e.g. mid-cycle), rather than Go's randomized map
// iteration order, so repeated calls and the diagnostics HTTP surface
// render a stable listing.
func (m *Manager) Snapshot() []ModuleSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.dependencyOrder()
	if err != nil {
		order = order[:0]
		for name := range m.records {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	out := make([]ModuleSnapshot, 0, len(order))
	for _, name := range order {
		rec := m.records[name]
		thread := ""
		if rec.module.Threaded() {
			thread = threadName(rec.module.Kind(), name)
		}
		hasAppData := false
		if m.store != nil {
			hasAppData = m.store.HasAppData(name)
		}
		out = append(out, ModuleSnapshot{
			Name:       name,
			Kind:       rec.module.Kind(),
			State:      rec.module.State().Current().String(),
			HasAppData: hasAppData,
			Thread:     thread,
			IsRemote:   rec.allowRemote,
			RefCount:   rec.refCount,
		})
	}
	return out
}

// RemotableModules returns the names of modules eligible for export over
// the remote server, mirroring the "list-remotable" RPC in spec §6.
func (m *Manager) RemotableModules() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0)
	for name, rec := range m.records {
		if rec.allowRemote {
			out = append(out, name)
		}
	}
	return out
}

// Lookup returns a registered module by name for use by the remote server
// and script kernel, both of which only ever touch modules through the
// Module interface.
func (m *Manager) Lookup(name string) (Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	return rec.module, nil
}
