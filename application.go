package qudicore

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ulm-IQO/qudi-core/config"
	"github.com/Ulm-IQO/qudi-core/remote"
	"github.com/Ulm-IQO/qudi-core/script"
	"github.com/Ulm-IQO/qudi-core/thread"
)

// AppStatus tracks where the Application is in its own run lifecycle,
// distinct from any single module's State.
type AppStatus string

const (
	StatusStopped  AppStatus = "stopped"
	StatusStarting AppStatus = "starting"
	StatusRunning  AppStatus = "running"
	StatusStopping AppStatus = "stopping"
)

// scriptModuleHost adapts *Manager to script.ModuleHost, whose Lookup
// returns any (rather than Module) to keep script a leaf package with no
// dependency on this package's Module interface.
type scriptModuleHost struct {
	manager *Manager
}

func (h scriptModuleHost) Lookup(name string) (any, error) {
	return h.manager.Lookup(name)
}

// Factory constructs a module instance from its config entry. Concrete
// driver/logic/GUI packages register one Factory per implementation_ref
// with an Application before Start is called; the framework itself never
// knows how to build a specific module, matching spec §4.2's "the manager
// never hard-codes a module type".
type Factory func(cfg config.ModuleConfig, deps ApplicationDeps) (Module, error)

// ApplicationDeps is handed to every Factory so a module constructor can
// reach the ambient services it needs (logger, data root, thread manager)
// without the Application exposing its entire internal state.
type ApplicationDeps struct {
	Log     *Logger
	DataDir string
	Threads *thread.Manager
}

// Application is qudi's composition root: it owns the module manager, the
// thread pool, the optional remote server, the embedded script kernel, the
// diagnostics HTTP surface, and the watchdog, and drives them all through
// one config-file-driven startup and one signal-driven shutdown.
type Application struct {
	*EventBus

	cfg     *config.Document
	factories map[string]Factory

	log      *Logger
	manager  *Manager
	threads  *thread.Manager
	store    *AppDataStore
	remote   *remote.Server
	diag     *DiagnosticsServer
	watchdog *Watchdog
	kernel   *script.Kernel

	excludeKinds map[Kind]bool

	status    AppStatus
	startedAt time.Time
	cancel    context.CancelFunc
}

// ExcludeKind marks an entire module kind (typically KindGUI, for the
// --no-gui CLI flag) to skip during buildModules, so `qudi --no-gui` never
// even constructs a GUI module rather than constructing then never
// activating it.
func (app *Application) ExcludeKind(k Kind) {
	if app.excludeKinds == nil {
		app.excludeKinds = make(map[Kind]bool)
	}
	app.excludeKinds[k] = true
}

// NewApplication loads and validates the config document at configPath,
// builds the ambient logger rooted at logDir (debug toggles verbose
// console output), and wires the manager/thread pool/appdata store. Module
// factories must still be registered via RegisterFactory before Start.
func NewApplication(configPath, logDir string, debug bool) (*Application, error) {
	doc, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := NewLogger(logDir, debug)
	if err != nil {
		return nil, err
	}

	threads := thread.NewManager()
	store := NewAppDataStore(doc.Root.Global.DataDir, log.Named("appdata"))
	manager := NewManager(store, threads, log.Named("manager"))

	app := &Application{
		EventBus:  NewEventBus("qudi.application", log),
		cfg:       doc,
		factories: make(map[string]Factory),
		log:       log,
		manager:   manager,
		threads:   threads,
		store:     store,
		status:    StatusStopped,
	}

	log = log.WithCriticalHook(func(namespace, msg string) {
		app.log.Error("critical condition triggered shutdown", "namespace", namespace, "message", msg)
		go func() { _ = app.Stop(context.Background()) }()
	})
	app.log = log

	return app, nil
}

// RegisterFactory associates an implementation_ref string (as it appears
// in a config entry's module.Class key) with a constructor. Call this once
// per module implementation your process links in, before Start.
func (app *Application) RegisterFactory(implementationRef string, factory Factory) {
	app.factories[implementationRef] = factory
}

// Manager exposes the module manager for callers that need direct access,
// e.g. a CLI subcommand implementing "qudi --clear-appdata".
func (app *Application) Manager() *Manager { return app.manager }

// buildModules constructs every configured module via its registered
// factory and registers it with the manager, but does not activate
// anything; activation order is the manager's job once every module
// exists.
func (app *Application) buildModules() error {
	deps := ApplicationDeps{Log: app.log, DataDir: app.cfg.Root.Global.DataDir, Threads: app.threads}
	for name, mc := range app.cfg.Root.Modules {
		if mc.IsRemote() {
			continue // proxied modules are resolved lazily by the remote client, not constructed locally
		}
		if app.excludeKinds[Kind(mc.Kind)] {
			continue
		}
		factory, ok := app.factories[mc.Module]
		if !ok {
			return fmt.Errorf("%s: %w: no factory registered for %q", name, ErrResolution, mc.Module)
		}
		mod, err := factory(mc, deps)
		if err != nil {
			return fmt.Errorf("%s: %w: %v", name, ErrResolution, err)
		}
		if err := app.manager.Register(name, mod, mc.Connect, mc.Options, mc.AllowRemote); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the full startup sequence: build modules from config,
// activate every startup_modules entry (and its transitive connector
// dependencies) in order, then bring up the optional remote server,
// diagnostics surface, and watchdog.
func (app *Application) Start(ctx context.Context) error {
	app.status = StatusStarting
	app.startedAt = time.Now()

	if err := app.buildModules(); err != nil {
		app.status = StatusStopped
		return err
	}

	if len(app.cfg.Root.Global.StartupModules) == 0 {
		if err := app.manager.ActivateAll(ctx); err != nil {
			app.status = StatusStopped
			return err
		}
	} else {
		// Activate each startup module through the manager, which brings up
		// its transitive connector dependency closure bottom-up regardless
		// of the order startup_modules lists them in (spec §4.5 step 2).
		for _, name := range app.cfg.Root.Global.StartupModules {
			if err := app.manager.Activate(ctx, name); err != nil {
				app.status = StatusStopped
				return err
			}
		}
	}

	if app.cfg.Root.Global.RemoteServer.Enabled {
		if err := app.startRemoteServer(); err != nil {
			return err
		}
	}

	app.diag = NewDiagnosticsServer(app.manager)
	if app.cfg.Root.Global.DiagnosticsAddr != "" {
		go func() {
			if err := app.diag.Serve(ctx, app.cfg.Root.Global.DiagnosticsAddr); err != nil {
				app.log.Error("diagnostics server stopped", "error", err)
			}
		}()
	}

	app.kernel = script.New(scriptModuleHost{app.manager})

	if app.cfg.Root.Global.WatchdogCron != "" {
		app.watchdog = NewWatchdog(app.manager, app.probeModule, 5*time.Second, app.log.Named("watchdog"))
		if err := app.watchdog.Start(app.cfg.Root.Global.WatchdogCron); err != nil {
			return fmt.Errorf("start watchdog: %w", err)
		}
	}

	app.status = StatusRunning
	app.log.Info("application started", "modules", len(app.manager.Snapshot()))
	return nil
}

func (app *Application) startRemoteServer() error {
	rc := app.cfg.Root.Global.RemoteServer
	var tlsConfig *tls.Config
	if rc.CertFilePath != "" && rc.KeyFilePath != "" {
		cert, err := tls.LoadX509KeyPair(rc.CertFilePath, rc.KeyFilePath)
		if err != nil {
			return fmt.Errorf("%w: load remote server cert: %v", ErrTransport, err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	app.remote = remote.NewServer(app, app)
	addr := fmt.Sprintf("%s:%d", rc.Host, rc.Port)
	go func() {
		if err := app.remote.Serve(addr, tlsConfig); err != nil {
			app.log.Error("remote server stopped", "error", err)
		}
	}()
	return nil
}

// RemotableModules and Lookup implement remote.ModuleHost so *Application
// itself (not *Manager directly) can be handed to remote.NewServer,
// letting it also see session events via OnSessionOpened/OnSessionClosed.
func (app *Application) RemotableModules() []string { return app.manager.RemotableModules() }

func (app *Application) Lookup(name string) (any, error) {
	return app.manager.Lookup(name)
}

// AcquireRemote and ReleaseRemote complete remote.ModuleHost, delegating the
// shared-exporter activation policy straight to the manager.
func (app *Application) AcquireRemote(name string) error { return app.manager.AcquireRemote(name) }
func (app *Application) ReleaseRemote(name string) error { return app.manager.ReleaseRemote(name) }

// OnSessionOpened and OnSessionClosed implement remote.SessionHook.
func (app *Application) OnSessionOpened(remoteAddr string) {
	app.Emit(context.Background(), EventTypeRemoteSessionOpened, map[string]string{"remote_addr": remoteAddr})
}

func (app *Application) OnSessionClosed(remoteAddr string) {
	app.Emit(context.Background(), EventTypeRemoteSessionClosed, map[string]string{"remote_addr": remoteAddr})
}

// Stop halts the watchdog and closes the remote server's listener, tears
// every activated module down in reverse dependency order, then cancels the
// run context, which shuts the diagnostics surface down.
func (app *Application) Stop(ctx context.Context) error {
	if app.status == StatusStopped || app.status == StatusStopping {
		return nil
	}
	app.status = StatusStopping

	if app.watchdog != nil {
		app.watchdog.Stop()
	}
	if app.remote != nil {
		_ = app.remote.Close()
	}

	err := app.manager.DeactivateAll(ctx)

	if app.cancel != nil {
		app.cancel()
	}
	app.status = StatusStopped
	app.log.Info("application stopped")
	return err
}

// probeModule dispatches a trivial no-op onto a threaded module's worker
// thread and waits briefly for it to run, detecting a thread whose event
// loop has stalled on some earlier, still-running dispatch. Non-threaded
// modules have no worker thread to probe and are reported live
// unconditionally.
func (app *Application) probeModule(ctx context.Context, name string) error {
	mod, err := app.manager.Lookup(name)
	if err != nil {
		return err
	}
	if !mod.Threaded() {
		return nil
	}
	return app.threads.DispatchBlocking(ctx, threadName(mod.Kind(), name), func(context.Context) {}, 2*time.Second)
}

// Run starts the application and blocks until a SIGINT/SIGTERM arrives or
// the critical-log shutdown hook fires, then tears everything down.
func (app *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if err := app.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		app.log.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	return app.Stop(context.Background())
}
