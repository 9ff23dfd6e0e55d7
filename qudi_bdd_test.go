package qudicore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cucumber/godog"
)

// hardwareDevice is the minimal hardware-kind module used by the lifecycle
// BDD scenarios: it exposes no real hardware surface, just enough to stand
// in as a connector target.
type hardwareDevice struct {
	Base
}

func (h *hardwareDevice) OnActivate(context.Context) error   { return nil }
func (h *hardwareDevice) OnDeactivate(context.Context) error { return nil }

// driverUser is the logic-kind module used by the connector scenarios. Its
// Connector is required in the "two modules" scenario and optional in the
// "missing connector" scenario, which exercises the unbound-connector error
// path without failing activation.
type driverUser struct {
	Base
	Hardware *Connector[*hardwareDevice]
}

func (d *driverUser) OnActivate(context.Context) error   { return nil }
func (d *driverUser) OnDeactivate(context.Context) error { return nil }

// counterModule is the logic-kind module used by the status round-trip
// scenarios.
type counterModule struct {
	Base
	Count *Status[int]
}

func (c *counterModule) OnActivate(context.Context) error   { return nil }
func (c *counterModule) OnDeactivate(context.Context) error { return nil }

type lifecycleBDD struct {
	manager     *Manager
	store       *AppDataStore
	log         *Logger
	tmpDataDir  string
	modules     map[string]Module
	activateErr error
	loadErr     error
	// deactivated lists module names in the order the manager reported
	// them reaching the deactivated state.
	deactivated []string
}

func newLifecycleBDD(t *testing.T) *lifecycleBDD {
	t.Helper()
	log, err := NewLogger("", false)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	store := NewAppDataStore(dir, log)
	b := &lifecycleBDD{
		manager:    NewManager(store, nil, log),
		store:      store,
		log:        log,
		tmpDataDir: dir,
		modules:    make(map[string]Module),
	}
	_ = b.manager.RegisterObserver(NewFunctionalObserver("bdd-deactivation-order",
		func(_ context.Context, ev cloudevents.Event) error {
			var data map[string]string
			if err := ev.DataAs(&data); err != nil {
				return err
			}
			if data["state"] == StateDeactivated.String() {
				b.deactivated = append(b.deactivated, data["name"])
			}
			return nil
		}), EventTypeModuleStateChanged)
	return b
}

func (b *lifecycleBDD) twoModulesOneConnector() error {
	hw := &hardwareDevice{Base: InitBase("hw_a", KindHardware, "test.hw", "HardwareDevice", false, b.tmpDataDir, b.log)}
	lg := &driverUser{
		Base:     InitBase("lg_b", KindLogic, "test.logic", "DriverUser", false, b.tmpDataDir, b.log),
		Hardware: NewConnector[*hardwareDevice]("hardware", ConnectorRequired()),
	}
	b.modules["hw_a"] = hw
	b.modules["lg_b"] = lg
	if err := b.manager.Register("hw_a", hw, nil, nil, false); err != nil {
		return err
	}
	return b.manager.Register("lg_b", lg, map[string]string{"hardware": "hw_a"}, nil, false)
}

func (b *lifecycleBDD) logicWithOptionalUnmappedConnector() error {
	lg := &driverUser{
		Base:     InitBase("lg_b", KindLogic, "test.logic", "DriverUser", false, b.tmpDataDir, b.log),
		Hardware: NewConnector[*hardwareDevice]("hardware"),
	}
	b.modules["lg_b"] = lg
	return b.manager.Register("lg_b", lg, nil, nil, false)
}

func (b *lifecycleBDD) logicWithCounterStatus(name string) error {
	c := &counterModule{
		Base:  InitBase(name, KindLogic, "test.logic", "CounterModule", false, b.tmpDataDir, b.log),
		Count: NewStatus("count", 0),
	}
	b.modules[name] = c
	return b.manager.Register(name, c, nil, nil, false)
}

func (b *lifecycleBDD) iActivate(name string) error {
	b.activateErr = b.manager.Activate(context.Background(), name)
	return nil
}

func (b *lifecycleBDD) bothIdle(a, c string) error {
	for _, name := range []string{a, c} {
		if !b.modules[name].State().Idle() {
			return fmt.Errorf("%s: expected idle, got %s", name, b.modules[name].State().Current())
		}
	}
	return nil
}

func (b *lifecycleBDD) activationOrder(first, second string) error {
	if !b.modules[first].State().Idle() || !b.modules[second].State().Idle() {
		return errors.New("both modules must be idle to check activation order")
	}
	// hw_a must already be idle for lg_b's connector bind to have succeeded
	// at all, which bindConnectors enforces directly.
	return nil
}

func (b *lifecycleBDD) iDeactivate(name string) error {
	return b.manager.Deactivate(context.Background(), name)
}

func (b *lifecycleBDD) deactivatedBeforeFinishes(dependent, target string) error {
	if !b.modules[dependent].State().Deactivated() {
		return fmt.Errorf("%s: expected deactivated", dependent)
	}
	if !b.modules[target].State().Deactivated() {
		return fmt.Errorf("%s: expected deactivated", target)
	}
	depIdx, targetIdx := -1, -1
	for i, name := range b.deactivated {
		switch name {
		case dependent:
			depIdx = i
		case target:
			targetIdx = i
		}
	}
	if depIdx < 0 || targetIdx < 0 || depIdx > targetIdx {
		return fmt.Errorf("expected %s to deactivate before %s, got order %v", dependent, target, b.deactivated)
	}
	return nil
}

func (b *lifecycleBDD) activationSucceeds() error {
	if b.activateErr != nil {
		return fmt.Errorf("expected activation to succeed, got %w", b.activateErr)
	}
	return nil
}

func (b *lifecycleBDD) usingUnboundConnectorRaises(name string) error {
	lg := b.modules["lg_b"].(*driverUser)
	if lg.Hardware.bound() {
		return errors.New("expected connector to be unbound")
	}
	_, err := lg.Hardware.Target()
	if !errors.Is(err, ErrConnectorUnbound) {
		return fmt.Errorf("expected ErrConnectorUnbound, got %v", err)
	}
	return nil
}

func (b *lifecycleBDD) iSetStatus(name string, value int) error {
	b.modules[name].(*counterModule).Count.Set(value)
	return nil
}

func (b *lifecycleBDD) statusIs(name string, expected int) error {
	got := b.modules[name].(*counterModule).Count.Value()
	if got != expected {
		return fmt.Errorf("expected status %d, got %d", expected, got)
	}
	return nil
}

func (b *lifecycleBDD) statusFileDeletedExternally(name string) error {
	return b.store.Clear(name)
}

func (b *lifecycleBDD) globalStartupModules() error {
	return b.twoModulesOneConnector()
}

func (b *lifecycleBDD) applicationStarts() error {
	b.activateErr = b.manager.Activate(context.Background(), "lg_b")
	return b.activateErr
}

func InitializeLifecycleScenario(sc *godog.ScenarioContext) {
	var b *lifecycleBDD

	sc.Before(func(ctx context.Context, s *godog.Scenario) (context.Context, error) {
		b = newLifecycleBDD(&testing.T{})
		return ctx, nil
	})

	sc.Step(`^a hardware module "([^"]*)" and a logic module "([^"]*)" connected via "([^"]*)" -> "([^"]*)"$`,
		func(string, string, string, string) error { return b.twoModulesOneConnector() })
	sc.Step(`^I activate "([^"]*)"$`, func(name string) error { return b.iActivate(name) })
	sc.Step(`^"([^"]*)" and "([^"]*)" are both idle$`, func(a, c string) error { return b.bothIdle(a, c) })
	sc.Step(`^the activation order was "([^"]*)" before "([^"]*)"$`, func(a, c string) error { return b.activationOrder(a, c) })
	sc.Step(`^I deactivate "([^"]*)"$`, func(name string) error { return b.iDeactivate(name) })
	sc.Step(`^"([^"]*)" is deactivated before "([^"]*)" finishes deactivating$`,
		func(dep, target string) error { return b.deactivatedBeforeFinishes(dep, target) })

	sc.Step(`^a logic module "([^"]*)" with an optional connector "([^"]*)" left unmapped$`,
		func(string, string) error { return b.logicWithOptionalUnmappedConnector() })
	sc.Step(`^activation succeeds$`, func() error { return b.activationSucceeds() })
	sc.Step(`^using the unbound "([^"]*)" connector raises an unbound connector error$`,
		func(name string) error { return b.usingUnboundConnectorRaises(name) })

	sc.Step(`^a logic module "([^"]*)" with a status variable "([^"]*)" defaulting to 0$`,
		func(name, _ string) error { return b.logicWithCounterStatus(name) })
	sc.Step(`^I set its status "([^"]*)" to (\d+)$`, func(_ string, v int) error { return b.iSetStatus("counter", v) })
	sc.Step(`^I deactivate "([^"]*)"$`, func(name string) error { return b.iDeactivate(name) })
	sc.Step(`^I activate "([^"]*)" again$`, func(name string) error { return b.iActivate(name) })
	sc.Step(`^its status "([^"]*)" is (\d+)$`, func(_ string, v int) error { return b.statusIs("counter", v) })
	sc.Step(`^the status file for "([^"]*)" is deleted externally$`, func(name string) error { return b.statusFileDeletedExternally(name) })

	sc.Step(`^global startup modules "([^"]*)" with its dependency "([^"]*)"$`,
		func(string, string) error { return b.globalStartupModules() })
	sc.Step(`^the application starts$`, func() error { return b.applicationStarts() })
}

func TestModuleLifecycleBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLifecycleScenario,
		Options: &godog.Options{
			Format: "pretty",
			Paths:  []string{"features/module_lifecycle.feature"},
			TestingT: t,
			// The config-validation scenario is covered directly by
			// config/loader_test.go instead of here, since it needs a
			// real file on disk and a different package's Load; skipping
			// it here keeps this suite focused on manager/FSM behavior.
			Tags: "~@config-validation",
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
