package qudicore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	Base
	onActivate   func(ctx context.Context) error
	onDeactivate func(ctx context.Context) error
	activateCalls int
}

func newFakeModule(t *testing.T, name string, kind Kind) *fakeModule {
	t.Helper()
	log, err := NewLogger("", false)
	require.NoError(t, err)
	return &fakeModule{Base: InitBase(name, kind, "test.fake", "FakeModule", false, t.TempDir(), log)}
}

func (m *fakeModule) OnActivate(ctx context.Context) error {
	m.activateCalls++
	if m.onActivate != nil {
		return m.onActivate(ctx)
	}
	return nil
}

func (m *fakeModule) OnDeactivate(ctx context.Context) error {
	if m.onDeactivate != nil {
		return m.onDeactivate(ctx)
	}
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := NewLogger("", false)
	require.NoError(t, err)
	store := NewAppDataStore(t.TempDir(), log)
	return NewManager(store, nil, log)
}

func TestManagerActivateDeactivate(t *testing.T) {
	m := newTestManager(t)
	mod := newFakeModule(t, "camera", KindHardware)
	require.NoError(t, m.Register("camera", mod, nil, nil, false))

	ctx := context.Background()
	require.NoError(t, m.Activate(ctx, "camera"))
	assert.True(t, mod.State().Idle())
	assert.Equal(t, 1, mod.activateCalls)

	// Activating an already-idle module is a no-op, not a re-run.
	require.NoError(t, m.Activate(ctx, "camera"))
	assert.Equal(t, 1, mod.activateCalls)

	require.NoError(t, m.Deactivate(ctx, "camera"))
	assert.True(t, mod.State().Deactivated())
}

func TestManagerDuplicateNameRejected(t *testing.T) {
	m := newTestManager(t)
	mod := newFakeModule(t, "camera", KindHardware)
	require.NoError(t, m.Register("camera", mod, nil, nil, false))
	err := m.Register("camera", newFakeModule(t, "camera", KindHardware), nil, nil, false)
	assert.ErrorIs(t, err, ErrDuplicateModuleName)
}

func TestManagerActivationFailureLeavesModuleDeactivated(t *testing.T) {
	m := newTestManager(t)
	mod := newFakeModule(t, "camera", KindHardware)
	mod.onActivate = func(ctx context.Context) error { return assert.AnError }
	require.NoError(t, m.Register("camera", mod, nil, nil, false))

	err := m.Activate(context.Background(), "camera")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHook)
	assert.True(t, mod.State().Deactivated())
}

func TestManagerDependencyOrderAndCycleDetection(t *testing.T) {
	m := newTestManager(t)
	logic := newFakeModule(t, "logic", KindLogic)
	hw := newFakeModule(t, "hw", KindHardware)
	require.NoError(t, m.Register("hw", hw, nil, nil, false))
	require.NoError(t, m.Register("logic", logic, map[string]string{"camera": "hw"}, nil, false))

	order, err := m.dependencyOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"hw", "logic"}, order)

	// introduce a cycle: hw depends back on logic
	m.records["hw"].connectTo = map[string]string{"controller": "logic"}
	_, err = m.dependencyOrder()
	assert.ErrorIs(t, err, ErrCyclicConnectors)
}

func TestManagerActivateAllAggregatesIndependentFailures(t *testing.T) {
	m := newTestManager(t)
	good := newFakeModule(t, "good", KindHardware)
	bad := newFakeModule(t, "bad", KindHardware)
	bad.onActivate = func(ctx context.Context) error { return assert.AnError }
	require.NoError(t, m.Register("good", good, nil, nil, false))
	require.NoError(t, m.Register("bad", bad, nil, nil, false))

	err := m.ActivateAll(context.Background())
	require.Error(t, err)
	assert.True(t, good.State().Idle())
	assert.True(t, bad.State().Deactivated())
}

func TestManagerClearAppDataRefusesActivatedModule(t *testing.T) {
	m := newTestManager(t)
	mod := newFakeModule(t, "camera", KindHardware)
	require.NoError(t, m.Register("camera", mod, nil, nil, false))
	require.NoError(t, m.Activate(context.Background(), "camera"))

	err := m.ClearAppData("camera")
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestManagerRemotableModules(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Register("public", newFakeModule(t, "public", KindLogic), nil, nil, true))
	require.NoError(t, m.Register("private", newFakeModule(t, "private", KindLogic), nil, nil, false))

	assert.ElementsMatch(t, []string{"public"}, m.RemotableModules())
}

func TestManagerActivateBringsUpConnectorDependencyFirst(t *testing.T) {
	m := newTestManager(t)
	hw := newFakeModule(t, "hw", KindHardware)
	logic := newFakeModule(t, "logic", KindLogic)
	require.NoError(t, m.Register("hw", hw, nil, nil, false))
	require.NoError(t, m.Register("logic", logic, map[string]string{"camera": "hw"}, nil, false))

	// Activating the dependent alone must bring hw up first, without the
	// caller ever calling Activate("hw") itself.
	require.NoError(t, m.Activate(context.Background(), "logic"))
	assert.True(t, hw.State().Idle())
	assert.True(t, logic.State().Idle())
}

func TestManagerActivateFailsOnCyclicConnectors(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Register("a", newFakeModule(t, "a", KindLogic), map[string]string{"x": "b"}, nil, false))
	require.NoError(t, m.Register("b", newFakeModule(t, "b", KindLogic), map[string]string{"y": "a"}, nil, false))

	err := m.Activate(context.Background(), "a")
	assert.ErrorIs(t, err, ErrCyclicConnectors)
}

type optionModule struct {
	Base
	Label *Option[string]
}

func (o *optionModule) OnActivate(context.Context) error   { return nil }
func (o *optionModule) OnDeactivate(context.Context) error { return nil }

func newOptionModule(t *testing.T, name string) *optionModule {
	t.Helper()
	log, err := NewLogger("", false)
	require.NoError(t, err)
	return &optionModule{
		Base:  InitBase(name, KindLogic, "test.option", "OptionModule", false, t.TempDir(), log),
		Label: NewOption[string]("label").Configure(WithDefault("default-label")),
	}
}

func TestManagerRegisterMaterializesOptionsFromConfig(t *testing.T) {
	m := newTestManager(t)
	mod := newOptionModule(t, "labeled")
	require.NoError(t, m.Register("labeled", mod, nil, map[string]any{"label": "custom"}, false))
	assert.Equal(t, "custom", mod.Label.Value())
	assert.False(t, mod.Label.IsDefault())
}

func TestManagerRegisterLeavesOptionAtDefaultWhenConfigOmitsIt(t *testing.T) {
	m := newTestManager(t)
	mod := newOptionModule(t, "labeled")
	require.NoError(t, m.Register("labeled", mod, nil, nil, false))
	assert.Equal(t, "default-label", mod.Label.Value())
	assert.True(t, mod.Label.IsDefault())
}

func TestManagerAcquireRemoteActivatesAndReleaseRemoteDeactivates(t *testing.T) {
	m := newTestManager(t)
	mod := newFakeModule(t, "laser", KindHardware)
	require.NoError(t, m.Register("laser", mod, nil, nil, true))

	require.NoError(t, m.AcquireRemote("laser"))
	assert.True(t, mod.State().Idle())

	require.NoError(t, m.ReleaseRemote("laser"))
	assert.True(t, mod.State().Deactivated())
}

func TestManagerReleaseRemoteKeepsModuleUpForLocalDependent(t *testing.T) {
	m := newTestManager(t)
	hw := newFakeModule(t, "hw", KindHardware)
	logic := newFakeModule(t, "logic", KindLogic)
	require.NoError(t, m.Register("hw", hw, nil, nil, true))
	require.NoError(t, m.Register("logic", logic, map[string]string{"camera": "hw"}, nil, false))

	require.NoError(t, m.Activate(context.Background(), "logic"))
	require.NoError(t, m.AcquireRemote("hw"))
	require.NoError(t, m.ReleaseRemote("hw"))

	assert.True(t, hw.State().Idle(), "hw must stay up for logic's connector binding")
}

func TestManagerSnapshotIsOrderedAndPopulatesFields(t *testing.T) {
	m := newTestManager(t)
	hw := newFakeModule(t, "hw", KindHardware)
	logic := newFakeModule(t, "logic", KindLogic)
	require.NoError(t, m.Register("logic", logic, map[string]string{"camera": "hw"}, nil, false))
	require.NoError(t, m.Register("hw", hw, nil, nil, true))

	require.NoError(t, m.Activate(context.Background(), "logic"))
	require.NoError(t, m.saveStatuses(hw))

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "hw", snap[0].Name, "dependency must be listed before its dependent")
	assert.Equal(t, "logic", snap[1].Name)
	assert.True(t, snap[0].IsRemote)
	assert.False(t, snap[1].IsRemote)
	assert.True(t, snap[0].HasAppData)
}
