package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
global:
  startup_modules: [logic_main]
  default_data_dir: /tmp/qudi-data
hardware:
  camera:
    module.Class: "acme.camera.Camera"
    allow_remote: true
    options:
      exposure_ms: 100
logic:
  logic_main:
    module.Class: "acme.logic.MainLogic"
    connect:
      camera: camera
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qudi.cfg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	doc, err := Load(writeTemp(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"logic_main"}, doc.Root.Global.StartupModules)
	require.Contains(t, doc.Root.Modules, "camera")
	assert.Equal(t, "acme.camera.Camera", doc.Root.Modules["camera"].Module)
	assert.True(t, doc.Root.Modules["camera"].AllowRemote)
	assert.Equal(t, "camera", doc.Root.Modules["logic_main"].Connect["camera"])
}

func TestLoadRejectsMissingModuleClass(t *testing.T) {
	const bad = `
hardware:
  camera:
    allow_remote: true
`
	_, err := Load(writeTemp(t, bad))
	assert.Error(t, err)
}

func TestLoadFillsDefaultDataDirWhenAbsent(t *testing.T) {
	const noDataDir = `
hardware:
  camera:
    module.Class: "acme.camera.Camera"
`
	doc, err := Load(writeTemp(t, noDataDir))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Root.Global.DataDir)
}

func TestLoadRejectsDuplicateNameAcrossKinds(t *testing.T) {
	const dup = `
hardware:
  foo:
    module.Class: "acme.hw.Foo"
logic:
  foo:
    module.Class: "acme.logic.Foo"
`
	_, err := Load(writeTemp(t, dup))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hardware.foo")
	assert.Contains(t, err.Error(), "already defined under \"logic\"")
}

func TestSaveRoundTripsUnknownKeys(t *testing.T) {
	path := writeTemp(t, validConfig+"\nextra_top_level_key: keep-me\n")
	doc, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, doc.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "extra_top_level_key")
}
