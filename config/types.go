// Package config loads and validates qudi's declarative YAML configuration
// document: the global section (data directory, startup modules, remote
// server settings) and one section per module (hardware/logic/gui),
// grounded on spec §4.1 and on module_default_data_dir / paths.py in the
// original Python implementation for the data-directory resolution rules.
package config

// ModuleConfig is one entry of the config document's hardware/logic/gui
// sections.
type ModuleConfig struct {
	Name           string         `yaml:"-"`
	Kind           string         `yaml:"-"`
	Module         string         `yaml:"module.Class"`
	AllowRemote    bool           `yaml:"allow_remote"`
	Connect        map[string]string `yaml:"connect"`
	Options        map[string]any `yaml:"options"`
	Remote         string         `yaml:"remote_url"`
	RemoteCertPath string         `yaml:"remote_certfile"`
	RemoteKeyPath  string         `yaml:"remote_keyfile"`
}

// IsRemote reports whether this entry is a proxy for a module hosted on a
// remote qudi instance rather than a locally constructed module.
func (m ModuleConfig) IsRemote() bool { return m.Remote != "" }

// RemoteServerConfig configures the local process's own remote module
// server (spec §4.6), the counterpart of the Remote field above which
// configures outbound connections to someone else's server.
type RemoteServerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	CertFilePath string `yaml:"certfile"`
	KeyFilePath  string `yaml:"keyfile"`
	Normalize    bool   `yaml:"normalize_numpy"`
}

// GlobalConfig is the config document's `global:` section.
type GlobalConfig struct {
	StartupModules  []string           `yaml:"startup_modules"`
	RemoteServer    RemoteServerConfig `yaml:"remote_modules_server"`
	DataDir         string             `yaml:"default_data_dir"`
	ModuleServer    bool               `yaml:"module_server"`
	StyleSheet      string             `yaml:"stylesheet"`
	DiagnosticsAddr string             `yaml:"diagnostics_addr"`
	WatchdogCron    string             `yaml:"watchdog_cron"`
}

// RootConfig is the parsed, validated top-level config document.
type RootConfig struct {
	Global  GlobalConfig            `yaml:"global"`
	Modules map[string]ModuleConfig `yaml:"-"`

	// raw retains the whole document as decoded into plain values, including
	// keys this type doesn't model explicitly. Save does not use it; the
	// round trip of unknown keys (L1) goes through Document's yaml.Node.
	raw any `yaml:"-"`
}
