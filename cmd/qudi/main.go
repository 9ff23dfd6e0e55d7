// Command qudi is the composition-root CLI entry point: it parses flags,
// configures logging, loads the config document, constructs every
// configured module, and runs until a termination signal arrives. Exit
// codes follow spec §4.7: 0 on clean shutdown, 1 on fatal startup error, 2
// on an uncaught exception escaping the run loop.
package main

import (
	"fmt"
	"os"

	qudicore "github.com/Ulm-IQO/qudi-core"
	"github.com/Ulm-IQO/qudi-core/config"
	"github.com/spf13/cobra"
)

var (
	flagNoGUI  bool
	flagDebug  bool
	flagConfig string
	flagLogDir string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qudi",
		Short: "Run the qudi modular measurement application",
		RunE:  run,
	}
	cmd.Flags().BoolVarP(&flagNoGUI, "no-gui", "g", false, "do not activate gui-kind modules")
	cmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug-level logging")
	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to the configuration file")
	cmd.Flags().StringVarP(&flagLogDir, "logdir", "l", "", "directory for rotated session logs")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	configPath := flagConfig
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	logDir := flagLogDir
	if logDir == "" {
		logDir = config.DefaultLogDir(config.DefaultDataDir())
	}

	app, err := qudicore.NewApplication(configPath, logDir, flagDebug)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	if flagNoGUI {
		app.ExcludeKind(qudicore.KindGUI)
	}

	return app.Run()
}

func defaultConfigPath() string {
	dir := config.DefaultConfigDir()
	return dir + string(os.PathSeparator) + "default.cfg"
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "qudi: uncaught exception: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "qudi:", err)
		os.Exit(1)
	}
	os.Exit(0)
}
