package shipyard

import (
	"github.com/ameistad/shipyard/internal/config"
	"github.com/spf13/cobra"
)

// rootFlags holds the persistent flags every command resolves its config with.
type rootFlags struct {
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
}

func (f *rootFlags) loadOptions() config.LoadOptions {
	return config.LoadOptions{
		ConfigPath: f.configPath,
		Overrides: config.Overrides{
			DataDir:   f.dataDir,
			LogLevel:  f.logLevel,
			LogFormat: f.logFormat,
		},
	}
}

func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "shipyard",
		Short: "shipyard deploys environments and watches their health",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch cmd.Name() {
			case "completion", "version":
				return
			}
			config.LoadEnvFiles() // .env values feed the SHIPYARD_ layer of every command.
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to config file or directory (default: ., then the config dir)")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Directory for history, logs, locks and state")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(
		SyncCmd(flags),
		PreflightCmd(flags),
		DeployCmd(flags),
		RollbackCmd(flags),
		BackupCmd(flags),
		ProbeCmd(flags),
		DigestCmd(flags),
		HistoryCmd(flags),
		WatchCmd(flags),

		InitCmd(flags),
		VersionCmd(),
		CompletionCmd(),
	)

	return cmd
}
