package shipyard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ameistad/shipyard/internal/config"
	"github.com/ameistad/shipyard/internal/constants"
	"github.com/ameistad/shipyard/internal/ui"
	"github.com/spf13/cobra"
)

func InitCmd(flags *rootFlags) *cobra.Command {
	var (
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example config file",
		Long: `Write an example shipyard config with a staging and a production
environment. The file goes to --config when it names a file, otherwise to
shipyard.<format> in the --config directory or the working directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := initPath(flags.configPath, format)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(config.Example(), path); err != nil {
				return err
			}
			ui.Success("Wrote %s", path)
			ui.Muted("Edit the environments, then run: shipyard preflight staging")
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Config format (yaml, json, toml)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func initPath(configPath, format string) (string, error) {
	ext := "." + format
	if format == "yml" {
		ext = ".yaml"
	}
	if !slices.Contains(constants.SupportedConfigExtensions, ext) {
		return "", fmt.Errorf("unsupported format %q (expected yaml, json or toml)", format)
	}
	if configPath == "" {
		return constants.ConfigFileBaseName + ext, nil
	}
	if slices.Contains(constants.SupportedConfigExtensions, filepath.Ext(configPath)) {
		return configPath, nil
	}
	return filepath.Join(configPath, constants.ConfigFileBaseName+ext), nil
}
