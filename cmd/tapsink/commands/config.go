package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/tapsink/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect tapsink configuration",
	}

	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

// newConfigShowCommand renders the effective configuration, after file,
// environment, and defaults are merged, as YAML.
func newConfigShowCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, loadErr := config.LoadConfig(configPath)
			if loadErr != nil {
				return loadErr
			}

			// Never echo credentials.
			cfg.S3.SecretKey = redact(cfg.S3.SecretKey)
			cfg.S3.AccessKey = redact(cfg.S3.AccessKey)

			rendered, marshalErr := yaml.Marshal(cfg)
			if marshalErr != nil {
				return fmt.Errorf("render config: %w", marshalErr)
			}

			_, writeErr := os.Stdout.Write(rendered)

			return writeErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML or JSON)")

	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}

	return "[redacted]"
}
