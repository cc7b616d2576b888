package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/SWORDIntel/palioxis/internal/settings"
)

// NewValidateCommand creates the validate command tree.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
	}

	cmd.AddCommand(newValidateConfigCommand())

	return cmd
}

func newValidateConfigCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate a configuration file and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configFile); os.IsNotExist(err) {
				return fmt.Errorf("configuration file does not exist: %s", configFile)
			}

			s, err := settings.Load(configFile)
			if err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			fmt.Printf("Configuration file is valid: %s\n", configFile)
			fmt.Printf("\nSummary:\n")
			fmt.Printf("  Server: %s:%d\n", s.String("Server", "host", "0.0.0.0"), s.Int("Server", "port", 8443))
			fmt.Printf("  Handshake timeout: %s\n", s.Duration("Server", "handshake_timeout", 30*time.Second))
			fmt.Printf("  Destroyer module: %s\n", s.String("Destroyer", "module", "fast"))
			fmt.Printf("  Fast passes: %d\n", s.Int("Destroyer", "fast_passes", 3))
			fmt.Printf("  Shred passes: %d\n", s.Int("Destroyer", "shred_passes", 9))
			fmt.Printf("  Shutdown on partial failure: %v\n", s.Bool("Destroyer", "shutdown_on_partial_failure", true))
			fmt.Printf("  Log level: %s\n", s.String("Daemon", "log_level", "info"))

			dirs := s.StringSlice("Targets", "directories")
			if len(dirs) > 0 {
				fmt.Printf("\nTargets:\n")
				for _, d := range dirs {
					fmt.Printf("  - %s\n", d)
				}
			}

			if s.String("Server", "key", "") == "" {
				fmt.Printf("\nWARNING: Server.key is not set — the server will reject every destroy request.\n")
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "palioxis.conf", "Configuration file path")

	return cmd
}
