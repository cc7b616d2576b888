package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewGenerateCommand creates the generate command tree.
func NewGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate example configuration",
	}

	cmd.AddCommand(newGenerateConfigCommand())

	return cmd
}

const exampleConfig = `# Palioxis configuration
# This file configures both the server agent and the client dispatcher.
# Keep it and the referenced certificate/key material off of any target
# this configuration lists for destruction.

[Server]
host = 0.0.0.0
port = 8443
key = CHANGE_ME
handshake_timeout = 30s

[Certificates]
ca_cert = /etc/palioxis/ca.pem
server_cert = /etc/palioxis/server.pem
server_key = /etc/palioxis/server-key.pem
client_cert = /etc/palioxis/client.pem
client_key = /etc/palioxis/client-key.pem

[Destroyer]
module = fast
fast_passes = 3
shred_passes = 9
shutdown_on_partial_failure = true

[Targets]
directories = /tmp/palioxis-test

[Client]
nodes_list = nodes.txt
server_name = palioxis-server
timeout = 30s
concurrent = 1

[Daemon]
log_file =
log_level = info
`

func newGenerateConfigCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate an example configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.WriteFile(outputPath, []byte(exampleConfig), 0o600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("Configuration file generated: %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "palioxis.conf", "Output configuration file path")

	return cmd
}
