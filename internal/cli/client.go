package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SWORDIntel/palioxis/internal/dispatcher"
	"github.com/SWORDIntel/palioxis/internal/settings"
	"github.com/SWORDIntel/palioxis/internal/tlschannel"
)

// NewClientCommand creates the client command tree: spec.md §4.6's
// dispatcher, wired to a node-list file and the operator's own mTLS
// identity.
func NewClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Dispatch destroy signals to a fleet of Palioxis nodes",
		Long:  "Reads a node list and sends an authenticated destroy signal to each entry.",
	}

	cmd.AddCommand(newDispatchCommand())

	return cmd
}

func newDispatchCommand() *cobra.Command {
	var (
		configFile string
		nodesFile  string
		timeout    time.Duration
		concurrent int
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send a destroy signal to every node in the node list",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}

			if nodesFile == "" {
				nodesFile = s.String("Client", "nodes_list", "nodes.txt")
			}

			material := tlschannel.Material{
				CACert:     s.String("Certificates", "ca_cert", ""),
				ClientCert: s.String("Certificates", "client_cert", ""),
				ClientKey:  s.String("Certificates", "client_key", ""),
			}
			tlsCfg, err := tlschannel.ClientConfig(material, s.String("Client", "server_name", ""))
			if err != nil {
				return fmt.Errorf("failed to build TLS client config: %w", err)
			}

			signer, err := tlschannel.LoadSigner(material.ClientKey)
			if err != nil {
				return fmt.Errorf("failed to load client signing key: %w", err)
			}

			if timeout <= 0 {
				timeout = s.Duration("Client", "timeout", 30*time.Second)
			}
			if concurrent <= 0 {
				concurrent = s.Int("Client", "concurrent", 1)
			}

			client := &dispatcher.Client{
				Dialer:     dispatcher.TLSDialer{Config: tlsCfg},
				Signer:     signer,
				Timeout:    timeout,
				Concurrent: concurrent,
				Logger:     logrus.NewEntry(logrus.StandardLogger()),
			}

			fleet, err := client.DispatchFile(context.Background(), nodesFile)
			if err != nil {
				return fmt.Errorf("dispatch failed: %w", err)
			}

			for _, r := range fleet.Results {
				status := "FAILED"
				if r.Success {
					status = "SUCCESS"
				}
				if r.Host == "" {
					fmt.Printf("[%s] %s\n", status, r.Message)
					continue
				}
				fmt.Printf("[%s] %s:%d – %s\n", status, r.Host, r.Port, r.Message)
			}
			fmt.Printf("Processed %d: %d succeeded, %d failed\n", len(fleet.Results), fleet.Success, fleet.Failed)

			if !fleet.Successful() {
				return fmt.Errorf("no node accepted the destroy signal")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "palioxis.conf", "Configuration file path")
	cmd.Flags().StringVar(&nodesFile, "nodes", "", "Node list file path (overrides Client.nodes_list)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-node dial/request timeout (overrides Client.timeout)")
	cmd.Flags().IntVar(&concurrent, "concurrent", 0, "Max concurrent dispatches (overrides Client.concurrent, 1 = sequential)")

	return cmd
}
