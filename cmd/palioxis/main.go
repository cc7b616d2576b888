package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SWORDIntel/palioxis/internal/agent"
	"github.com/SWORDIntel/palioxis/internal/cli"
	"github.com/SWORDIntel/palioxis/internal/destroyer"
	"github.com/SWORDIntel/palioxis/internal/dpop"
	"github.com/SWORDIntel/palioxis/internal/settings"
	"github.com/SWORDIntel/palioxis/internal/system"
	"github.com/SWORDIntel/palioxis/internal/target"
	"github.com/SWORDIntel/palioxis/internal/tlschannel"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "palioxis",
		Short: "Palioxis - remotely-triggered data-destruction agent",
		Long: `Palioxis listens for an authenticated trigger over mutual TLS and, on
receipt, destroys its configured targets and shuts the host down.

This tool is destructive by design. Only run it against hosts you are
authorized to wipe.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		newServerCmd(),
		cli.NewClientCommand(),
		cli.NewGenerateCommand(),
		cli.NewValidateCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("failed to execute command")
	}
}

func newServerCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the Palioxis agent",
		Long:  "Starts the mTLS listener and waits for an authenticated destroy trigger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}

			setupLogging(s.String("Daemon", "log_level", "info"))

			logrus.WithFields(logrus.Fields{
				"version": version,
				"commit":  commit,
				"config":  configFile,
			}).Info("starting palioxis server")

			ag, ln, err := buildAgent(s)
			if err != nil {
				return err
			}
			defer ln.Close()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				logrus.Info("received shutdown signal, closing listener")
				ln.Close()
			}()

			if err := ag.Serve(ln); err != nil {
				logrus.WithError(err).Info("listener closed")
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "palioxis.conf", "Configuration file path")

	return cmd
}

func buildAgent(s *settings.Settings) (*agent.Agent, net.Listener, error) {
	key := s.String("Server", "key", "")
	if key == "" {
		return nil, nil, fmt.Errorf("Server.key must be set")
	}

	targets, err := target.LoadFromSettings(s.StringSlice("Targets", "directories"), "targets.txt")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load targets: %w", err)
	}
	targets.Freeze()

	material := tlschannel.Material{
		CACert:     s.String("Certificates", "ca_cert", ""),
		ServerCert: s.String("Certificates", "server_cert", ""),
		ServerKey:  s.String("Certificates", "server_key", ""),
	}
	tlsCfg, err := tlschannel.ServerConfig(material)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build TLS server config: %w", err)
	}

	host := s.String("Server", "host", "0.0.0.0")
	port := s.Int("Server", "port", 8443)
	addr := fmt.Sprintf("%s:%d", host, port)

	ln, err := tlschannel.Listen(context.Background(), addr, tlsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	cfg := agent.Config{
		Host: host,
		Port: port,
		Key:  key,

		HandshakeTimeout: s.Duration("Server", "handshake_timeout", 0),

		DestroyerModule: s.String("Destroyer", "module", "fast"),
		DestroyerSettings: destroyer.Settings{
			FastPasses:  s.Int("Destroyer", "fast_passes", 3),
			ShredPasses: s.Int("Destroyer", "shred_passes", 9),
		},
		ShutdownOnPartialFailure: s.Bool("Destroyer", "shutdown_on_partial_failure", true),

		Targets:  targets,
		Replay:   dpop.NewReplayCache(),
		HostInfo: system.Collect(),
		Logger:   logrus.NewEntry(logrus.StandardLogger()),
	}

	return agent.New(cfg), ln, nil
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
