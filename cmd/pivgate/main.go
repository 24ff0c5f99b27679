// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for PivGate using the Cobra
// library. It defines the root command, the subcommands (servers, devices,
// deploy, connect, ...) and wires the application facade from the resolved
// configuration.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pivgate/pivgate/internal/buildvars"
	"github.com/pivgate/pivgate/internal/config"
	"github.com/pivgate/pivgate/internal/core"
	"github.com/pivgate/pivgate/internal/db"
	"github.com/pivgate/pivgate/internal/deploy"
	"github.com/pivgate/pivgate/internal/device"
	"github.com/pivgate/pivgate/internal/gate"
	"github.com/pivgate/pivgate/internal/i18n"
	"github.com/pivgate/pivgate/internal/logging"
	"github.com/pivgate/pivgate/internal/registry"
	"github.com/pivgate/pivgate/internal/token"
)

var cfgFile string

// app holds the wired facade for the lifetime of one command invocation.
var app struct {
	cfg     config.Config
	manager *core.Manager
	ops     *db.Store
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pivgate",
		Short: "PivGate manages SSH access backed by hardware tokens.",
		Long: `PivGate provisions the public half of a hardware token's PIV
authentication key onto remote servers and gates interactive SSH
connections on that provisioning: a connection is only handed off to ssh
when the active token has been deployed to the target server.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, cfgFile)
			if err != nil {
				return err
			}
			i18n.Init(cfg.Language)
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebug(true)
				db.SetDebug(true)
			}
			manager, ops, err := buildManager(cfg)
			if err != nil {
				return err
			}
			app.cfg = cfg
			app.manager = manager
			app.ops = ops
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.ops != nil {
				_ = app.ops.Close()
			}
		},
	}

	cmd.AddCommand(newServersCmd())
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newShowKeyCmd())
	cmd.AddCommand(newInvalidateKeyCmd())
	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newConnectCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())

	cmd.Version = buildvars.VersionOrDefault("dev")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is pivgate.yaml in the user config dir)")
	cmd.PersistentFlags().String("app-dir", "", "application state directory (default ~/.pivgate)")
	cmd.PersistentFlags().String("db-type", "", "operational store type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("db-dsn", "", "operational store connection string (DSN)")
	cmd.PersistentFlags().String("lang", "", `output language ("en", "de")`)
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	return cmd
}

// buildManager wires the full application facade from the configuration.
func buildManager(cfg config.Config) (*core.Manager, *db.Store, error) {
	servers, err := registry.NewStore(cfg.AppDir)
	if err != nil {
		return nil, nil, err
	}
	devices, err := device.NewRegistry(cfg.AppDir, &device.YkmanEnumerator{Binary: cfg.Tools.Ykman})
	if err != nil {
		return nil, nil, err
	}
	credentials, err := token.NewPipeline(cfg.AppDir, &token.YkmanTool{
		Ykman:     cfg.Tools.Ykman,
		SSHKeygen: cfg.Tools.SSHKeygen,
	})
	if err != nil {
		return nil, nil, err
	}
	ops, err := db.Open(cfg.Database.Type, cfg.Database.Dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open operational store: %w", err)
	}

	provisioner := &deploy.Provisioner{
		Devices:     devices,
		Credentials: credentials,
		Servers:     servers,
		Options: deploy.Options{
			Timeout:  time.Duration(cfg.ConnectTimeout) * time.Second,
			HostKeys: ops,
		},
		Audit: ops,
	}
	gatekeeper := &gate.Gatekeeper{
		Servers:  servers,
		Devices:  devices,
		Launch:   &gate.TerminalLauncher{},
		Provider: cfg.PKCS11Provider,
		Audit:    ops,
	}

	return &core.Manager{
		Servers:     servers,
		Devices:     devices,
		Credentials: credentials,
		Provisioner: provisioner,
		Gate:        gatekeeper,
		Audit:       ops,
		Trail:       ops,
	}, ops, nil
}

// report prints a Result and returns an error for failed operations so the
// process exit code reflects the outcome.
func report(res core.Result) error {
	if !res.Success {
		return fmt.Errorf("%s", res.Message)
	}
	fmt.Println(res.Message)
	return nil
}
