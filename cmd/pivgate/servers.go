// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pivgate/pivgate/internal/model"
)

func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage the server registry",
	}
	cmd.AddCommand(newServersListCmd())
	cmd.AddCommand(newServersAddCmd())
	cmd.AddCommand(newServersUpdateCmd())
	cmd.AddCommand(newServersRmCmd())
	return cmd
}

func newServersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := app.manager.ListServers()
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				fmt.Println("No servers registered.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tADDRESS\tAUTHORIZED TOKENS")
			for _, s := range servers {
				fmt.Fprintf(w, "%s\t%s\t%s@%s\t%d\n", s.ID, s.Name, s.Username, s.Addr(), len(s.AuthorizedSerials))
			}
			return w.Flush()
		},
	}
}

// serverFieldFlags declares the shared add/update flags on cmd.
func serverFieldFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("host", "", "hostname or IP address")
	cmd.Flags().String("user", "", "remote account name")
	cmd.Flags().Int("port", 22, "SSH port")
}

func fieldsFromFlags(cmd *cobra.Command) model.ServerFields {
	name, _ := cmd.Flags().GetString("name")
	host, _ := cmd.Flags().GetString("host")
	user, _ := cmd.Flags().GetString("user")
	port, _ := cmd.Flags().GetInt("port")
	return model.ServerFields{Name: name, Hostname: host, Username: user, Port: port}
}

func newServersAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, res := app.manager.AddServer(fieldsFromFlags(cmd))
			if err := report(res); err != nil {
				return err
			}
			fmt.Printf("ID: %s\n", rec.ID)
			return nil
		},
	}
	serverFieldFlags(cmd)
	return cmd
}

func newServersUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <server-id>",
		Short: "Update a server's connection details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(app.manager.UpdateServer(args[0], fieldsFromFlags(cmd)))
		},
	}
	serverFieldFlags(cmd)
	return cmd
}

func newServersRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <server-id>",
		Short: "Remove a server from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(app.manager.DeleteServer(args[0]))
		},
	}
}
