// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List and select hardware tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List attached tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "select <serial>",
		Short: "Make a token the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(app.manager.SelectDevice(cmd.Context(), args[0]))
		},
	})
	return cmd
}

func listDevices() error {
	devices := app.manager.ListDevices(context.Background())
	if len(devices) == 0 {
		fmt.Println("No tokens detected.")
		return nil
	}
	selected, _ := app.manager.SelectedSerial()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tNAME\tVERSION\t")
	for _, d := range devices {
		marker := ""
		if d.Serial == selected {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Serial, d.Name, d.Version, marker)
	}
	return w.Flush()
}
