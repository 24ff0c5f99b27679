// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <server-id>",
		Short: "Open an SSH session to a server using the active token",
		Long: `Checks that the active token has been deployed to the server and, if
so, hands the connection off to ssh with the token's PKCS#11 provider.
The PIN entry and the actual authentication happen in the spawned ssh
process, not in PivGate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(app.manager.Connect(cmd.Context(), args[0]))
		},
	}
}
