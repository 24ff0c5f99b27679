// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/pivgate/pivgate/internal/security"
	"github.com/pivgate/pivgate/internal/state"
)

func newShowKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show-key",
		Short: "Print the active token's SSH public key",
		Long: `Prints the authorized_keys line exported from the active token's PIV
authentication slot. The first export may need the token PIN if the slot
has to be populated with fresh key material.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pin := security.FromBytes(state.PINCache.Get())
			defer pin.Zero()

			line, res := app.manager.ShowPublicKey(cmd.Context(), pin)
			if err := report(res); err != nil {
				return err
			}
			if copyFlag, _ := cmd.Flags().GetBool("copy"); copyFlag {
				if err := clipboard.WriteAll(line); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Println("Copied to clipboard.")
			}
			return nil
		},
	}
	cmd.Flags().Bool("copy", false, "also copy the key to the clipboard")
	return cmd
}

func newInvalidateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate-key <serial>",
		Short: "Drop the cached exported key for a token",
		Long: `Removes the cached authorized_keys line for the given serial so the
next export re-reads the token hardware. Use this after re-keying a token
out of band.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(app.manager.InvalidateCredential(args[0]))
		},
	}
}
