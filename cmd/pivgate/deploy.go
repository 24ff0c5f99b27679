// Copyright (c) 2025 PivGate Team
// PivGate - hardware token SSH access manager
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pivgate/pivgate/internal/security"
	"github.com/pivgate/pivgate/internal/state"
)

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <server-id>",
		Short: "Deploy the active token's key to a server",
		Long: `Opens a password-authenticated SSH session to the server, verifies its
SSH setup, appends the active token's public key to authorized_keys and
records the authorization locally. The password and PIN are prompted for
interactively and held only in memory for the duration of the attempt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptSecret(state.PasswordCache, "Password for remote account: ")
			if err != nil {
				return err
			}
			defer password.Zero()
			defer state.PasswordCache.Clear()

			pin, err := promptSecret(state.PINCache, "Token PIN (blank to skip): ")
			if err != nil {
				return err
			}
			defer pin.Zero()
			defer state.PINCache.Clear()

			return report(app.manager.DeployKey(cmd.Context(), args[0], password, pin))
		},
	}
	return cmd
}

// promptSecret returns the cached secret if one was staged (tests and
// scripted flows use the mailbox), otherwise reads it from the terminal
// without echo.
func promptSecret(cache interface{ Get() []byte }, prompt string) (security.Secret, error) {
	if staged := cache.Get(); staged != nil {
		return security.FromBytes(staged), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	secret := security.FromBytes(raw)
	for i := range raw {
		raw[i] = 0
	}
	return secret, nil
}
