// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"

	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"
)

func newFingerprintCommand(g *globalFlags) *cobra.Command {
	var qr bool

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the key fingerprint the proxy sees",
		Long: `Print the fingerprint of the key derived from the passphrase.  The
proxy operator registers the passphrase; comparing fingerprints confirms
both sides derived the same key without revealing it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := resolveKey(cmd, g.Passphrase)
			if err != nil {
				return err
			}
			fp := k.Fingerprint()
			k.Reset()

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, fp)
			if qr {
				qrterminal.GenerateWithConfig(fp, qrterminal.Config{
					Level:      qrterminal.L,
					Writer:     w,
					HalfBlocks: true,
					QuietZone:  1,
				})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", false, "also render the fingerprint as a QR code")
	return cmd
}
