// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var errHTTPStatus = errors.New("destination returned an error status")

func newDownloadCommand(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download URL",
		Short: "Fetch a URL through the proxy",
		Long: `Fetch a URL through the proxy and write the body to a file or stdout.

The proxy is probed and the key checked before the request is sent.
Redirects reported by the proxy are followed up to the configured limit.
A partially written output file is removed on failure.`,
		Example: `  # Print a page
  swenc download -s https://proxy.example.org https://example.com/

  # Save a file, reading the passphrase from the environment
  SWENC_KEY='correct horse' swenc download -s https://proxy.example.org \
    -o report.pdf https://example.com/report.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitStatus(runDownload(cmd, g, args[0], output))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout if omitted")
	return cmd
}

func runDownload(cmd *cobra.Command, g *globalFlags, target, output string) error {
	c, _, err := g.newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	if err := c.Probe(ctx); err != nil {
		return err
	}
	if err := c.Check(ctx); err != nil {
		return err
	}

	resp, err := c.FetchURL(ctx, target)
	if err != nil {
		return err
	}
	defer resp.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", errHTTPStatus, resp.StatusCode)
	}

	if output == "" {
		_, err = resp.WriteTo(cmd.OutOrStdout())
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if _, err = resp.WriteTo(f); err == nil {
		err = f.Close()
	} else {
		f.Close()
	}
	if err != nil {
		os.Remove(output)
		return err
	}
	if n := resp.ContentLength(); n >= 0 {
		if fi, err := os.Stat(output); err == nil && fi.Size() != n && resp.Header.Get("Content-Encoding") == "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: wrote %d bytes, destination announced %d\n", fi.Size(), n)
		}
	}
	return nil
}
