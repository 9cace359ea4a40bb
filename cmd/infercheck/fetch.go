package main

import (
	"errors"
	"fmt"

	"github.com/andrewh/infercheck/pkg/fetch"
	"github.com/spf13/cobra"
)

const defaultDownloadPath = "receipt.jpg"

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url> [output]",
		Short: "Download a receipt image",
		Long:  "Download a file over HTTP/HTTPS (30-second timeout) to output, receipt.jpg by default.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("missing URL\n\nUsage: infercheck fetch <url> [output]")
			}
			if !fetch.IsURL(args[0]) {
				return fmt.Errorf("%q is not an http or https URL", args[0])
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := defaultDownloadPath
			if len(args) == 2 {
				dest = args[1]
			}
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			n, err := fetch.Image().Download(ctx, args[0], dest)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d bytes to %s\n\nTo extract it:\n  infercheck receipt %s\n", n, dest, dest)
			return nil
		},
	}
}
