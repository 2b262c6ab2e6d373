package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"github.com/ssau-fiit/cloudocs-sync/client"
	"time"
)

var catCmd = &cobra.Command{
	Use:   "cat",
	Short: "Print the current content of a document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		cc, err := cfg.Client()
		if err != nil {
			return err
		}
		cc.MaxReconnectAttempts = -1

		c, err := client.New(cc)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		synced := c.Subscribe(ctx, 1, client.EventSyncComplete)
		if err := c.Connect(ctx); err != nil {
			return err
		}

		if _, ok := <-synced; !ok {
			return errors.New("timed out waiting for document sync")
		}

		fmt.Fprint(cmd.OutOrStdout(), c.Content())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	addSessionFlags(catCmd)
	catCmd.Flags().Duration("timeout", 15*time.Second, "How long to wait for the document")
}
