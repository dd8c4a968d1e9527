package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset [ids...]",
		Short: "Return failed products to pending",
		Long:  "Return failed products to pending so the next download retries them.\nPass product ids, or --all to reset every failed product.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			if len(ids) == 0 && !all {
				return errors.New("pass product ids or --all")
			}
			if len(ids) > 0 && all {
				return errors.New("--all cannot be combined with product ids")
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			n, err := store.ResetFailed(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed products to pending\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reset every failed product")
	return cmd
}
