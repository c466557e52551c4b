package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <agent> <input...>",
		Short: "Send one request to an agent",
		Long: `Send one request to a named agent and print its final answer.

The agent "orchestrator" plans the request and runs the resulting tasks as a
workflow across the other agents.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeFn, err := a.openService(ctx, nil, true)
			defer closeFn()
			if err != nil {
				return err
			}

			out, err := svc.Run(ctx, args[0], strings.Join(args[1:], " "))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
}
