package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(false).
		Headers(headers...)
}

func (a *app) agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := a.openService(cmd.Context(), nil, false)
			defer closeFn()
			if err != nil {
				return err
			}

			t := newTable("AGENT", "PROVIDER", "TOOLS", "DESCRIPTION")
			for _, name := range svc.Agents() {
				provider, _, _ := a.cfg.Provider(name)
				toolList := strings.Join(a.cfg.Agents[name].Tools, ", ")
				t.Row(name, provider, toolList, svc.Describe(name))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

func (a *app) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List built-in tools and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := a.openService(cmd.Context(), nil, false)
			defer closeFn()
			if err != nil {
				return err
			}

			t := newTable("TOOL", "PARAMETERS", "CONFIRM", "DESCRIPTION")
			for _, spec := range svc.Tools().Specs() {
				params := make([]string, 0, len(spec.Params))
				for _, p := range spec.Params {
					if p.Required {
						params = append(params, p.Name+"*")
					} else {
						params = append(params, p.Name)
					}
				}
				confirm := ""
				if spec.RequiresConfirmation {
					confirm = "yes"
				}
				t.Row(spec.Name, strings.Join(params, ", "), confirm, spec.Description)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}
