package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/qsearch/internal/config"
	"github.com/QTest-hq/qsearch/internal/goals"
	"github.com/QTest-hq/qsearch/internal/sandbox"
)

func goalsCmd() *cobra.Command {
	var (
		scope            string
		criteria         []string
		contextSensitive bool
	)

	cmd := &cobra.Command{
		Use:   "goals",
		Short: "List the coverage goals of the sandbox subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadEnv(); err != nil {
				return err
			}

			cfg := config.DefaultSearchConfig()
			cfg.Subject.Scope = scope
			cfg.Subject.Criteria = criteria
			if err := cfg.Validate(); err != nil {
				return err
			}

			reg, err := sandbox.New().Goals(cmd.Context(), cfg.Subject.Scope, cfg.Criteria()...)
			if err != nil {
				return err
			}

			return printGoals(cmd.OutOrStdout(), reg, contextSensitive)
		},
	}

	cmd.Flags().StringVarP(&scope, "scope", "s", "*", "Class to list goals for, or * for all")
	cmd.Flags().StringSliceVar(&criteria, "criteria", []string{string(goals.CriterionBranch)}, "Coverage criteria (branch, line, method)")
	cmd.Flags().BoolVar(&contextSensitive, "context", false, "Only list context-sensitive goals")

	return cmd
}

func printGoals(w io.Writer, reg *goals.Registry, contextOnly bool) error {
	list := reg.Goals()
	if contextOnly {
		list = reg.ContextSensitive()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCLASS\tMETHOD\tGOAL")
	for _, g := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", g.Kind(), g.Class(), g.Method(), g)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d goals (%d context-sensitive)\n", len(list), len(reg.ContextSensitive()))
	return err
}
