package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/qsearch/internal/config"
)

func initConfigCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default .qsearch.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dir, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := config.SaveSearchConfig(dir, config.DefaultSearchConfig()); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write the config to")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	return cmd
}
