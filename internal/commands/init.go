package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/bcsync/internal/config"
)

func newInitCommand() *cobra.Command {
	var tenantID string
	var environment string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new bcsync project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			if err := runInit(absDir, tenantID, environment); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized bcsync project at %s\n", absDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Entra ID tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.Flags().StringVar(&environment, "environment", "production", "Business Central environment name")

	return cmd
}

func runInit(dir, tenantID, environment string) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	cfg := config.Default(tenantID, environment)

	// Create directory structure.
	dirs := []string{
		cfg.Sync.InputDir,
		filepath.Join(cfg.Sync.InputDir, "processed"),
		cfg.Sync.AttachmentsDir,
		filepath.Dir(cfg.Sync.LogFile),
		filepath.Dir(cfg.Sync.StateFile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Credentials belong in .env or the environment, never in git.
	gitignore := ".env\n" + config.FileName + "\n.bcsync/\nlogs/\n" + filepath.ToSlash(filepath.Join(cfg.Sync.InputDir, "processed")) + "/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, cfg.Sync.InputDir, ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}

	return nil
}
