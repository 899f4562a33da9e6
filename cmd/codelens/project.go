package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/codelens/internal/project"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage project descriptors",
	}
	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectActivateCmd())
	cmd.AddCommand(newProjectRemoveCmd())
	return cmd
}

func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", &configError{err: fmt.Errorf("%s is not a directory", abs)}
	}
	return abs, nil
}

func newProjectCreateCmd() *cobra.Command {
	var languages []string

	cmd := &cobra.Command{
		Use:   "create [path]",
		Short: "Create a project descriptor, detecting languages when none are given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			if _, err := project.LoadConfig(root); err == nil {
				return &configError{err: fmt.Errorf("descriptor already exists at %s", project.DescriptorPath(root))}
			}

			if len(languages) == 0 {
				languages, err = project.DetectLanguages(root)
				if err != nil {
					return err
				}
				if len(languages) == 0 {
					return &configError{err: project.ErrNoSupportedSource}
				}
			}

			config := &project.Config{
				ProjectName: filepath.Base(root),
				Languages:   languages,
			}
			if err := config.Save(root); err != nil {
				return &configError{err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (languages: %v)\n",
				project.DescriptorPath(root), languages)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&languages, "language", nil, "declare languages instead of detecting")
	return cmd
}

func newProjectActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate [path]",
		Short: "Validate a project descriptor and report its configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			config, err := project.LoadConfig(root)
			if err != nil {
				return &configError{err: err}
			}
			proj, err := project.Open(root, config)
			if err != nil {
				return &configError{err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project %s at %s\nlanguages: %v\nread_only: %v\n",
				config.ProjectName, proj.Root(), config.Languages, config.ReadOnly)
			return nil
		},
	}
}

func newProjectRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [path]",
		Short: "Remove a project's descriptor and cached state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			appDir := filepath.Join(root, project.AppDirName)
			if _, err := os.Stat(appDir); os.IsNotExist(err) {
				return &configError{err: fmt.Errorf("no project state at %s", appDir)}
			}
			if err := os.RemoveAll(appDir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", appDir)
			return nil
		},
	}
}
