package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"flashrevise/api/internal/config"
	"flashrevise/api/internal/localdir"
)

// huhPicker asks for a directory path on the terminal.
type huhPicker struct{}

func (huhPicker) Pick(ctx context.Context) (localdir.Descriptor, error) {
	var root string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Directory to mirror flashcards into").
			Placeholder("~/Documents/flashcards").
			Value(&root).
			Validate(validDirectory),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return localdir.Descriptor{}, localdir.ErrUserCancelled
		}
		return localdir.Descriptor{}, err
	}
	root = expandHome(strings.TrimSpace(root))
	if root == "" {
		return localdir.Descriptor{}, localdir.ErrUserCancelled
	}
	return localdir.Descriptor{Name: filepath.Base(root), Root: root}, nil
}

// huhPrompter asks the user to confirm access to a stored directory.
type huhPrompter struct{}

func (huhPrompter) Confirm(ctx context.Context, name string, mode localdir.Mode) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Allow %s access to %s?", mode, name)).
			Affirmative("Allow").
			Negative("Deny").
			Value(&ok),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func validDirectory(value string) error {
	value = expandHome(strings.TrimSpace(value))
	if value == "" {
		return nil
	}
	info, err := os.Stat(value)
	if err != nil {
		return fmt.Errorf("cannot open %s", value)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", value)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func linkDirCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "link-dir [path]",
		Short: "Choose the directory the localdir adapter mirrors into",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.RedisURL == "" {
				return fmt.Errorf("link-dir needs REDIS_URL to remember the directory")
			}
			var picker localdir.Picker = huhPicker{}
			if len(args) == 1 {
				root, err := filepath.Abs(expandHome(args[0]))
				if err != nil {
					return err
				}
				if err := validDirectory(root); err != nil {
					return err
				}
				picker = localdir.FixedPicker{Name: filepath.Base(root), Root: root}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			local := *cfg
			local.LocalDir = ""
			st, err := openStack(ctx, local, huhPrompter{})
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.start(ctx, local, huhPrompter{}); err != nil {
				return err
			}

			linked, err := st.service.LinkDirectory(ctx, picker, huhPrompter{})
			if err != nil {
				return err
			}
			if !linked {
				fmt.Println("no directory selected")
				return nil
			}
			h, err := st.deps.LocalDir.Handle(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("linked %s; set FLASHREVISE_ADAPTER=localdir to sync into it\n", h.Descriptor().Root)
			return nil
		},
	}
}
