package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flashrevise/api/internal/config"
	"flashrevise/api/internal/syncer"
)

// runOnce wires the stack, restores state and runs fn against the service.
func runOnce(cmd *cobra.Command, cfg config.Config, fn func(ctx context.Context, st *stack) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	prompter := huhPrompter{}
	st, err := openStack(ctx, cfg, prompter)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.start(ctx, cfg, prompter); err != nil {
		return err
	}
	if st.service.SyncStatus().Adapter == "" {
		return fmt.Errorf("no sync adapter selected, set FLASHREVISE_ADAPTER or --adapter")
	}
	return fn(ctx, st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syncCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push the saved snapshot to the configured adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, *cfg, func(ctx context.Context, st *stack) error {
				status, err := st.service.SyncNow(ctx)
				if perr := printJSON(status); perr != nil {
					return perr
				}
				if err != nil {
					return fmt.Errorf("sync %s (%s): %w", status.Adapter, syncer.Kind(err), err)
				}
				return nil
			})
		},
	}
}

func pullCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Replace the saved snapshot with the adapter's copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, *cfg, func(ctx context.Context, st *stack) error {
				loaded, err := st.service.Pull(ctx)
				if err != nil {
					return err
				}
				if !loaded {
					fmt.Println("nothing stored yet")
					return nil
				}
				return printJSON(st.service.Snapshot().Counts())
			})
		},
	}
}

func diagnoseCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Probe write and read access on the linked directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *cfg
			cfg.Adapter = config.AdapterLocalDir
			return runOnce(cmd, cfg, func(ctx context.Context, st *stack) error {
				steps, err := st.service.DiagnoseDirectory(ctx)
				if err != nil {
					return err
				}
				for _, step := range steps {
					mark := "ok"
					if !step.OK {
						mark = "FAIL"
					}
					fmt.Printf("%-10s %-4s %s\n", step.Name, mark, step.Detail)
				}
				if len(steps) == 0 || !steps[len(steps)-1].OK {
					return fmt.Errorf("diagnose failed")
				}
				return nil
			})
		},
	}
}
