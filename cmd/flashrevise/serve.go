package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flashrevise/api/internal/app"
	"flashrevise/api/internal/auth"
	"flashrevise/api/internal/config"
)

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			prompter := huhPrompter{}

			st, err := openStack(ctx, *cfg, prompter)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.start(ctx, *cfg, prompter); err != nil {
				log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
			}

			verifier := auth.NewVerifier(cfg.APIToken)
			if !verifier.Enabled() {
				log.Printf("WARNING: FLASHREVISE_API_TOKEN is empty, the API is unauthenticated")
			}
			httpServer := app.NewHTTPServer(st.service, cfg.CORSOrigin, verifier)
			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			go func() {
				log.Printf("FlashRevise API listening on %s", cfg.Addr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("server failed: %v", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("shutdown error: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	return cmd
}
