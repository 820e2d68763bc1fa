package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"flashrevise/api/internal/app"
	"flashrevise/api/internal/cloudblob"
	"flashrevise/api/internal/config"
	"flashrevise/api/internal/gitsync"
	"flashrevise/api/internal/localdir"
	"flashrevise/api/internal/search"
	"flashrevise/api/internal/session"
	"flashrevise/api/internal/store"
	"flashrevise/api/internal/syncer"
)

// stack is a wired Service plus everything that must be closed after it.
type stack struct {
	service *app.Service
	caps    localdir.CapabilityStore
	deps    app.Deps
	closers []io.Closer
}

func (s *stack) Close() {
	s.service.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

type dbPinger struct {
	db *sql.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// openStack connects the configured stores and adapters. Backends without
// configuration are left out; an adapter that fails to initialise is logged
// and skipped so the others stay usable.
func openStack(ctx context.Context, cfg config.Config, prompter localdir.Prompter) (*stack, error) {
	st := &stack{deps: app.Deps{Checks: map[string]app.Pinger{}}}
	fail := func(err error) (*stack, error) {
		for i := len(st.closers) - 1; i >= 0; i-- {
			_ = st.closers[i].Close()
		}
		return nil, err
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("database connection failed: %w", err))
		}
		st.closers = append(st.closers, db)
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fail(fmt.Errorf("migrations failed: %w", err))
		}
		log.Printf("Using PostgreSQL for application state")
		st.deps.State = store.NewPostgresState(db)
		st.deps.Fallbacks = append(st.deps.Fallbacks, search.NewPgFTS(db))
		st.deps.Checks["database"] = dbPinger{db: db}
	}

	st.caps = localdir.NewMemoryCapabilities()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis connection failed: %w", err))
		}
		st.closers = append(st.closers, redisStore)
		st.caps = redisStore
		st.deps.Checks["redis"] = redisStore
		if st.deps.State == nil {
			log.Printf("Using Redis for application state")
			st.deps.State = redisStore
		}
	}
	st.deps.Capabilities = st.caps

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		st.deps.Meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}

	ld := localdir.NewAdapter(st.caps, prompter)
	st.deps.LocalDir = ld
	st.deps.Adapters = append(st.deps.Adapters, ld)
	st.deps.Adapters = append(st.deps.Adapters, openAdapters(ctx, cfg, &st.deps)...)

	st.deps.Sync = syncer.New(ctx)
	st.service = app.New(cfg, st.deps)
	return st, nil
}

func openAdapters(ctx context.Context, cfg config.Config, deps *app.Deps) []syncer.Adapter {
	var adapters []syncer.Adapter
	gitOpts := gitsync.Options{Branch: cfg.GitHubBranch, BlobWorkers: cfg.BlobConcurrency}

	if cfg.GoogleClientID != "" {
		auth := cloudblob.NewDriveAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		deps.Drive = auth
		adapters = append(adapters, cloudblob.NewAdapter(config.AdapterDrive, cloudblob.NewAuthorizedDriveStore(auth), cfg.DriveFile))
	}

	if cfg.MinioAccessKey != "" {
		minioStore, err := cloudblob.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err == nil {
			err = minioStore.EnsureBucket(ctx)
		}
		if err != nil {
			log.Printf("minio: %v", err)
		} else {
			adapters = append(adapters, cloudblob.NewAdapter(config.AdapterMinio, minioStore, cfg.DriveFile))
		}
	}

	if cfg.GitHubToken != "" && cfg.GitHubOwner != "" && cfg.GitHubRepo != "" {
		db, err := gitsync.NewGitHubDB(ctx, cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepo, cfg.GitHubAPIURL)
		if err != nil {
			log.Printf("github: %v", err)
		} else {
			adapters = append(adapters, gitsync.NewAdapter(config.AdapterGitHub, db, gitOpts))
		}
	}

	// The local repository is created on first use only when asked for.
	if _, err := os.Stat(cfg.GitDir); cfg.Adapter == config.AdapterGitLocal || err == nil {
		db, err := gitsync.OpenLocalRepo(cfg.GitDir)
		if err != nil {
			log.Printf("gitlocal: %v", err)
		} else {
			adapters = append(adapters, gitsync.NewAdapter(config.AdapterGitLocal, db, gitOpts))
		}
	}
	return adapters
}

// start links cfg.LocalDir when set, then restores saved state. Without a
// state store the active adapter is the only copy, so it is pulled.
func (s *stack) start(ctx context.Context, cfg config.Config, prompter localdir.Prompter) error {
	if dir := strings.TrimSpace(cfg.LocalDir); dir != "" {
		h, err := localdir.SelectDirectory(ctx, localdir.FixedPicker{Name: dir, Root: dir}, s.caps, prompter)
		if err != nil {
			return fmt.Errorf("link %s: %w", dir, err)
		}
		s.deps.LocalDir.Use(h)
	}
	if err := s.service.Bootstrap(ctx); err != nil {
		return err
	}
	if s.deps.State == nil && s.service.SyncStatus().Adapter != "" {
		if _, err := s.service.Pull(ctx); err != nil && !errors.Is(err, syncer.ErrPermissionDenied) {
			return fmt.Errorf("initial pull: %w", err)
		}
	}
	return nil
}
