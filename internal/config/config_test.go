package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLASHREVISE_ADAPTER", "")
	t.Setenv("FLASHREVISE_BLOB_CONCURRENCY", "")
	t.Setenv("GITHUB_BRANCH", "")

	cfg := Load()
	if cfg.Adapter != AdapterNone {
		t.Fatalf("Adapter = %q, want %q", cfg.Adapter, AdapterNone)
	}
	if cfg.BlobConcurrency != 4 {
		t.Fatalf("BlobConcurrency = %d, want 4", cfg.BlobConcurrency)
	}
	if cfg.GitHubBranch != "main" {
		t.Fatalf("GitHubBranch = %q, want main", cfg.GitHubBranch)
	}
	if cfg.DriveFile != "flashrevise_data.json" {
		t.Fatalf("DriveFile = %q", cfg.DriveFile)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLASHREVISE_ADAPTER", "GitHub")
	t.Setenv("FLASHREVISE_BLOB_CONCURRENCY", "9")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Adapter != AdapterGitHub {
		t.Fatalf("Adapter = %q, want %q", cfg.Adapter, AdapterGitHub)
	}
	if cfg.BlobConcurrency != 9 {
		t.Fatalf("BlobConcurrency = %d, want 9", cfg.BlobConcurrency)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected MinioUseSSL")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("FLASHREVISE_BLOB_CONCURRENCY", "lots")
	t.Setenv("MINIO_USE_SSL", "maybe")

	cfg := Load()
	if cfg.BlobConcurrency != 4 {
		t.Fatalf("BlobConcurrency = %d, want fallback 4", cfg.BlobConcurrency)
	}
	if cfg.MinioUseSSL {
		t.Fatal("expected fallback false for MinioUseSSL")
	}
}
