package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Adapter names accepted by FLASHREVISE_ADAPTER.
const (
	AdapterNone     = "none"
	AdapterLocalDir = "localdir"
	AdapterDrive    = "drive"
	AdapterMinio    = "minio"
	AdapterGitHub   = "github"
	AdapterGitLocal = "gitlocal"
)

type Config struct {
	Addr          string
	APIToken      string
	CORSOrigin    string
	Adapter       string
	LogFile       string
	MigrationsDir string
	// Local directory mirror
	LocalDir string
	// GitHub Git Data API
	GitHubToken     string
	GitHubOwner     string
	GitHubRepo      string
	GitHubBranch    string
	GitHubAPIURL    string
	BlobConcurrency int
	// Local go-git mirror
	GitDir string
	// Google Drive
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	DriveFile          string
	// S3-compatible blob storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// Application state stores; empty disables them
	RedisURL    string
	DatabaseURL string
	// Search
	MeiliURL       string
	MeiliMasterKey string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          getenv("FLASHREVISE_ADDR", ":8788"),
		APIToken:      getenv("FLASHREVISE_API_TOKEN", ""),
		CORSOrigin:    getenv("FLASHREVISE_CORS_ORIGIN", "*"),
		Adapter:       strings.ToLower(getenv("FLASHREVISE_ADAPTER", AdapterNone)),
		LogFile:       getenv("FLASHREVISE_LOG_FILE", ""),
		MigrationsDir: getenv("FLASHREVISE_MIGRATIONS_DIR", "./db/migrations"),

		LocalDir: getenv("FLASHREVISE_LOCAL_DIR", ""),

		GitHubToken:     getenv("GITHUB_TOKEN", ""),
		GitHubOwner:     getenv("GITHUB_OWNER", ""),
		GitHubRepo:      getenv("GITHUB_REPO", ""),
		GitHubBranch:    getenv("GITHUB_BRANCH", "main"),
		GitHubAPIURL:    getenv("GITHUB_API_URL", ""),
		BlobConcurrency: getenvInt("FLASHREVISE_BLOB_CONCURRENCY", 4),

		GitDir: getenv("FLASHREVISE_GIT_DIR", "./data/flashcards.git"),

		GoogleClientID:     getenv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getenv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getenv("GOOGLE_REDIRECT_URL", "http://localhost:8788/api/auth/drive/callback"),
		DriveFile:          getenv("FLASHREVISE_DRIVE_FILE", "flashrevise_data.json"),

		MinioEndpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "flashrevise"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),

		RedisURL:    getenv("REDIS_URL", ""),
		DatabaseURL: getenv("DATABASE_URL", ""),

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
