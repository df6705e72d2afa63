package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	DataDir    string
	CORSOrigin string

	// File lock behaviour for on-disk critical sections.
	LockTimeout      time.Duration
	LockPollInterval time.Duration

	// Cache eviction and periodic persistence cadence.
	EvictTTL        time.Duration
	EvictInterval   time.Duration
	PersistInterval time.Duration

	// Rendering pipeline.
	RenderWorkers      int
	RenderPollInterval time.Duration
	RenderArchiveCap   int
	ChromiumPath       string

	// Redis - optional mirror for render request statuses.
	RedisURL       string
	RedisStatusTTL time.Duration

	// MinIO - optional upload target for finished artifacts.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Meilisearch - optional project search index.
	MeiliURL       string
	MeiliMasterKey string
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8686"),
		DataDir:    getenv("FOLIO_DATA_DIR", "./data"),
		CORSOrigin: getenv("FOLIO_CORS_ORIGIN", "*"),

		LockTimeout:      time.Duration(getenvInt("FOLIO_LOCK_TIMEOUT_MS", 5000)) * time.Millisecond,
		LockPollInterval: time.Duration(getenvInt("FOLIO_LOCK_POLL_MS", 25)) * time.Millisecond,

		EvictTTL:        time.Duration(getenvInt("FOLIO_EVICT_TTL_SECONDS", 600)) * time.Second,
		EvictInterval:   time.Duration(getenvInt("FOLIO_EVICT_INTERVAL_SECONDS", 60)) * time.Second,
		PersistInterval: time.Duration(getenvInt("FOLIO_PERSIST_INTERVAL_SECONDS", 120)) * time.Second,

		RenderWorkers:      getenvInt("FOLIO_RENDER_WORKERS", 2),
		RenderPollInterval: time.Duration(getenvInt("FOLIO_RENDER_POLL_MS", 250)) * time.Millisecond,
		RenderArchiveCap:   getenvInt("FOLIO_RENDER_ARCHIVE_CAP", 1000),
		ChromiumPath:       getenv("FOLIO_CHROMIUM_PATH", ""),

		// Redis - empty by default, status mirror disabled if not configured
		RedisURL:       getenv("REDIS_URL", ""),
		RedisStatusTTL: time.Duration(getenvInt("FOLIO_REDIS_STATUS_TTL_SECONDS", 604800)) * time.Second,

		// MinIO - empty by default, artifact upload disabled if not configured
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "folio-artifacts"),
		MinioUseSSL:    getenvInt("MINIO_USE_SSL", 0) == 1,

		// Meilisearch - empty by default, search falls back to the in-memory index
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
