// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverFastDFS = "fastdfs"
	DriverMinio   = "minio"
	DriverMemory  = "memory"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port   string
	AppEnv string

	StorageDriver string

	// FastDFS cluster
	TrackerServers    []string
	WebServerURL      string // prefix of every returned URL, e.g. "http://192.168.0.202:9999/"
	Group             string // pin uploads to one group; empty lets the tracker choose
	ConnectTimeout    time.Duration
	SoTimeout         time.Duration
	PoolMaxTotal      int
	PoolMaxIdle       int
	PoolIdleTimeout   time.Duration
	TrackerRetryAfter time.Duration

	// Object storage (S3-compatible), used when StorageDriver is "minio"
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	// Optional collaborators; empty disables them.
	DatabaseURL      string
	RedisURL         string
	MetadataCacheTTL time.Duration
	JWTSecret        string

	DownloadFilename string
	MaxUploadBytes   int64
	UploadQPS        int
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading from environment")
	}

	return &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "development"),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", DriverFastDFS)),

		TrackerServers:    splitList(getEnv("FDFS_TRACKER_SERVERS", "127.0.0.1:22122")),
		WebServerURL:      NormalizeWebServerURL(getEnv("FDFS_WEB_SERVER_URL", "127.0.0.1:8888")),
		Group:             getEnv("FDFS_GROUP", ""),
		ConnectTimeout:    getDuration("FDFS_CONNECT_TIMEOUT", 5*time.Second),
		SoTimeout:         getDuration("FDFS_SO_TIMEOUT", 30*time.Second),
		PoolMaxTotal:      getInt("FDFS_POOL_MAX_TOTAL", 50),
		PoolMaxIdle:       getInt("FDFS_POOL_MAX_IDLE", 8),
		PoolIdleTimeout:   getDuration("FDFS_POOL_IDLE_TIMEOUT", time.Minute),
		TrackerRetryAfter: getDuration("FDFS_TRACKER_RETRY_AFTER", 30*time.Second),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:    getEnv("STORAGE_BUCKET", "group1"),
		StorageUseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		MetadataCacheTTL: getDuration("METADATA_CACHE_TTL", 10*time.Minute),
		JWTSecret:        getEnv("JWT_SECRET", ""),

		DownloadFilename: getEnv("DOWNLOAD_FILENAME", "test.jpg"),
		MaxUploadBytes:   int64(getInt("MAX_UPLOAD_MB", 100)) << 20,
		UploadQPS:        getInt("UPLOAD_QPS", 0),
	}
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	if c.WebServerURL == "" {
		return errors.New("FDFS_WEB_SERVER_URL must not be empty")
	}
	// Returned URLs are parsed back by taking the first segment that
	// contains "group" as the group name.
	if strings.Contains(c.WebServerURL, "group") {
		return fmt.Errorf("FDFS_WEB_SERVER_URL %q must not contain \"group\"", c.WebServerURL)
	}
	return nil
}

// NormalizeWebServerURL turns "host:port" or "http://host:port" into
// "http://host:port/" so a store path can be appended directly.
func NormalizeWebServerURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("5s") or plain milliseconds ("5000").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
