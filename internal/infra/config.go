package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents application configuration loaded from environment variables
// and an optional YAML file named by UPSCALER_CONFIG.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	MigrateOnStart bool
	DBMaxConns     int32
	DBMinConns     int32

	SupabaseURL       string
	SupabaseJWTSecret string

	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateModelVersion string
	ReplicateFaceEnhance  bool
	// ReplicateFormatInput names the model input that selects the output
	// format. Empty for models that always emit one format.
	ReplicateFormatInput string
	UpscaleTimeout        time.Duration
	UpscalePollInterval   time.Duration

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	SessionCapacity int
	SessionTTL      time.Duration

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

const (
	StorageDriverFilesystem = "filesystem"
	StorageDriverMinio      = "minio"

	DefaultReplicateModelVersion = "42fed1c4974146d4d2414e2be2c5277c7fcf05fcc3a73abf41610695738c1d7b"
)

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("migrate_on_start", false)
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("db_min_conns", 1)
	v.SetDefault("supabase_url", "")
	v.SetDefault("supabase_jwt_secret", "")
	v.SetDefault("replicate_api_token", "")
	v.SetDefault("replicate_base_url", "https://api.replicate.com/v1")
	v.SetDefault("replicate_model_version", DefaultReplicateModelVersion)
	v.SetDefault("replicate_face_enhance", true)
	v.SetDefault("replicate_format_input", "")
	v.SetDefault("upscale_timeout_seconds", 60)
	v.SetDefault("upscale_poll_interval_ms", 1000)
	v.SetDefault("storage_driver", StorageDriverFilesystem)
	v.SetDefault("storage_path", "./data/blobs")
	v.SetDefault("storage_base_url", "")
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "upscales")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("session_capacity", 1024)
	v.SetDefault("session_ttl_minutes", 60)
	v.SetDefault("http_read_timeout_seconds", 15)
	v.SetDefault("http_write_timeout_seconds", 90)
	v.SetDefault("http_idle_timeout_seconds", 60)
	v.SetDefault("rate_limit_per_minute", 30)
	v.SetDefault("cors_allowed_origins", "*")

	v.SetConfigType("yaml")
	if path := os.Getenv("UPSCALER_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// LoadConfig loads configuration and applies defaults where needed.
func LoadConfig() (*Config, error) {
	v := newViper()
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:                v.GetString("app_env"),
		Port:                  v.GetString("port"),
		DatabaseURL:           v.GetString("database_url"),
		MigrateOnStart:        v.GetBool("migrate_on_start"),
		DBMaxConns:            v.GetInt32("db_max_conns"),
		DBMinConns:            v.GetInt32("db_min_conns"),
		SupabaseURL:           strings.TrimRight(v.GetString("supabase_url"), "/"),
		SupabaseJWTSecret:     v.GetString("supabase_jwt_secret"),
		ReplicateAPIToken:     v.GetString("replicate_api_token"),
		ReplicateBaseURL:      strings.TrimRight(v.GetString("replicate_base_url"), "/"),
		ReplicateModelVersion: v.GetString("replicate_model_version"),
		ReplicateFaceEnhance:  v.GetBool("replicate_face_enhance"),
		ReplicateFormatInput:  strings.TrimSpace(v.GetString("replicate_format_input")),
		UpscaleTimeout:        time.Second * time.Duration(v.GetInt("upscale_timeout_seconds")),
		UpscalePollInterval:   time.Millisecond * time.Duration(v.GetInt("upscale_poll_interval_ms")),
		StorageDriver:         strings.ToLower(v.GetString("storage_driver")),
		StoragePath:           v.GetString("storage_path"),
		StorageBaseURL:        strings.TrimRight(v.GetString("storage_base_url"), "/"),
		MinioEndpoint:         v.GetString("minio_endpoint"),
		MinioAccessKey:        v.GetString("minio_access_key"),
		MinioSecretKey:        v.GetString("minio_secret_key"),
		MinioBucket:           v.GetString("minio_bucket"),
		MinioUseSSL:           v.GetBool("minio_use_ssl"),
		SessionCapacity:       v.GetInt("session_capacity"),
		SessionTTL:            time.Minute * time.Duration(v.GetInt("session_ttl_minutes")),
		HTTPReadTimeout:       time.Second * time.Duration(v.GetInt("http_read_timeout_seconds")),
		HTTPWriteTimeout:      time.Second * time.Duration(v.GetInt("http_write_timeout_seconds")),
		HTTPIdleTimeout:       time.Second * time.Duration(v.GetInt("http_idle_timeout_seconds")),
		RateLimitPerMin:       v.GetInt("rate_limit_per_minute"),
		CORSAllowedOrigins:    splitList(v.GetString("cors_allowed_origins")),
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem:
		if cfg.StorageBaseURL == "" {
			cfg.StorageBaseURL = "http://localhost:" + cfg.Port + "/static"
		}
	case StorageDriverMinio:
		if cfg.MinioEndpoint == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_DRIVER=minio")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.UpscaleTimeout <= 0 {
		return nil, fmt.Errorf("UPSCALE_TIMEOUT_SECONDS must be positive")
	}
	if cfg.SessionCapacity <= 0 {
		cfg.SessionCapacity = 1024
	}
	if cfg.DBMaxConns <= 0 {
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}

	return cfg, nil
}

// submitWaitSlack covers the provider's last poll and encoding the response.
const submitWaitSlack = 5 * time.Second

// SubmitWaitLimit is how long a ?wait=true submission may hold its response.
func (c *Config) SubmitWaitLimit() time.Duration {
	return c.UpscaleTimeout + submitWaitSlack
}

// HistoryEnabled reports whether a database is configured for job history.
func (c *Config) HistoryEnabled() bool {
	return c.DatabaseURL != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
