package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Tiling    TilingConfig
	GCS       GCSConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	UploadDir   string
	CacheDir    string
	MaxUploadMB int
}

// TilingConfig holds the default pyramid parameters; a conversion request
// may override any of them per slide.
type TilingConfig struct {
	TileSize int
	Overlap  int
	Format   string
	Quality  int
	// Workers bounds tile fan-out within one slide's conversion.
	Workers int
	// Conversions bounds how many slides convert at once.
	Conversions int
}

type GCSConfig struct {
	CredentialsFile string
	Bucket          string
}

type RateLimitConfig struct {
	ConvertPerHour  int
	UploadPerHour   int
	DownloadPerHour int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GCS_CREDENTIALS_FILE")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("storage.upload_dir", "UPLOAD_DIR")
	_ = viper.BindEnv("storage.cache_dir", "CACHE_DIR")
	_ = viper.BindEnv("storage.max_upload_mb", "MAX_UPLOAD_MB")
	_ = viper.BindEnv("tiling.tile_size", "TILE_SIZE")
	_ = viper.BindEnv("tiling.overlap", "TILE_OVERLAP")
	_ = viper.BindEnv("tiling.format", "TILE_FORMAT")
	_ = viper.BindEnv("tiling.quality", "TILE_QUALITY")
	_ = viper.BindEnv("tiling.workers", "TILE_WORKERS")
	_ = viper.BindEnv("tiling.conversions", "CONVERT_CONCURRENCY")
	_ = viper.BindEnv("gcs.credentials_file", "GCS_CREDENTIALS_FILE")
	_ = viper.BindEnv("gcs.bucket", "GCS_BUCKET_NAME")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("storage.upload_dir", "uploads")
	viper.SetDefault("storage.cache_dir", "cache")
	viper.SetDefault("storage.max_upload_mb", 2048)

	// DeepZoom defaults match the common OpenSeadragon tiling setup
	viper.SetDefault("tiling.tile_size", 254)
	viper.SetDefault("tiling.overlap", 1)
	viper.SetDefault("tiling.format", "jpeg")
	viper.SetDefault("tiling.quality", 75)
	viper.SetDefault("tiling.workers", 4)
	viper.SetDefault("tiling.conversions", 2)

	viper.SetDefault("ratelimit.convert_per_hour", 20)
	viper.SetDefault("ratelimit.upload_per_hour", 50)
	viper.SetDefault("ratelimit.download_per_hour", 50)

	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			UploadDir:   viper.GetString("storage.upload_dir"),
			CacheDir:    viper.GetString("storage.cache_dir"),
			MaxUploadMB: viper.GetInt("storage.max_upload_mb"),
		},
		Tiling: TilingConfig{
			TileSize:    viper.GetInt("tiling.tile_size"),
			Overlap:     viper.GetInt("tiling.overlap"),
			Format:      viper.GetString("tiling.format"),
			Quality:     viper.GetInt("tiling.quality"),
			Workers:     viper.GetInt("tiling.workers"),
			Conversions: viper.GetInt("tiling.conversions"),
		},
		GCS: GCSConfig{
			CredentialsFile: viper.GetString("gcs.credentials_file"),
			Bucket:          viper.GetString("gcs.bucket"),
		},
		RateLimit: RateLimitConfig{
			ConvertPerHour:  viper.GetInt("ratelimit.convert_per_hour"),
			UploadPerHour:   viper.GetInt("ratelimit.upload_per_hour"),
			DownloadPerHour: viper.GetInt("ratelimit.download_per_hour"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
