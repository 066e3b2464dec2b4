package internal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/guildgallery/guildgallery_server/internal/storage"
)

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	// URL is a Postgres connection string. Empty means the server keeps
	// gallery records in memory only.
	URL string `mapstructure:"url"`
}

type StorageConfig struct {
	Type        string `mapstructure:"type"`
	LocalPath   string `mapstructure:"local_path"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
}

type UploadConfig struct {
	ChunkSize       int64         `mapstructure:"chunk_size"`
	MaxFileSize     int64         `mapstructure:"max_file_size"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

func (c *StorageConfig) BackendConfig() *storage.BackendConfig {
	return &storage.BackendConfig{
		Type:        storage.BackendType(c.Type),
		LocalPath:   c.LocalPath,
		S3Endpoint:  c.S3Endpoint,
		S3Bucket:    c.S3Bucket,
		S3AccessKey: c.S3AccessKey,
		S3SecretKey: c.S3SecretKey,
		S3Region:    c.S3Region,
		S3UseSSL:    c.S3UseSSL,
	}
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile("files/config.yaml")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./files/galleries")
	viper.SetDefault("upload.chunk_size", 1024*1024)
	viper.SetDefault("upload.max_file_size", 500*1024*1024)
	viper.SetDefault("upload.session_ttl", 30*time.Minute)
	viper.SetDefault("upload.janitor_interval", time.Minute)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}
