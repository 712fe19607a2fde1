// Package config loads vidreel's TOML configuration file and overlays
// secrets from a .env file, keeping credentials out of the checked-in
// config.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the fully-typed configuration record. The on-disk file is
// line-oriented "[section]"/"key=value" with "#" comments; that grammar
// is valid TOML, so it is parsed with BurntSushi/toml rather than a
// hand-rolled scanner.
type Config struct {
	APIID       int    `toml:"api_id"`
	APIHash     string `toml:"api_hash"`
	Phone       string `toml:"phone"`
	SessionName string `toml:"session_name"`

	DownloadFolder  string `toml:"download_folder"`
	CompletedFolder string `toml:"completed_folder"`

	MaxSimultaneousDownloads int `toml:"max_simultaneous_file_to_download"`
	MaxDownloadRequestKB     int `toml:"max_download_size_request_limit_kb"`

	EnableVideoCompression bool   `toml:"-"`
	EnableVideoCompressRaw string `toml:"enable_video_compression"`
	CompressionRatio       int    `toml:"compression_ratio"`

	DiskSpaceLimitPercentage int `toml:"disk_space_limit_percentage"`
	CompressionMinSizeMB     int `toml:"compression_min_size_mb"`

	LockDownload bool `toml:"lock_download"`

	RulesDir string `toml:"rules_dir"`

	// Groups maps a friendly key to a watched chat identifier (username
	// or numeric id as a string), loaded from the [groups] table.
	Groups map[string]string `toml:"groups"`

	// RedisAddr/User/Pass configure the optional dedup accelerator.
	RedisAddr string `toml:"redis_addr"`
	RedisUser string `toml:"redis_user"`
	RedisPass string `toml:"redis_pass"`

	// MonitorAddr, if non-empty, serves the local read-only status page.
	MonitorAddr string `toml:"monitor_addr"`

	OperatorChatID int64 `toml:"operator_chat_id"`
}

const (
	defaultMaxSimultaneousDownloads = 2
	defaultDiskSpaceLimitPercentage = 10
	defaultCompressionMinSizeMB     = 500
)

// Load reads the TOML config at path, applies defaults, overlays any
// .env-provided secrets (api_id/api_hash/phone take priority from the
// environment if set), and clamps the compression ratio.
func Load(path, envPath string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env overlay %s: %w", envPath, err)
		}
	}
	overlayEnv(&cfg)

	applyDefaults(&cfg)
	cfg.EnableVideoCompression = cfg.EnableVideoCompressRaw == "1"

	if cfg.CompressionRatio < 0 {
		cfg.CompressionRatio = 0
	}
	if cfg.CompressionRatio > 51 {
		cfg.CompressionRatio = 51
	}

	return &cfg, nil
}

func overlayEnv(cfg *Config) {
	if v := os.Getenv("API_ID"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.APIID)
	}
	if v := os.Getenv("API_HASH"); v != "" {
		cfg.APIHash = v
	}
	if v := os.Getenv("PHONE"); v != "" {
		cfg.Phone = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.MaxSimultaneousDownloads <= 0 {
		cfg.MaxSimultaneousDownloads = defaultMaxSimultaneousDownloads
	}
	if cfg.DiskSpaceLimitPercentage <= 0 {
		cfg.DiskSpaceLimitPercentage = defaultDiskSpaceLimitPercentage
	}
	if cfg.CompressionMinSizeMB <= 0 {
		cfg.CompressionMinSizeMB = defaultCompressionMinSizeMB
	}
	if cfg.RulesDir == "" {
		cfg.RulesDir = "rules"
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "vidreel"
	}
}

// Redacted returns a copy of the config's fields as key/value pairs with
// secrets excluded, for the "status" control-plane command.
func (c *Config) Redacted() map[string]string {
	return map[string]string{
		"session_name":                       c.SessionName,
		"download_folder":                    c.DownloadFolder,
		"completed_folder":                   c.CompletedFolder,
		"max_simultaneous_file_to_download":  fmt.Sprintf("%d", c.MaxSimultaneousDownloads),
		"max_download_size_request_limit_kb": fmt.Sprintf("%d", c.MaxDownloadRequestKB),
		"enable_video_compression":           fmt.Sprintf("%t", c.EnableVideoCompression),
		"compression_ratio":                  fmt.Sprintf("%d", c.CompressionRatio),
		"disk_space_limit_percentage":        fmt.Sprintf("%d", c.DiskSpaceLimitPercentage),
		"compression_min_size_mb":            fmt.Sprintf("%d", c.CompressionMinSizeMB),
		"lock_download":                      fmt.Sprintf("%t", c.LockDownload),
		"rules_dir":                          c.RulesDir,
		"monitor_addr":                       c.MonitorAddr,
	}
}
