package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
type Config struct {
	API   APIConfig   `mapstructure:"api"`
	Log   LogConfig   `mapstructure:"log"`
	Cache CacheConfig `mapstructure:"cache"`
	Stub  StubConfig  `mapstructure:"stub"`
}

// APIConfig 推理后端配置
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`   // Bearer token，签发在本模块范围之外
	Timeout time.Duration `mapstructure:"timeout"` // 非流式请求超时，流式读取不设硬超时
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// CacheConfig 最近访问缓存配置
type CacheConfig struct {
	Capacity     int           `mapstructure:"capacity"`      // 最大条目数
	TTL          time.Duration `mapstructure:"ttl"`           // 条目有效期
	SnapshotPath string        `mapstructure:"snapshot_path"` // 本地快照文件，为空则不持久化
}

// StubConfig 本地桩后端配置
type StubConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.Cache.Capacity <= 0 {
		return errors.New("cache.capacity must be positive")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}

	if c.Stub.Port < 0 || c.Stub.Port > 65535 {
		return errors.New("invalid stub port")
	}
	validModes := map[string]bool{"": true, "debug": true, "release": true, "test": true}
	if !validModes[c.Stub.Mode] {
		return errors.New("invalid stub mode, must be debug/release/test")
	}

	return nil
}
