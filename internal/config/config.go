package config

import (
	"fmt"
	"os"

	"hammerhead/pkg/domain"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix 环境变量前缀，例如 HAMMERHEAD_PROXY_PORT1
const EnvPrefix = "HAMMERHEAD"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`
	Proxy   Proxy  `yaml:"proxy"`
	API     API    `yaml:"api"`
	Sqlite  Sqlite `yaml:"sqlite"`
	Log     Log    `yaml:"log"`
}

// Proxy 代理服务配置
type Proxy struct {
	Hostname          string `yaml:"hostname" envconfig:"HOSTNAME"`
	Port1             int    `yaml:"port1" envconfig:"PORT1"`
	Port2             int    `yaml:"port2" envconfig:"PORT2"`
	UpstreamTimeoutMS int    `yaml:"upstreamTimeoutMS" envconfig:"UPSTREAM_TIMEOUT_MS"`
	MaxBodySize       int64  `yaml:"maxBodySize" envconfig:"MAX_BODY_SIZE"`
	OutboundRPS       int    `yaml:"outboundRPS" envconfig:"OUTBOUND_RPS"`
	OutboundBurst     int    `yaml:"outboundBurst" envconfig:"OUTBOUND_BURST"`
	DetectCharset     bool   `yaml:"detectCharset" envconfig:"DETECT_CHARSET"`
	Workers           int    `yaml:"workers" envconfig:"WORKERS"`
	PendingTimeoutMS  int    `yaml:"pendingTimeoutMS" envconfig:"PENDING_TIMEOUT_MS"`
}

// API 控制接口配置
type API struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// Sqlite 持久化配置，Db 为空时不启用
type Sqlite struct {
	Db     string `yaml:"db" envconfig:"DB"`
	Prefix string `yaml:"prefix" envconfig:"PREFIX"`
}

// Log 日志配置
type Log struct {
	Level  string   `yaml:"level" envconfig:"LEVEL"`
	Writer []string `yaml:"writer" envconfig:"WRITER"`
	File   string   `yaml:"file" envconfig:"FILE"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Proxy: Proxy{
			Hostname:          "127.0.0.1",
			Port1:             1337,
			Port2:             1338,
			UpstreamTimeoutMS: 30000,
			MaxBodySize:       32 << 20,
			OutboundRPS:       0,
			OutboundBurst:     20,
			Workers:           4,
			PendingTimeoutMS:  60000,
		},
		API: API{
			Addr: "127.0.0.1:1339",
		},
		Sqlite: Sqlite{
			Db:     "",
			Prefix: "hammerhead_",
		},
		Log: Log{
			Level:  "info",
			Writer: []string{"console"},
		},
	}
}

// Load 读取配置：默认值 -> YAML 文件（可选）-> 环境变量
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Proxy.Hostname == "" {
		return fmt.Errorf("%w: proxy.hostname is empty", domain.ErrInvalidConfig)
	}
	if !validPort(c.Proxy.Port1) || !validPort(c.Proxy.Port2) {
		return fmt.Errorf("%w: proxy ports must be in 1..65535", domain.ErrInvalidConfig)
	}
	if c.Proxy.Port1 == c.Proxy.Port2 {
		return fmt.Errorf("%w: proxy.port1 and proxy.port2 must differ", domain.ErrInvalidConfig)
	}
	if c.Proxy.UpstreamTimeoutMS <= 0 {
		return fmt.Errorf("%w: proxy.upstreamTimeoutMS must be positive", domain.ErrInvalidConfig)
	}
	if c.Proxy.OutboundRPS < 0 {
		return fmt.Errorf("%w: proxy.outboundRPS must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }
