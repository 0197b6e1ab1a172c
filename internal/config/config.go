// Package config 加载中继配置：内置默认值 → 可选 YAML 文件 → 环境变量
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPort = 8081

type Relay struct {
	Addr           string        `yaml:"addr"`
	SendQueueSize  int           `yaml:"send_queue_size"`
	ReadLimitBytes int64         `yaml:"read_limit_bytes"`
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	RecordDir      string        `yaml:"record_dir,omitempty"`
	AdminToken     string        `yaml:"admin_token,omitempty"`
	LogFile        string        `yaml:"log_file,omitempty"`
	LogLevel       string        `yaml:"log_level,omitempty"`
}

func Defaults() Relay {
	return Relay{
		Addr:           fmt.Sprintf(":%d", DefaultPort),
		SendQueueSize:  64,
		ReadLimitBytes: 64 << 10,
		WriteWait:      5 * time.Second,
		PongWait:       60 * time.Second,
		LogLevel:       "info",
	}
}

// LoadDotEnv 加载 .env（默认工作目录下）；文件不存在时返回 false, nil。
// 在日志初始化之前调用，结果由调用方记录
func LoadDotEnv(paths ...string) (bool, error) {
	if err := godotenv.Load(paths...); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Load 构建中继配置；path 为空时跳过 YAML。
// PORT、RELAY_ADMIN_TOKEN、RELAY_RECORD_DIR 覆盖文件中的值
func Load(path string) (Relay, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("relay config: %w", err)
	}
	return cfg, nil
}

func (c *Relay) applyEnv() error {
	if v, ok := os.LookupEnv("PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Addr = fmt.Sprintf(":%d", port)
	}
	if v, ok := os.LookupEnv("RELAY_ADMIN_TOKEN"); ok {
		c.AdminToken = v
	}
	if v, ok := os.LookupEnv("RELAY_RECORD_DIR"); ok {
		c.RecordDir = v
	}
	return nil
}

// Normalize 补齐不完整 YAML 留下的零值
func (c *Relay) Normalize() {
	d := Defaults()
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = d.Addr
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.ReadLimitBytes <= 0 {
		c.ReadLimitBytes = d.ReadLimitBytes
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	for i, o := range c.AllowedOrigins {
		c.AllowedOrigins[i] = strings.TrimRight(strings.TrimSpace(o), "/")
	}
}

func (c Relay) Validate() error {
	if c.SendQueueSize > 4096 {
		return fmt.Errorf("send_queue_size %d too large", c.SendQueueSize)
	}
	if c.WriteWait >= c.PongWait {
		return fmt.Errorf("write_wait %s must be below pong_wait %s", c.WriteWait, c.PongWait)
	}
	return nil
}

// OriginAllowed 判断 Origin 是否允许接入；白名单为空时全部允许
func (c Relay) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
