package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallnest/napcatbridge/internal/logger"
	"github.com/smallnest/napcatbridge/router"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	dirName  = ".napcatbridge"
	fileName = "config"
)

// newViper 创建带默认值和环境变量绑定的 viper 实例
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(ExpandUserPath(configPath))
	} else {
		// 默认配置文件搜索路径（按优先级）
		home, err := ResolveUserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		// 1) 当前工作目录 ./config.yaml
		v.AddConfigPath(".")
		// 2) 当前工作目录下 .napcatbridge/config.yaml
		v.AddConfigPath(filepath.Join(".", dirName))
		// 3) 用户目录 ~/.napcatbridge/config.yaml
		v.AddConfigPath(filepath.Join(home, dirName))
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
	}

	// 设置环境变量前缀
	v.SetEnvPrefix("NAPCATBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v, nil
}

// Load 加载配置文件，文件不存在时使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("platform", "qq")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("napcat.host", "localhost")
	v.SetDefault("napcat.port", 8095)
	v.SetDefault("napcat.path", "/")
	v.SetDefault("napcat.access_token", "")
	// time.Duration 默认值，整数会被当成纳秒
	v.SetDefault("napcat.heartbeat_interval", 30*time.Second)
	v.SetDefault("napcat.action_timeout", 10*time.Second)
	v.SetDefault("napcat.ping_interval", 30*time.Second)
	v.SetDefault("napcat.send_rate", 0)
	v.SetDefault("napcat.send_burst", 1)

	v.SetDefault("maibot.host", "localhost")
	v.SetDefault("maibot.port", 8000)
	v.SetDefault("maibot.token", "")

	v.SetDefault("router.reconnect_interval", 5*time.Second)
	v.SetDefault("router.monitor_interval", 5*time.Second)

	v.SetDefault("image.timeout", 10*time.Second)
	v.SetDefault("image.forward_image_limit", 5)

	v.SetDefault("cache.group_info_size", 256)
	v.SetDefault("cache.group_info_ttl", 10*time.Minute)
}

// Validate 验证配置
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Platform) == "" {
		return fmt.Errorf("platform cannot be empty")
	}
	if err := validateNapcat(cfg); err != nil {
		return fmt.Errorf("napcat config invalid: %w", err)
	}
	if err := validateRoutes(cfg); err != nil {
		return fmt.Errorf("routes config invalid: %w", err)
	}
	if cfg.Router.ReconnectInterval <= 0 {
		return fmt.Errorf("router reconnect_interval must be positive")
	}
	if cfg.Router.MonitorInterval <= 0 {
		return fmt.Errorf("router monitor_interval must be positive")
	}
	if cfg.Image.Timeout <= 0 {
		return fmt.Errorf("image timeout must be positive")
	}
	if cfg.Image.ForwardImageLimit < 0 {
		return fmt.Errorf("image forward_image_limit must be non-negative")
	}
	if cfg.Cache.GroupInfoSize <= 0 {
		return fmt.Errorf("cache group_info_size must be positive")
	}
	return nil
}

// validateNapcat 验证监听配置
func validateNapcat(cfg *Config) error {
	n := cfg.Napcat
	if n.Port <= 0 || n.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if !strings.HasPrefix(n.Path, "/") {
		return fmt.Errorf("path must start with '/'")
	}
	if n.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if n.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be positive")
	}
	if n.PingInterval < 0 {
		return fmt.Errorf("ping_interval must be non-negative")
	}
	if n.SendRate < 0 {
		return fmt.Errorf("send_rate must be non-negative")
	}
	if strings.TrimSpace(n.AccessToken) != n.AccessToken {
		return fmt.Errorf("access_token must not contain leading/trailing whitespace")
	}
	return nil
}

// validateRoutes 每个路由都要有可用的 ws/wss 地址
func validateRoutes(cfg *Config) error {
	table := cfg.RouteTable()
	if len(table) == 0 {
		return fmt.Errorf("no route configured")
	}
	if _, ok := table[cfg.Platform]; !ok {
		return fmt.Errorf("no route for platform %q", cfg.Platform)
	}
	for _, platform := range table.Platforms() {
		u, err := url.Parse(table[platform].URL)
		if err != nil {
			return fmt.Errorf("%s: %w", platform, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%s: url must use ws or wss, got %q", platform, table[platform].URL)
		}
		if u.Host == "" {
			return fmt.Errorf("%s: url has no host", platform)
		}
	}
	return nil
}

// RouteTable 返回路由表，routes 为空时由 maibot 生成 ws://host:port/ws
func (c *Config) RouteTable() router.RouteTable {
	table := make(router.RouteTable, len(c.Routes))
	for platform, target := range c.Routes {
		table[platform] = target
	}
	if len(table) == 0 && c.MaiBot.Host != "" && c.MaiBot.Port > 0 {
		table[c.Platform] = router.Target{
			URL:   fmt.Sprintf("ws://%s:%d/ws", c.MaiBot.Host, c.MaiBot.Port),
			Token: c.MaiBot.Token,
		}
	}
	return table
}

// Watch 监听配置文件，变更后重新解析并校验，校验通过才回调
func Watch(configPath string, onChange func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	log := logger.Named("config")
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			err = Validate(cfg)
		}
		if err != nil {
			log.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("Config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// WriteTemplate 写出默认配置模板
func WriteTemplate(path string, force bool) error {
	path = ExpandUserPath(path)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	v := viper.New()
	setDefaults(v)
	data, err := yaml.Marshal(templateValue(v.AllSettings()))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// templateValue 把 time.Duration 写成 "30s" 形式
func templateValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = templateValue(val)
		}
		return out
	case time.Duration:
		return t.String()
	default:
		return v
	}
}

// DefaultConfigPath 获取默认配置文件路径
func DefaultConfigPath() (string, error) {
	home, err := ResolveUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName+".yaml"), nil
}
