package config

import (
	"time"

	"github.com/smallnest/napcatbridge/router"
)

// Config 是主配置结构
type Config struct {
	Platform string                   `mapstructure:"platform" json:"platform" yaml:"platform"`
	Log      LogConfig                `mapstructure:"log" json:"log" yaml:"log"`
	Napcat   NapcatConfig             `mapstructure:"napcat" json:"napcat" yaml:"napcat"`
	MaiBot   MaiBotConfig             `mapstructure:"maibot" json:"maibot" yaml:"maibot"`
	Routes   map[string]router.Target `mapstructure:"routes" json:"routes,omitempty" yaml:"routes,omitempty"`
	Router   RouterConfig             `mapstructure:"router" json:"router" yaml:"router"`
	Image    ImageConfig              `mapstructure:"image" json:"image" yaml:"image"`
	Cache    CacheConfig              `mapstructure:"cache" json:"cache" yaml:"cache"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Development bool   `mapstructure:"development" json:"development" yaml:"development"`
}

// NapcatConfig 反向 WebSocket 监听配置
type NapcatConfig struct {
	Host              string        `mapstructure:"host" json:"host" yaml:"host"`
	Port              int           `mapstructure:"port" json:"port" yaml:"port"`
	Path              string        `mapstructure:"path" json:"path" yaml:"path"`
	AccessToken       string        `mapstructure:"access_token" json:"access_token" yaml:"access_token"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval" yaml:"heartbeat_interval"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" json:"action_timeout" yaml:"action_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval" json:"ping_interval" yaml:"ping_interval"`
	SendRate          float64       `mapstructure:"send_rate" json:"send_rate" yaml:"send_rate"`
	SendBurst         int           `mapstructure:"send_burst" json:"send_burst" yaml:"send_burst"`
}

// MaiBotConfig 核心服务地址，routes 为空时据此生成默认路由
type MaiBotConfig struct {
	Host  string `mapstructure:"host" json:"host" yaml:"host"`
	Port  int    `mapstructure:"port" json:"port" yaml:"port"`
	Token string `mapstructure:"token" json:"token" yaml:"token"`
}

// RouterConfig 路由客户端配置
type RouterConfig struct {
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" json:"reconnect_interval" yaml:"reconnect_interval"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval" json:"monitor_interval" yaml:"monitor_interval"`
}

// ImageConfig 图片下载配置
type ImageConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	ForwardImageLimit int           `mapstructure:"forward_image_limit" json:"forward_image_limit" yaml:"forward_image_limit"`
}

// CacheConfig 群信息缓存配置
type CacheConfig struct {
	GroupInfoSize int           `mapstructure:"group_info_size" json:"group_info_size" yaml:"group_info_size"`
	GroupInfoTTL  time.Duration `mapstructure:"group_info_ttl" json:"group_info_ttl" yaml:"group_info_ttl"`
}
