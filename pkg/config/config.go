package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Lmstfy    LmstfyConfig    `mapstructure:"lmstfy"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Order     OrderConfig     `mapstructure:"order"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Lightning LightningConfig `mapstructure:"lightning"`
	LNURL     LNURLConfig     `mapstructure:"lnurl"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"`
	LogLevel  string `mapstructure:"log_level"`
	MachineID int64  `mapstructure:"machine_id"`
}

// ServerConfig HTTP 配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// MySQLConfig MySQL 配置，DSN 为空时订单只保存在内存
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置，Addr 为空时关闭状态通知
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LmstfyConfig Lmstfy 配置，Host 为空时关闭队列接入
type LmstfyConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Namespace    string        `mapstructure:"namespace"`
	Token        string        `mapstructure:"token"`
	EventQueue   string        `mapstructure:"event_queue"`  // 聊天层 → 本服务
	PromptQueue  string        `mapstructure:"prompt_queue"` // 本服务 → 聊天层
	DeadQueue    string        `mapstructure:"dead_queue"`   // 无法处理的消息
	Threads      int           `mapstructure:"threads"`
	Workers      int           `mapstructure:"workers"`
	Timeout      time.Duration `mapstructure:"timeout"`
	TTR          time.Duration `mapstructure:"ttr"`
	Rate         time.Duration `mapstructure:"rate"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	BufferSize   int           `mapstructure:"buffer_size"`
	ProcTimeout  time.Duration `mapstructure:"proc_timeout"`
}

// QueueConfig 后台任务队列配置
type QueueConfig struct {
	Workers     int           `mapstructure:"workers"`
	BufferSize  int           `mapstructure:"buffer_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

// MonitorConfig 支付监控配置
type MonitorConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxWatchDuration time.Duration `mapstructure:"max_watch_duration"`
}

// OrderConfig 订单规则
type OrderConfig struct {
	MinAmount  string `mapstructure:"min_amount"`
	MaxAmount  string `mapstructure:"max_amount"`
	FeePercent string `mapstructure:"fee_percent"`
	FeeFixed   string `mapstructure:"fee_fixed"`
}

// GatewayConfig PIX 网关配置
type GatewayConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	WebhookToken string        `mapstructure:"webhook_token"` // 收款回调校验，为空时不校验
	Timeout      time.Duration `mapstructure:"timeout"`
}

// QuoteConfig 报价接口配置
type QuoteConfig struct {
	URL     string        `mapstructure:"url"`
	Fiat    string        `mapstructure:"fiat"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LightningConfig 闪电节点配置
type LightningConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LNURLConfig LNURL 解析配置
type LNURLConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Scheme  string        `mapstructure:"scheme"`
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pixbridge")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.machine_id", 1)
	v.SetDefault("server.port", "8080")

	v.SetDefault("lmstfy.port", 7777)
	v.SetDefault("lmstfy.event_queue", "pix_order_event")
	v.SetDefault("lmstfy.prompt_queue", "pix_order_prompt")
	v.SetDefault("lmstfy.dead_queue", "pix_order_event_dead")
	v.SetDefault("lmstfy.threads", 1)
	v.SetDefault("lmstfy.workers", 4)
	v.SetDefault("lmstfy.proc_timeout", 30*time.Second)
	v.SetDefault("lmstfy.timeout", 3*time.Second)
	v.SetDefault("lmstfy.ttr", 30*time.Second)
	v.SetDefault("lmstfy.rate", 10*time.Millisecond)
	v.SetDefault("lmstfy.error_backoff", time.Second)
	v.SetDefault("lmstfy.buffer_size", 64)

	v.SetDefault("queue.workers", 3)
	v.SetDefault("queue.buffer_size", 256)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.backoff_base", time.Second)
	v.SetDefault("queue.backoff_cap", 60*time.Second)

	v.SetDefault("monitor.poll_interval", 30*time.Second)
	v.SetDefault("monitor.max_watch_duration", 2*time.Hour)

	v.SetDefault("order.min_amount", "10.00")
	v.SetDefault("order.max_amount", "4999.99")
	v.SetDefault("order.fee_percent", "0")
	v.SetDefault("order.fee_fixed", "0")

	v.SetDefault("gateway.timeout", 15*time.Second)
	v.SetDefault("quote.fiat", "BRL")
	v.SetDefault("quote.timeout", 10*time.Second)
	v.SetDefault("lightning.timeout", 60*time.Second)
	v.SetDefault("lnurl.timeout", 10*time.Second)
	v.SetDefault("lnurl.scheme", "https")
}

// Load 加载配置文件，环境变量 PIXBRIDGE_* 覆盖同名配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PIXBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Lightning.BaseURL == "" {
		return fmt.Errorf("lightning.base_url is required")
	}
	if c.Quote.URL == "" {
		return fmt.Errorf("quote.url is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive")
	}
	if c.Queue.BufferSize <= 0 {
		return fmt.Errorf("queue.buffer_size must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive")
	}
	if c.Monitor.PollInterval <= 0 || c.Monitor.MaxWatchDuration <= 0 {
		return fmt.Errorf("monitor.poll_interval and monitor.max_watch_duration must be positive")
	}

	minAmount, err := decimal.NewFromString(c.Order.MinAmount)
	if err != nil {
		return fmt.Errorf("order.min_amount invalid: %w", err)
	}
	maxAmount, err := decimal.NewFromString(c.Order.MaxAmount)
	if err != nil {
		return fmt.Errorf("order.max_amount invalid: %w", err)
	}
	if minAmount.GreaterThan(maxAmount) {
		return fmt.Errorf("order.min_amount greater than order.max_amount")
	}
	if _, err := decimal.NewFromString(c.Order.FeePercent); err != nil {
		return fmt.Errorf("order.fee_percent invalid: %w", err)
	}
	if _, err := decimal.NewFromString(c.Order.FeeFixed); err != nil {
		return fmt.Errorf("order.fee_fixed invalid: %w", err)
	}

	if c.Lmstfy.Host != "" && c.Lmstfy.Token == "" {
		return fmt.Errorf("lmstfy.token is required when lmstfy.host is set")
	}
	return nil
}
