package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// 未显式配置时读取密钥的环境变量。
const (
	DefaultFeePayerKeyEnv = "COSIGN_FEE_PAYER_KEY"
	DefaultJWTSecretEnv   = "COSIGN_JWT_SECRET"
)

// Config 描述了 CoSign 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Storage       StorageConfig       `json:"storage"`
	JobQueue      JobQueueConfig      `json:"job_queue"`
	Chain         ChainConfig         `json:"chain"`
	Signing       SigningConfig       `json:"signing"`
	Auth          AuthConfig          `json:"auth"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
	Runtime       RuntimeConfig       `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `json:"address"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

// ReadTimeout 返回请求读取超时时间。
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout 返回响应写入超时时间。
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// StorageConfig 统一描述 MySQL 等后端的连接信息。
type StorageConfig struct {
	JobStore JobStoreConfig `json:"job_store"`
}

// JobStoreConfig 支持 memory 与 mysql 两种驱动。
type JobStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	Retries                int    `json:"retries"`
}

// JobQueueConfig 控制任务队列的驱动与消费者数量。
type JobQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`

	// RetryBackoffMillis 为重投的线性退避基数，第 n 次重试等待 n 倍。
	RetryBackoffMillis    int `json:"retry_backoff_millis"`
	AttemptTimeoutSeconds int `json:"attempt_timeout_seconds"`
	DepthPollSeconds      int `json:"depth_poll_seconds"`
}

// RetryBackoff 返回重投退避基数。
func (q JobQueueConfig) RetryBackoff() time.Duration {
	return time.Duration(q.RetryBackoffMillis) * time.Millisecond
}

// AttemptTimeout 返回单次执行的超时时间。
func (q JobQueueConfig) AttemptTimeout() time.Duration {
	return time.Duration(q.AttemptTimeoutSeconds) * time.Second
}

// DepthPollInterval 返回采集队列积压的间隔。
func (q JobQueueConfig) DepthPollInterval() time.Duration {
	return time.Duration(q.DepthPollSeconds) * time.Second
}

// RedisConfig 描述基于 Redis List 的队列。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// ChainConfig 描述链节点与合约部署信息。
type ChainConfig struct {
	// DefinitionsFile 指向 YAML 格式的链定义文件。
	DefinitionsFile string `json:"definitions_file"`
	// RESTURL 在未提供链定义文件时作为默认节点。
	RESTURL      string `json:"rest_url"`
	DefaultChain string `json:"default_chain"`

	ModuleAddress string `json:"module_address"`
	CoinType      string `json:"coin_type"`

	MaxGasAmount uint64 `json:"max_gas_amount"`
	GasUnitPrice uint64 `json:"gas_unit_price"`
	TTLSeconds   int    `json:"ttl_seconds"`

	// SkipConfirmation 为 true 时提交成功即返回，不等待交易上链。
	SkipConfirmation           bool `json:"skip_confirmation"`
	ConfirmationTimeoutSeconds int  `json:"confirmation_timeout_seconds"`
	PollIntervalMillis         int  `json:"poll_interval_millis"`
}

// TTL 返回交易有效期。
func (c ChainConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ConfirmationTimeout 返回等待上链确认的最长时间。
func (c ChainConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}

// PollInterval 返回轮询交易状态的间隔。
func (c ChainConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// SigningConfig 描述签名密钥的来源。私钥本身从不写入配置文件。
type SigningConfig struct {
	FeePayerKeyEnv string `json:"fee_payer_key_env"`
	// KeyringFile 为托管用户私钥的 JSON 文件，键为地址，值为私钥的环境变量名。
	KeyringFile string `json:"keyring_file"`
}

// FeePayerKey 读取手续费账户私钥。
func (s SigningConfig) FeePayerKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(s.FeePayerKeyEnv))
	if key == "" {
		return "", fmt.Errorf("环境变量 %s 未设置手续费账户私钥", s.FeePayerKeyEnv)
	}
	return key, nil
}

// AuthConfig 控制 API 令牌认证，mode 为 disabled 或 jwt。
type AuthConfig struct {
	Mode              string     `json:"mode"`
	JWTSecretEnv      string     `json:"jwt_secret_env"`
	Issuer            string     `json:"issuer"`
	AccessTTLSeconds  int64      `json:"access_ttl_seconds"`
	RefreshTTLSeconds int64      `json:"refresh_ttl_seconds"`
	Users             []AuthUser `json:"users"`
}

// AuthUser 是配置中的运维账号，密码以 bcrypt 摘要保存。
type AuthUser struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"password_hash"`
	Permissions  []string `json:"permissions"`
	Disabled     bool     `json:"disabled"`
}

// JWTSecret 读取令牌签名密钥。
func (a AuthConfig) JWTSecret() (string, error) {
	secret := strings.TrimSpace(os.Getenv(a.JWTSecretEnv))
	if secret == "" {
		return "", fmt.Errorf("环境变量 %s 未设置令牌签名密钥", a.JWTSecretEnv)
	}
	return secret, nil
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"`
	AuditFile    string `json:"audit_file"`
	AuditMaxSize int    `json:"audit_max_size_mb"`
	AuditBackups int    `json:"audit_max_backups"`
}

// ObservabilityConfig 控制指标与告警。
type ObservabilityConfig struct {
	MetricsDisabled bool `json:"metrics_disabled"`
	// MetricsAddress 非空时在独立端口暴露 /metrics，否则挂载在 API 端口。
	MetricsAddress      string   `json:"metrics_address"`
	AlertWebhooks       []string `json:"alert_webhooks"`
	AlertTimeoutSeconds int      `json:"alert_timeout_seconds"`
}

// AlertTimeout 返回 webhook 告警的请求超时。
func (o ObservabilityConfig) AlertTimeout() time.Duration {
	return time.Duration(o.AlertTimeoutSeconds) * time.Second
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}

	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}
	if c.Storage.JobStore.Retries <= 0 {
		c.Storage.JobStore.Retries = 3
	}

	if c.JobQueue.Driver == "" {
		c.JobQueue.Driver = "memory"
	}
	if c.JobQueue.Worker <= 0 {
		c.JobQueue.Worker = 4
	}
	if c.JobQueue.Buffer <= 0 {
		c.JobQueue.Buffer = 1024
	}
	if c.JobQueue.RetryBackoffMillis <= 0 {
		c.JobQueue.RetryBackoffMillis = 1000
	}
	if c.JobQueue.DepthPollSeconds <= 0 {
		c.JobQueue.DepthPollSeconds = 15
	}

	if c.Chain.DefinitionsFile != "" && !filepath.IsAbs(c.Chain.DefinitionsFile) {
		c.Chain.DefinitionsFile = filepath.Join(baseDir, c.Chain.DefinitionsFile)
	}
	if c.Chain.TTLSeconds <= 0 {
		c.Chain.TTLSeconds = 20
	}
	if c.Chain.ConfirmationTimeoutSeconds <= 0 {
		c.Chain.ConfirmationTimeoutSeconds = 30
	}
	if c.Chain.PollIntervalMillis <= 0 {
		c.Chain.PollIntervalMillis = 500
	}
	if c.JobQueue.AttemptTimeoutSeconds <= 0 {
		// 需覆盖一次完整的提交与确认等待。
		c.JobQueue.AttemptTimeoutSeconds = c.Chain.ConfirmationTimeoutSeconds + 30
	}

	if c.Signing.FeePayerKeyEnv == "" {
		c.Signing.FeePayerKeyEnv = DefaultFeePayerKeyEnv
	}
	if c.Signing.KeyringFile != "" && !filepath.IsAbs(c.Signing.KeyringFile) {
		c.Signing.KeyringFile = filepath.Join(baseDir, c.Signing.KeyringFile)
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.JWTSecretEnv == "" {
		c.Auth.JWTSecretEnv = DefaultJWTSecretEnv
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "cosignd"
	}

	if c.Observability.AlertTimeoutSeconds <= 0 {
		c.Observability.AlertTimeoutSeconds = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.AuditFile != "" && !filepath.IsAbs(c.Logging.AuditFile) {
		c.Logging.AuditFile = filepath.Join(c.Runtime.DataDir, c.Logging.AuditFile)
	}
}

// validate 校验必须由用户提供的字段。
func (c *Config) validate() error {
	if strings.TrimSpace(c.Chain.ModuleAddress) == "" {
		return errors.New("chain.module_address 未配置")
	}
	if strings.TrimSpace(c.Chain.CoinType) == "" {
		return errors.New("chain.coin_type 未配置")
	}
	switch c.Storage.JobStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.JobStore.DSN) == "" {
			return errors.New("mysql 任务存储需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", c.Storage.JobStore.Driver)
	}
	switch c.JobQueue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.JobQueue.Redis.Address) == "" {
			return errors.New("redis 队列需要配置 address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.JobQueue.RabbitMQ.URL) == "" {
			return errors.New("rabbitmq 队列需要配置 url")
		}
	default:
		return fmt.Errorf("未知的任务队列驱动: %s", c.JobQueue.Driver)
	}
	switch c.Auth.Mode {
	case "disabled":
	case "jwt":
		if len(c.Auth.Users) == 0 {
			return errors.New("jwt 认证需要至少一个账号")
		}
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Auth.Mode)
	}
	return nil
}
