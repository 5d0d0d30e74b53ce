package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MySQLConfig 定义了数据仓库 MySQL 的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 默认存储桶名称
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`     // Kafka Broker 地址列表
	Topics      []string `yaml:"topics"`      // 需要保证存在的主题列表
	TaskTopic   string   `yaml:"taskTopic"`   // 调度任务描述符主题
	NotifyTopic string   `yaml:"notifyTopic"` // 报告完成通知主题
	GroupID     string   `yaml:"groupID"`     // 消费组
}

// AuthConfig 用于配置认证方法和相关设置。
type AuthConfig struct {
	JwtSecret string `yaml:"jwtSecret"` // JWT 密钥
	TokenTTL  int    `yaml:"tokenTTL"`  // JWT 令牌的有效期（秒）
}

// LLMModelConfig 是单个模型端点的配置。
type LLMModelConfig struct {
	APIKey      string  `yaml:"apiKey"`      // API 密钥
	BaseURL     string  `yaml:"baseURL"`     // OpenAI 兼容端点地址
	Model       string  `yaml:"model"`       // 模型名称
	Temperature float32 `yaml:"temperature"` // 采样温度
}

// LLMConfig 包含了不同LLM提供商的配置。
// 分析、对话和规划可以指向不同的模型端点。
type LLMConfig struct {
	Provider string         `yaml:"provider"` // LLM提供商 ("openai" 或 "ollama")
	Analyze  LLMModelConfig `yaml:"analyze"`  // 数据分析模型
	Chat     LLMModelConfig `yaml:"chat"`     // 通用对话模型
	Planner  LLMModelConfig `yaml:"planner"`  // 任务规划模型
}

// AgentConfig 汇集编排引擎的运行参数。
type AgentConfig struct {
	SplitMaxToken       int    `yaml:"splitMaxToken"`       // 分块 token 预算
	DefaultLimit        int    `yaml:"defaultLimit"`        // 默认查询行数上限
	MaxDataCount        int    `yaml:"maxDataCount"`        // 助手扩展查询的行数上限
	UserCacheTTL        int    `yaml:"userCacheTTL"`        // 访问范围缓存 TTL（秒）
	SystemDefaultUserID int64  `yaml:"systemDefaultUserID"` // 定时任务的默认执行身份
	MaxParallelTasks    int    `yaml:"maxParallelTasks"`    // 并行模式下的任务并发上限
	ReduceMaxRetries    int    `yaml:"reduceMaxRetries"`    // map 阶段单块重试次数
	ArtifactDir         string `yaml:"artifactDir"`         // 产物文件根目录
	ArtifactBaseURL     string `yaml:"artifactBaseURL"`     // 产物 URL 前缀
	DataSource          string `yaml:"dataSource"`          // 产物目录的数据源名
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	Redis   RedisConfig `yaml:"redis"`   // Redis 数据库配置
	MySQL   MySQLConfig `yaml:"mysql"`   // 数据仓库配置
	MinIO   MinIOConfig `yaml:"minio"`   // MinIO 对象存储配置
	MongoDB MongoConfig `yaml:"mongodb"` // MongoDB 数据库配置
	Kafka   KafkaConfig `yaml:"kafka"`   // Kafka 消息队列配置
}

// RateLimiterConfig 定义了入口限流中间件的配置。
type RateLimiterConfig struct {
	Enabled   bool    `yaml:"enabled"`   // 是否启用限流
	Algorithm string  `yaml:"algorithm"` // 算法: tokenBucket / leakyBucket / fixedWindow / slidingLog
	Rate      float64 `yaml:"rate"`      // 每秒放行速率（桶类算法）
	Capacity  int     `yaml:"capacity"`  // 桶容量（桶类算法）
	Limit     int     `yaml:"limit"`     // 窗口内请求上限（窗口类算法）
	Window    string  `yaml:"window"`    // 窗口长度，如 "1s"（窗口类算法）
}

// BreakerConfig 定义了 LLM 上游调用的熔断配置。
type BreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`          // 是否启用熔断
	FailureThreshold uint32 `yaml:"failureThreshold"` // 连续失败多少次后熔断
	SuccessThreshold uint32 `yaml:"successThreshold"` // 半开态连续成功多少次后恢复
	OpenSeconds      int    `yaml:"openSeconds"`      // 熔断后多少秒进入半开态
}

// MiddlewareConfig 汇集服务入口与上游调用的保护性中间件配置。
type MiddlewareConfig struct {
	RateLimiter RateLimiterConfig `yaml:"rateLimiter"` // HTTP 入口限流
	LLMBreaker  BreakerConfig     `yaml:"llmBreaker"`  // LLM 调用熔断
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
	Port        int    `yaml:"port"`        // HTTP 监听端口
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Auth       AuthConfig       `yaml:"auth"`       // 认证配置
	LLM        LLMConfig        `yaml:"llm"`        // LLM 配置部分
	Agent      AgentConfig      `yaml:"agent"`      // 编排引擎参数
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	Databases  DatabaseConfigs  `yaml:"databases"`  // 数据库配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 保护性中间件配置
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
// 环境变量可覆盖部分运行参数（SPLIT_MAX_TOKEN、DEFAULT_LIMIT、
// JWT_USER_REDIS_EXPIRE_SECONDS、SYSTEM_DEFAULT_USER_ID）。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	// 将 YAML 内容解析到 cfg 结构体中。
	if err = yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Agent.SplitMaxToken <= 0 {
		c.Agent.SplitMaxToken = 100000
	}
	if c.Agent.DefaultLimit <= 0 {
		c.Agent.DefaultLimit = 100
	}
	if c.Agent.MaxDataCount <= 0 {
		c.Agent.MaxDataCount = 2000
	}
	if c.Agent.UserCacheTTL <= 0 {
		c.Agent.UserCacheTTL = 3600
	}
	if c.Agent.MaxParallelTasks <= 0 {
		c.Agent.MaxParallelTasks = 5
	}
	if c.Agent.ReduceMaxRetries <= 0 {
		c.Agent.ReduceMaxRetries = 2
	}
	if c.Agent.ArtifactDir == "" {
		c.Agent.ArtifactDir = "./exports"
	}
	if c.Agent.DataSource == "" {
		c.Agent.DataSource = "crm"
	}
}

func (c *AppConfig) applyEnvOverrides() {
	if v := envInt("SPLIT_MAX_TOKEN"); v > 0 {
		c.Agent.SplitMaxToken = v
	}
	if v := envInt("DEFAULT_LIMIT"); v > 0 {
		c.Agent.DefaultLimit = v
	}
	if v := envInt("JWT_USER_REDIS_EXPIRE_SECONDS"); v > 0 {
		c.Agent.UserCacheTTL = v
	}
	if v := envInt("SYSTEM_DEFAULT_USER_ID"); v > 0 {
		c.Agent.SystemDefaultUserID = int64(v)
	}
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
