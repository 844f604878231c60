package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Fan-out scopes
const (
	FanoutScopeWorkspace = "workspace"
	FanoutScopeGlobal    = "global"
)

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 数据库配置
	UseMemoryDB bool
	PostgresDSN string

	// JWT配置
	JWTSecret string

	// CORS配置
	AllowedOrigins []string

	// 实时推送配置
	RedisURL     string
	FanoutScope  string
	FanoutBuffer int

	// 限流配置（每个 IP）
	RateLimitRPS   float64
	RateLimitBurst int

	// 日志与调试
	LogLevel string
	Debug    bool
}

// LoadConfig 加载配置
func LoadConfig() *Config {
	// 根据环境加载对应的 .env 文件
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development" // 默认开发环境
	}

	// 已存在的环境变量优先，文件不存在时静默跳过
	switch env {
	case "production":
		_ = godotenv.Load(".env.production")
	default:
		_ = godotenv.Load(".env.local")
	}

	config := &Config{
		// 默认值
		Environment:    getEnvWithDefault("ENVIRONMENT", "development"),
		Port:           getEnvWithDefault("PORT", "3000"),
		UseMemoryDB:    getEnvBool("USE_MEMORY_DB", false),
		JWTSecret:      getEnvWithDefault("JWT_SECRET", defaultJWTSecret),
		RedisURL:       strings.TrimSpace(os.Getenv("REDIS_URL")),
		FanoutScope:    strings.ToLower(getEnvWithDefault("FANOUT_SCOPE", FanoutScopeWorkspace)),
		FanoutBuffer:   getEnvInt("FANOUT_BUFFER", 64),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
		LogLevel:       getEnvWithDefault("LOG_LEVEL", "info"),
		Debug:          getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))

	// 没有配置数据库时，开发环境退回内存库
	if config.PostgresDSN == "" && config.Environment != "production" {
		config.UseMemoryDB = true
	}

	// CORS配置
	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// 环境特定配置
	if config.Environment == "production" {
		// 生产环境关闭调试
		config.Debug = false
	}
	if config.Debug {
		config.LogLevel = "debug"
	}

	return config
}

// Cached config (initialized once per process)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 验证端口
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// 验证JWT密钥
	if c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	// 验证数据库配置
	if !c.UseMemoryDB && c.PostgresDSN == "" {
		return fmt.Errorf("数据库配置不完整：请配置 POSTGRES_DSN 或 USE_MEMORY_DB=true")
	}
	if c.IsProduction() && c.UseMemoryDB {
		return fmt.Errorf("USE_MEMORY_DB is not allowed in production")
	}

	switch c.FanoutScope {
	case FanoutScopeWorkspace, FanoutScopeGlobal:
	default:
		return fmt.Errorf("FANOUT_SCOPE must be %q or %q, got %q", FanoutScopeWorkspace, FanoutScopeGlobal, c.FanoutScope)
	}
	if c.FanoutBuffer <= 0 {
		return fmt.Errorf("FANOUT_BUFFER must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}

	return nil
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GlobalFanout reports whether every observer receives every workspace's events.
func (c *Config) GlobalFanout() bool {
	return c.FanoutScope == FanoutScopeGlobal
}

// 辅助函数

// getEnvWithDefault 获取环境变量，如果不存在则使用默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool 获取布尔类型的环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
