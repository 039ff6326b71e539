// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 先叠加 env.dev 文件 (若存在), 再使用反射自动填充。
package config

import (
	"fmt"

	"github.com/joho/godotenv"

	"github.com/cortexlab/cortex-chat/pkg/logger"
	"github.com/cortexlab/cortex-chat/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Cortex Agent API
	AgentPAT      string `env:"CORTEX_AGENT_PAT"`
	AgentHost     string `env:"CORTEX_AGENT_HOST"`
	AgentDatabase string `env:"CORTEX_AGENT_DATABASE" default:"SNOWFLAKE_INTELLIGENCE"`
	AgentSchema   string `env:"CORTEX_AGENT_SCHEMA" default:"AGENTS"`
	AgentName     string `env:"CORTEX_AGENT_NAME" default:"SALES_INTELLIGENCE_AGENT"`
	AgentModel    string `env:"CORTEX_AGENT_MODEL" default:"claude-4-sonnet"`
	AgentTimeout  int    `env:"CORTEX_AGENT_TIMEOUT_SEC" default:"300" min:"1"`

	// PostgreSQL
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// Chat 服务
	ListenAddr        string `env:"CHAT_LISTEN_ADDR" default:":8080"`
	DefaultUserID     string `env:"CHAT_DEFAULT_USER_ID" default:"default_user"`
	RecentThreadLimit int    `env:"CHAT_RECENT_THREAD_LIMIT" default:"5" min:"1"`
	SSEKeepaliveSec   int    `env:"CHAT_SSE_KEEPALIVE_SEC" default:"30" min:"1"`

	// Payload 审计
	PayloadLogEnabled bool   `env:"PAYLOAD_LOG_ENABLED" default:"false"`
	PayloadLogDir     string `env:"PAYLOAD_LOG_DIR" default:".cortex-chat/payloads"`

	// 日志
	AppEnv   string `env:"APP_ENV" default:"production"`
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置。env.dev 存在时先行叠加 (不覆盖已设置的进程环境)。
func Load() *Config {
	if err := godotenv.Load("env.dev"); err == nil {
		logger.Info("config: loaded env.dev")
	}
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// AgentRunURL 返回 :run 端点完整 URL。
func (c *Config) AgentRunURL() string {
	return fmt.Sprintf("https://%s/api/v2/databases/%s/schemas/%s/agents/%s:run",
		c.AgentHost, c.AgentDatabase, c.AgentSchema, c.AgentName)
}

// ThreadsURL 返回线程生命周期端点 URL。
func (c *Config) ThreadsURL() string {
	return fmt.Sprintf("https://%s/api/v2/cortex/threads", c.AgentHost)
}

// Validate 校验必填项。
func (c *Config) Validate() error {
	if c.AgentHost == "" {
		return fmt.Errorf("CORTEX_AGENT_HOST is required")
	}
	if c.AgentPAT == "" {
		return fmt.Errorf("CORTEX_AGENT_PAT is required")
	}
	return nil
}
