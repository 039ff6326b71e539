package config

import (
	"strings"
	"testing"
)

// TestLoadDefaults 验证未设置环境变量时的默认值。
func TestLoadDefaults(t *testing.T) {
	t.Setenv("CORTEX_AGENT_DATABASE", "")
	t.Setenv("CORTEX_AGENT_MODEL", "")
	t.Setenv("CHAT_RECENT_THREAD_LIMIT", "")

	cfg := Load()

	if cfg.AgentDatabase != "SNOWFLAKE_INTELLIGENCE" {
		t.Errorf("AgentDatabase = %q, want SNOWFLAKE_INTELLIGENCE", cfg.AgentDatabase)
	}
	if cfg.AgentModel != "claude-4-sonnet" {
		t.Errorf("AgentModel = %q, want claude-4-sonnet", cfg.AgentModel)
	}
	if cfg.RecentThreadLimit != 5 {
		t.Errorf("RecentThreadLimit = %d, want 5", cfg.RecentThreadLimit)
	}
}

// TestAgentRunURL 验证 :run 端点拼接。
func TestAgentRunURL(t *testing.T) {
	cfg := &Config{
		AgentHost:     "acct.snowflakecomputing.com",
		AgentDatabase: "DB",
		AgentSchema:   "SCH",
		AgentName:     "MY_AGENT",
	}
	want := "https://acct.snowflakecomputing.com/api/v2/databases/DB/schemas/SCH/agents/MY_AGENT:run"
	if got := cfg.AgentRunURL(); got != want {
		t.Fatalf("AgentRunURL = %q, want %q", got, want)
	}
	if got := cfg.ThreadsURL(); got != "https://acct.snowflakecomputing.com/api/v2/cortex/threads" {
		t.Fatalf("ThreadsURL = %q", got)
	}
}

// TestValidate 验证必填项检查。
func TestValidate(t *testing.T) {
	cfg := &Config{AgentHost: "h", AgentPAT: "p"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate = %v, want nil", err)
	}

	cfg = &Config{AgentPAT: "p"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "CORTEX_AGENT_HOST") {
		t.Fatalf("Validate missing host = %v", err)
	}

	cfg = &Config{AgentHost: "h"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "CORTEX_AGENT_PAT") {
		t.Fatalf("Validate missing PAT = %v", err)
	}
}
