// Package chat 提供对话 HTTP 服务: 会话管理、turn 执行、线程操作、
// ws/SSE 实时通道。
package chat

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cortexlab/cortex-chat/internal/agent"
	"github.com/cortexlab/cortex-chat/internal/config"
	"github.com/cortexlab/cortex-chat/internal/session"
	"github.com/cortexlab/cortex-chat/internal/store"
)

// Server 对话 HTTP 服务。
type Server struct {
	router    *gin.Engine
	mgr       *Manager
	bus       *EventBus
	logs      *store.SystemLogStore
	keepalive time.Duration
}

// NewServer 组装服务: agent 客户端 + 存储 → 控制器 → 管理器 → 路由。
// turns/logs 可为 nil (无持久化后端的降级模式)。
func NewServer(cfg *config.Config, client *agent.Client, turns *store.TurnStore, logs *store.SystemLogStore) *Server {
	var sink session.TurnSink
	var history ThreadHistory
	if turns != nil {
		sink = turnSink{turns: turns}
		history = turns
	}

	ctrl := session.NewController(client, sink,
		cfg.AgentModel, cfg.AgentName, cfg.AgentDatabase, cfg.AgentSchema)
	mgr := NewManager(ctrl, client, history, cfg)

	r := gin.Default()
	s := &Server{
		router:    r,
		mgr:       mgr,
		bus:       NewEventBus(),
		logs:      logs,
		keepalive: time.Duration(cfg.SSEKeepaliveSec) * time.Second,
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Manager 返回会话管理器。
func (s *Server) Manager() *Manager { return s.mgr }
