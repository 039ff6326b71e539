// handler.go — REST API handlers。
package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cortexlab/cortex-chat/internal/session"
	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.POST("/sessions", s.createSession)
	api.DELETE("/sessions/:id", s.removeSession)
	api.GET("/sessions/:id/messages", s.listMessages)
	api.POST("/sessions/:id/messages", s.sendMessage)
	api.POST("/sessions/:id/thread", s.loadThread)
	api.GET("/sessions/:id/ws", s.wsHandler)

	api.POST("/threads", s.newThread)
	api.GET("/threads", s.listThreads)

	api.GET("/system-log", s.listSystemLog)
	api.GET("/events", s.sseHandler)
}

// session 从路径参数取会话, 不存在时写 404 并返回 nil。
func (s *Server) session(c *gin.Context) *ChatSession {
	cs, ok := s.mgr.Get(c.Param("id"))
	if !ok {
		notFound(c, "会话不存在")
		return nil
	}
	return cs
}

// ========================================
// 会话
// ========================================

func (s *Server) createSession(c *gin.Context) {
	cs := s.mgr.CreateSession()
	created(c, gin.H{"session_id": cs.ID})
}

func (s *Server) removeSession(c *gin.Context) {
	s.mgr.Remove(c.Param("id"))
	success(c, nil)
}

func (s *Server) listMessages(c *gin.Context) {
	cs := s.session(c)
	if cs == nil {
		return
	}
	success(c, cs.Messages())
}

func (s *Server) sendMessage(c *gin.Context) {
	cs := s.session(c)
	if cs == nil {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		badRequest(c, "invalid_request", "text is required")
		return
	}

	res, err := s.mgr.RunTurn(c.Request.Context(), cs, req.Text)
	if err != nil {
		s.turnError(c, res, err)
		return
	}

	threadID, _ := cs.ThreadInfo()
	s.bus.Publish(Event{Type: "turn_completed", Data: gin.H{
		"session_id": cs.ID,
		"thread_id":  threadID,
	}})

	storageErrs := make([]string, 0, len(res.StorageErrs))
	for _, e := range res.StorageErrs {
		storageErrs = append(storageErrs, e.Error())
	}
	success(c, gin.H{
		"message":        res.Message,
		"request_id":     res.RequestID,
		"storage_errors": storageErrs,
	})
}

// turnError 将 turn 失败按错误分类映射为 HTTP 响应。
func (s *Server) turnError(c *gin.Context, res *session.TurnResult, err error) {
	code := apperrors.Code(err)
	switch code {
	case apperrors.CodeServerError:
		body := gin.H{"code": code, "message": err.Error()}
		if res != nil && res.ServerError != nil {
			body["message"] = res.ServerError.Message
			body["server_code"] = res.ServerError.Code.String()
		}
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": body})
	case apperrors.CodeTransport, apperrors.CodeStreamProtocol:
		c.JSON(http.StatusBadGateway, gin.H{"success": false,
			"error": gin.H{"code": code, "message": err.Error()}})
	default:
		if errors.Is(err, apperrors.ErrInvalidInput) {
			badRequest(c, "invalid_request", err.Error())
			return
		}
		serverError(c, err)
	}
}

// ========================================
// 线程
// ========================================

func (s *Server) newThread(c *gin.Context) {
	var req struct {
		SessionID  string `json:"session_id"`
		ThreadName string `json:"thread_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		badRequest(c, "invalid_request", "session_id is required")
		return
	}
	cs, ok := s.mgr.Get(req.SessionID)
	if !ok {
		notFound(c, "会话不存在")
		return
	}

	threadID, err := s.mgr.NewThread(c.Request.Context(), cs, req.ThreadName)
	if err != nil {
		serverError(c, err)
		return
	}

	s.bus.Publish(Event{Type: "thread_created", Data: gin.H{"thread_id": threadID}})
	created(c, gin.H{"thread_id": threadID, "thread_name": req.ThreadName})
}

func (s *Server) listThreads(c *gin.Context) {
	items, err := s.mgr.RecentThreads(c.Request.Context())
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}

func (s *Server) loadThread(c *gin.Context) {
	cs := s.session(c)
	if cs == nil {
		return
	}
	var req struct {
		ThreadID int64 `json:"thread_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ThreadID == 0 {
		badRequest(c, "invalid_request", "thread_id is required")
		return
	}

	n, err := s.mgr.LoadThread(c.Request.Context(), cs, req.ThreadID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			notFound(c, err.Error())
			return
		}
		serverError(c, err)
		return
	}
	success(c, gin.H{"thread_id": req.ThreadID, "message_count": n})
}

// ========================================
// 系统日志
// ========================================

func (s *Server) listSystemLog(c *gin.Context) {
	if s.logs == nil {
		success(c, []any{})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	items, err := s.logs.ListRecent(c.Request.Context(), c.Query("level"), limit)
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}
