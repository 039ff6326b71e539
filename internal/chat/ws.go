// ws.go — WebSocket 实时增量通道。
//
// 浏览器连接后收取流式 turn 的渲染增量 (text/thinking/tool/chart/table/status),
// 增量顺序与事件到达顺序一致。
package chat

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cortexlab/cortex-chat/pkg/logger"
	"github.com/cortexlab/cortex-chat/pkg/util"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 同源校验交给前置代理
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler 升级连接并转发会话增量。
func (s *Server) wsHandler(c *gin.Context) {
	cs := s.session(c)
	if cs == nil {
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnw("ws 升级失败", logger.FieldSessionID, cs.ID, logger.FieldError, err)
		return
	}

	subID := "ws-" + uuid.NewString()
	ch := cs.subscribe(subID)
	logger.Infow("ws 已连接", logger.FieldSessionID, cs.ID, "subscriber_id", subID)

	done := make(chan struct{})

	// 读循环只用于感知断连 (客户端不上行业务数据)
	util.SafeGo(func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	// 写循环在 handler 内同步执行, 连接生命周期与 handler 一致
	defer func() {
		cs.unsubscribe(subID)
		_ = conn.Close()
		logger.Infow("ws 已断开", logger.FieldSessionID, cs.ID, "subscriber_id", subID)
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case d := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(d); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
