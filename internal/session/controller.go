package session

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cortexlab/cortex-chat/internal/agent"
	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
	"github.com/cortexlab/cortex-chat/pkg/logger"
	"github.com/cortexlab/cortex-chat/pkg/util"
)

// ========================================
// 状态机
// ========================================

// Status turn 状态机状态。
type Status int

const (
	StatusIdle Status = iota
	StatusDispatched
	StatusStreaming
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDispatched:
		return "dispatched"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ========================================
// 协作方接口
// ========================================

// Runner 发起一次流式 agent 调用。由 agent.Client 实现。
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.Stream, error)
}

// TurnSink 持久化一条 turn。写失败对当前 turn 非致命。
type TurnSink interface {
	AppendTurn(ctx context.Context, rec TurnRecord) error
}

// TurnRecord 一条待持久化的 turn 行。
type TurnRecord struct {
	ThreadID        int64
	ThreadName      string
	MessageID       int64
	ParentMessageID int64
	UserID          string
	SessionID       string
	AgentName       string
	DatabaseName    string
	SchemaName      string
	Role            string
	Content         string
	MessageJSON     []byte
	ResponseJSON    []byte
}

// ========================================
// 渲染增量
// ========================================

// DeltaType 渲染增量类别。
type DeltaType string

const (
	DeltaStatus       DeltaType = "status"
	DeltaText         DeltaType = "text"
	DeltaThinking     DeltaType = "thinking"
	DeltaThinkingDone DeltaType = "thinking_done"
	DeltaToolUse      DeltaType = "tool_use"
	DeltaToolResult   DeltaType = "tool_result"
	DeltaChart        DeltaType = "chart"
	DeltaTable        DeltaType = "table"
	DeltaDone         DeltaType = "done"
	DeltaError        DeltaType = "error"
)

// Delta 流式阶段发给展示层的增量 (仅展示, 不持久化)。
type Delta struct {
	Type         DeltaType        `json:"type"`
	ContentIndex int              `json:"content_index,omitempty"`
	Text         string           `json:"text,omitempty"`
	Chart        map[string]any   `json:"chart,omitempty"`
	Table        *agent.ResultSet `json:"table,omitempty"`
	Raw          json.RawMessage  `json:"raw,omitempty"`
	Message      *agent.Message   `json:"message,omitempty"`
}

// Observer 接收渲染增量。nil 表示无人订阅。
type Observer func(Delta)

// ========================================
// 流会话控制器
// ========================================

// TurnResult 一次 turn 的最终结果。
// 存储失败不使 turn 失败, 以诊断形式附着在 StorageErrs。
type TurnResult struct {
	Status      Status
	Message     agent.Message // 终态助手消息 (已剔除 thinking)
	RequestID   string
	ServerError *agent.ErrorEventData
	StorageErrs []error
}

// Controller 按到达顺序串行消费事件流, 驱动缓冲与线程追踪,
// 决定持久化内容, 并向观察者发渲染增量。
type Controller struct {
	runner Runner
	sink   TurnSink

	model     string
	agentName string
	database  string
	schema    string
}

func NewController(runner Runner, sink TurnSink, model, agentName, database, schema string) *Controller {
	return &Controller{
		runner:    runner,
		sink:      sink,
		model:     model,
		agentName: agentName,
		database:  database,
		schema:    schema,
	}
}

// RunTurn 执行一次完整 turn: 追加用户消息 → 构造请求 → 流式消费 → 终态。
//
// 失败语义:
//   - 传输失败: 撤回用户消息 (状态回滚到请求前), 返回 CodeTransport
//   - error 事件: 撤回用户消息, TurnResult 带 ServerError, 返回 CodeServerError
//   - 流无终止事件即结束: 保留用户消息供重试, 返回 CodeStreamProtocol
//   - 持久化失败: 不返回 error, 记入 TurnResult.StorageErrs
func (c *Controller) RunTurn(ctx context.Context, st *State, prompt string, observe Observer) (*TurnResult, error) {
	const op = "session.Controller.RunTurn"

	userMsg := agent.TextMessage(agent.RoleUser, prompt)
	st.AppendMessage(userMsg)
	st.resetTurn()

	req := agent.BuildRunRequest(c.model, st.ThreadActive, st.ThreadID, st.ParentMessageID, st.Messages)
	dispatchParent := st.ParentMessageID

	stream, err := c.runner.Run(ctx, req)
	if err != nil {
		st.RetractLastUserMessage()
		return &TurnResult{Status: StatusFailed}, err
	}
	defer stream.Events.Close()

	res := &TurnResult{Status: StatusStreaming, RequestID: stream.RequestID}
	textBuf := NewContentBuffer()
	thinkBuf := NewContentBuffer()

	emit := func(d Delta) {
		if observe != nil {
			observe(d)
		}
	}

	for {
		ev, err := stream.Events.Next(ctx)
		if err == io.EOF {
			// 未见终止事件即流结束
			res.Status = StatusFailed
			return res, apperrors.WrapCode(apperrors.ErrIncompleteStream,
				apperrors.CodeStreamProtocol, op, "事件流在终止事件前结束")
		}
		if err != nil {
			st.RetractLastUserMessage()
			res.Status = StatusFailed
			return res, err
		}

		decoded, err := agent.Decode(ev)
		if err != nil {
			// 已识别事件 payload 损坏: 跳过, 会话继续
			logger.Warnw("事件解码失败, 已跳过",
				logger.FieldEventType, ev.Name,
				logger.FieldError, err)
			continue
		}

		switch decoded.Kind {
		case agent.KindUnknown:
			logger.Debugw("未识别事件, 已忽略", logger.FieldEventType, ev.Name)

		case agent.KindStatus:
			emit(Delta{Type: DeltaStatus, Text: decoded.Status.Message})

		case agent.KindTextDelta:
			d := decoded.TextDelta
			textBuf.Append(d.ContentIndex, d.Text)
			emit(Delta{Type: DeltaText, ContentIndex: d.ContentIndex, Text: d.Text})

		case agent.KindThinkingDelta:
			d := decoded.ThinkingDelta
			thinkBuf.Append(d.ContentIndex, d.Text)
			emit(Delta{Type: DeltaThinking, ContentIndex: d.ContentIndex, Text: d.Text})

		case agent.KindThinking:
			d := decoded.Thinking
			if d.Text != "" && thinkBuf.Text(d.ContentIndex) == "" {
				thinkBuf.Append(d.ContentIndex, d.Text)
			}
			thinkBuf.Close(d.ContentIndex)
			emit(Delta{Type: DeltaThinkingDone, ContentIndex: d.ContentIndex})

		case agent.KindToolUse:
			emit(Delta{Type: DeltaToolUse, ContentIndex: decoded.ToolUse.ContentIndex, Raw: decoded.ToolUse.Raw})

		case agent.KindToolResult:
			emit(Delta{Type: DeltaToolResult, ContentIndex: decoded.ToolResult.ContentIndex, Raw: decoded.ToolResult.Raw})

		case agent.KindChart:
			d := decoded.Chart
			spec, err := agent.ParseChartSpec(d.ChartSpec)
			if err != nil {
				logger.Warnw("chart_spec 内层解析失败, 已跳过",
					logger.FieldContentIndex, d.ContentIndex,
					logger.FieldError, err)
				continue
			}
			emit(Delta{Type: DeltaChart, ContentIndex: d.ContentIndex, Chart: spec})

		case agent.KindTable:
			d := decoded.Table
			emit(Delta{Type: DeltaTable, ContentIndex: d.ContentIndex, Table: &d.ResultSet})

		case agent.KindMetadata:
			md := decoded.Metadata.Metadata
			if !st.ObserveMetadata(md) {
				continue
			}
			if md.Role == agent.RoleUser && st.ThreadActive {
				// 用户 turn 在链接信息到达时立即持久化 (仅线程模式落库)
				c.persist(ctx, res, TurnRecord{
					ThreadID:        st.ThreadID,
					ThreadName:      st.ThreadName,
					MessageID:       st.CurrentUserMessageID,
					ParentMessageID: dispatchParent,
					UserID:          st.UserID,
					SessionID:       st.SessionID,
					AgentName:       c.agentName,
					DatabaseName:    c.database,
					SchemaName:      c.schema,
					Role:            agent.RoleUser,
					Content:         prompt,
					MessageJSON:     mustJSON(userMsg),
				})
			}

		case agent.KindError:
			st.RetractLastUserMessage()
			res.Status = StatusFailed
			res.ServerError = decoded.Err
			emit(Delta{Type: DeltaError, Text: decoded.Err.Message})
			return res, apperrors.NewCode(apperrors.CodeServerError, op,
				"服务端错误 ["+decoded.Err.Code.String()+"]: "+decoded.Err.Message)

		case agent.KindResponse:
			// thinking 块从展示与持久化双双剔除
			final := decoded.Response.StripThinking()
			st.AppendMessage(final)
			res.Message = final
			res.Status = StatusCompleted

			switch {
			case !st.ThreadActive:
				// 全量历史模式无线程上下文, 不落库
			case st.CurrentAssistantMessageID != 0:
				c.persist(ctx, res, TurnRecord{
					ThreadID:        st.ThreadID,
					ThreadName:      st.ThreadName,
					MessageID:       st.CurrentAssistantMessageID,
					ParentMessageID: st.ParentMessageID,
					UserID:          st.UserID,
					SessionID:       st.SessionID,
					AgentName:       c.agentName,
					DatabaseName:    c.database,
					SchemaName:      c.schema,
					Role:            agent.RoleAssistant,
					Content:         util.Truncate(final.FlattenText(), 4000),
					MessageJSON:     mustJSON(final),
					ResponseJSON:    ev.Data,
				})
			default:
				logger.Warnw("无助手 message_id, 跳过助手 turn 持久化",
					logger.FieldThreadID, st.ThreadID)
			}

			emit(Delta{Type: DeltaDone, Message: &final})
			return res, nil
		}
	}
}

// persist 写入单条 turn。失败仅记日志并附着诊断。
func (c *Controller) persist(ctx context.Context, res *TurnResult, rec TurnRecord) {
	if c.sink == nil {
		return
	}
	if err := c.sink.AppendTurn(ctx, rec); err != nil {
		logger.Errorw("turn 持久化失败",
			logger.FieldThreadID, rec.ThreadID,
			logger.FieldMessageID, rec.MessageID,
			logger.FieldRole, rec.Role,
			logger.FieldError, err)
		res.StorageErrs = append(res.StorageErrs, err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
