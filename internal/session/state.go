package session

import (
	"encoding/json"

	"github.com/cortexlab/cortex-chat/internal/agent"
	"github.com/cortexlab/cortex-chat/pkg/logger"
)

// ObservedMessageID 线程内观察到的 (role, message_id) 记录。
type ObservedMessageID struct {
	Role      string
	MessageID int64
}

// State 单个逻辑会话的全部可变状态。
//
// 每个会话一个实例, "新建线程"/"加载线程" 时显式创建,
// 由流状态机独占修改, 绝不跨会话共享。
type State struct {
	SessionID string
	UserID    string

	// 线程追踪
	ThreadID        int64
	ThreadName      string
	ThreadActive    bool
	ParentMessageID int64 // 0 = 新线程无前序消息

	// 当前 turn 流中发现的链接信息
	CurrentUserMessageID      int64
	CurrentAssistantMessageID int64

	// 观察到的 (role, message_id) 有序日志
	MessageIDs []ObservedMessageID

	// 展示历史 (不含 thinking 块)
	Messages []agent.Message
}

// NewState 创建空会话状态 (未绑定线程, 全量历史模式)。
func NewState(sessionID, userID string) *State {
	return &State{SessionID: sessionID, UserID: userID}
}

// AttachThread 绑定新建线程, parent 置 0 哨兵。
func (s *State) AttachThread(threadID int64, name string) {
	s.ThreadID = threadID
	s.ThreadName = name
	s.ThreadActive = true
	s.ParentMessageID = 0
	s.resetTurn()
}

// resetTurn 清空单 turn 的流内链接信息。
func (s *State) resetTurn() {
	s.CurrentUserMessageID = 0
	s.CurrentAssistantMessageID = 0
}

// ObserveMetadata 处理 metadata 事件的链接信息。
//
// role=assistant 时 parent_message_id 同步推进为该 message_id —
// 下一条用户 turn 的 parent 永远是最近观察到的助手消息 ID。
// role 非法或 message_id 缺失时仅记日志, 不中断流。
// 返回值表示该事件是否被采纳。
func (s *State) ObserveMetadata(md agent.MessageMetadata) bool {
	id, ok := md.MessageIDInt()
	if !ok {
		logger.Warnw("metadata 缺少可解析的 message_id, 已忽略",
			logger.FieldRole, md.Role,
			logger.FieldThreadID, s.ThreadID)
		return false
	}
	switch md.Role {
	case agent.RoleUser:
		s.CurrentUserMessageID = id
	case agent.RoleAssistant:
		s.CurrentAssistantMessageID = id
		s.ParentMessageID = id
	default:
		logger.Warnw("metadata 角色未识别, 已忽略",
			logger.FieldRole, md.Role,
			logger.FieldMessageID, id)
		return false
	}
	s.MessageIDs = append(s.MessageIDs, ObservedMessageID{Role: md.Role, MessageID: id})
	return true
}

// AppendMessage 追加展示消息。
func (s *State) AppendMessage(msg agent.Message) {
	s.Messages = append(s.Messages, msg)
}

// RetractLastUserMessage 撤回末尾的用户消息 (error 事件后允许重试)。
// 末尾不是用户消息时不动作。
func (s *State) RetractLastUserMessage() bool {
	n := len(s.Messages)
	if n == 0 || s.Messages[n-1].Role != agent.RoleUser {
		return false
	}
	s.Messages = s.Messages[:n-1]
	return true
}

// ========================================
// 线程恢复
// ========================================

// StoredTurn 从持久层加载的一条 turn (时间升序)。
type StoredTurn struct {
	Role        string
	Content     string
	MessageJSON []byte
}

// RestoreState 从持久化 turn 序列重建会话状态。
//
// 优先反序列化 message_json 还原完整内容块结构;
// 解析失败时退化为纯文本消息。parentID 由调用方
// 取线程内持久化的最大 parent/assistant id。
func RestoreState(sessionID, userID string, threadID int64, threadName string, parentID int64, turns []StoredTurn) *State {
	st := NewState(sessionID, userID)
	st.ThreadID = threadID
	st.ThreadName = threadName
	st.ThreadActive = true
	st.ParentMessageID = parentID

	for _, turn := range turns {
		var msg agent.Message
		if len(turn.MessageJSON) > 0 && json.Unmarshal(turn.MessageJSON, &msg) == nil && msg.Role != "" {
			st.Messages = append(st.Messages, msg.StripThinking())
			continue
		}
		st.Messages = append(st.Messages, agent.TextMessage(turn.Role, turn.Content))
	}
	return st
}
