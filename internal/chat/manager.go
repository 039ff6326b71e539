// manager.go — 会话管理: session id → 会话状态, turn 串行化, 线程操作。
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlab/cortex-chat/internal/agent"
	"github.com/cortexlab/cortex-chat/internal/config"
	"github.com/cortexlab/cortex-chat/internal/session"
	"github.com/cortexlab/cortex-chat/internal/store"
	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
	"github.com/cortexlab/cortex-chat/pkg/logger"
	"github.com/cortexlab/cortex-chat/pkg/util"
)

// 线程创建时的来源标记。
const originApplication = "cortex_agent"

// ThreadAPI 线程生命周期操作。由 agent.Client 实现。
type ThreadAPI interface {
	CreateThread(ctx context.Context, originApp string) (int64, error)
	RenameThread(ctx context.Context, threadID int64, name string) error
}

// ThreadHistory 线程历史查询。由 store.TurnStore 实现。
type ThreadHistory interface {
	LoadThread(ctx context.Context, threadID int64, userID string) ([]store.Turn, error)
	MaxParentMessageID(ctx context.Context, threadID int64, userID string) (int64, error)
	ListRecentThreads(ctx context.Context, userID string, limit int) ([]store.ThreadSummary, error)
}

// ChatSession 一个浏览器会话: 独立状态 + turn 串行锁 + 增量订阅者。
type ChatSession struct {
	ID string

	mu    sync.Mutex // 同一会话内 turn 严格串行
	state *session.State

	subMu sync.RWMutex
	subs  map[string]chan session.Delta
}

// subscribe 注册增量订阅者 (ws 连接)。
func (cs *ChatSession) subscribe(id string) chan session.Delta {
	cs.subMu.Lock()
	defer cs.subMu.Unlock()
	ch := make(chan session.Delta, 64)
	cs.subs[id] = ch
	return ch
}

func (cs *ChatSession) unsubscribe(id string) {
	cs.subMu.Lock()
	delete(cs.subs, id)
	cs.subMu.Unlock()
}

// publish 向所有订阅者分发增量, 慢订阅者丢弃。
func (cs *ChatSession) publish(d session.Delta) {
	cs.subMu.RLock()
	defer cs.subMu.RUnlock()
	for _, ch := range cs.subs {
		select {
		case ch <- d:
		default:
		}
	}
}

// ThreadInfo 当前绑定的线程 id 与名称。
func (cs *ChatSession) ThreadInfo() (int64, string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state.ThreadID, cs.state.ThreadName
}

// Messages 当前展示历史的快照。
func (cs *ChatSession) Messages() []agent.Message {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]agent.Message, len(cs.state.Messages))
	copy(out, cs.state.Messages)
	return out
}

// Manager 会话集合 + 对话编排。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession

	ctrl    *session.Controller
	threads ThreadAPI
	history ThreadHistory
	cfg     *config.Config
}

// NewManager 创建管理器。history 可为 nil (无持久化后端的降级模式)。
func NewManager(ctrl *session.Controller, threads ThreadAPI, history ThreadHistory, cfg *config.Config) *Manager {
	return &Manager{
		sessions: make(map[string]*ChatSession),
		ctrl:     ctrl,
		threads:  threads,
		history:  history,
		cfg:      cfg,
	}
}

// CreateSession 新建会话 (未绑定线程, 全量历史模式)。
func (m *Manager) CreateSession() *ChatSession {
	id := uuid.NewString()
	cs := &ChatSession{
		ID:    id,
		state: session.NewState(id, m.cfg.DefaultUserID),
		subs:  make(map[string]chan session.Delta),
	}
	m.mu.Lock()
	m.sessions[id] = cs
	m.mu.Unlock()

	logger.Infow("会话已创建", logger.FieldSessionID, id)
	return cs
}

// Get 按 id 取会话。
func (m *Manager) Get(id string) (*ChatSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.sessions[id]
	return cs, ok
}

// Remove 删除会话。
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// RunTurn 在会话内执行一次 turn (会话内严格串行)。
func (m *Manager) RunTurn(ctx context.Context, cs *ChatSession, prompt string) (*session.TurnResult, error) {
	if prompt == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "chat.Manager.RunTurn", "空输入")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	m.auditRequest(cs, prompt)

	start := time.Now()
	res, err := m.ctrl.RunTurn(ctx, cs.state, prompt, cs.publish)
	if err != nil {
		return res, err
	}

	logger.Infow("turn 完成",
		logger.FieldSessionID, cs.ID,
		logger.FieldThreadID, cs.state.ThreadID,
		logger.FieldParentID, cs.state.ParentMessageID,
		logger.FieldRequestID, res.RequestID,
		logger.FieldLatencyMS, time.Since(start).Milliseconds())

	// 未命名线程用首条输入命名 (尽力而为)
	if cs.state.ThreadActive && cs.state.ThreadName == "" {
		name := util.Truncate(prompt, 60)
		if rerr := m.threads.RenameThread(ctx, cs.state.ThreadID, name); rerr != nil {
			logger.Warnw("线程命名失败", logger.FieldThreadID, cs.state.ThreadID, logger.FieldError, rerr)
		} else {
			cs.state.ThreadName = name
		}
	}
	return res, nil
}

// NewThread 新建服务端线程并绑定会话 (parent 归零, 历史清空)。
func (m *Manager) NewThread(ctx context.Context, cs *ChatSession, name string) (int64, error) {
	threadID, err := m.threads.CreateThread(ctx, originApplication)
	if err != nil {
		return 0, err
	}
	if name != "" {
		if err := m.threads.RenameThread(ctx, threadID, name); err != nil {
			logger.Warnw("线程命名失败", logger.FieldThreadID, threadID, logger.FieldError, err)
		}
	}

	cs.mu.Lock()
	cs.state = session.NewState(cs.ID, m.cfg.DefaultUserID)
	cs.state.AttachThread(threadID, name)
	cs.mu.Unlock()

	return threadID, nil
}

// LoadThread 从存储恢复线程: 重建展示历史, parent 取线程内最大值。
func (m *Manager) LoadThread(ctx context.Context, cs *ChatSession, threadID int64) (int, error) {
	const op = "chat.Manager.LoadThread"
	if m.history == nil {
		return 0, apperrors.New(op, "无持久化后端, 无法加载线程")
	}

	userID := m.cfg.DefaultUserID
	rows, err := m.history.LoadThread(ctx, threadID, userID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, apperrors.Wrapf(apperrors.ErrNotFound, op, "线程 %d 无历史", threadID)
	}
	parentID, err := m.history.MaxParentMessageID(ctx, threadID, userID)
	if err != nil {
		return 0, err
	}

	turns := make([]session.StoredTurn, 0, len(rows))
	threadName := ""
	for _, r := range rows {
		if r.MessageRole == "" || r.MessageContent == "" && len(r.MessageJSON) == 0 {
			continue
		}
		threadName = util.FirstNonEmpty(threadName, r.ThreadName)
		turns = append(turns, session.StoredTurn{
			Role:        r.MessageRole,
			Content:     r.MessageContent,
			MessageJSON: r.MessageJSON,
		})
	}

	cs.mu.Lock()
	cs.state = session.RestoreState(cs.ID, userID, threadID, threadName, parentID, turns)
	n := len(cs.state.Messages)
	cs.mu.Unlock()

	logger.Infow("线程已加载",
		logger.FieldThreadID, threadID,
		logger.FieldParentID, parentID,
		logger.FieldCount, n)
	return n, nil
}

// RecentThreads 最近线程列表 (按线程去重)。
func (m *Manager) RecentThreads(ctx context.Context) ([]store.ThreadSummary, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.ListRecentThreads(ctx, m.cfg.DefaultUserID, m.cfg.RecentThreadLimit)
}

// auditRequest 记录即将发出的请求概要, 可选落盘完整 payload。
// 控制器在发送前才追加用户消息, 这里按相同规则构造, 保证记录与实际请求一致。
func (m *Manager) auditRequest(cs *ChatSession, prompt string) {
	st := cs.state
	msgs := append(append([]agent.Message{}, st.Messages...), agent.TextMessage(agent.RoleUser, prompt))
	logger.Infow("dispatching agent request",
		logger.FieldSessionID, cs.ID,
		logger.FieldThreadID, st.ThreadID,
		logger.FieldParentID, st.ParentMessageID,
		logger.FieldCount, len(msgs))

	if !m.cfg.PayloadLogEnabled {
		return
	}
	req := agent.BuildRunRequest(m.cfg.AgentModel, st.ThreadActive, st.ThreadID, st.ParentMessageID, msgs)
	b, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(m.cfg.PayloadLogDir, fmt.Sprintf("run-%d.json", time.Now().UnixNano()))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		logger.Warnw("payload 落盘失败", logger.FieldPath, path, logger.FieldError, err)
	}
}
