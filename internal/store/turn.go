// turn.go — conversation_tracking 表 (对话 turn 追加日志)。
//
// 每条用户/助手消息一行, 只追加不修改。
// parent_message_id 链用于恢复线程时重算续写锚点。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
	"github.com/cortexlab/cortex-chat/pkg/util"
)

// Turn 一条持久化的对话 turn。
type Turn struct {
	ID              int64           `db:"id" json:"id"`
	ThreadID        int64           `db:"thread_id" json:"threadId"`
	ThreadName      string          `db:"thread_name" json:"threadName"`
	MessageID       int64           `db:"message_id" json:"messageId"`
	ParentMessageID int64           `db:"parent_message_id" json:"parentMessageId"`
	UserID          string          `db:"user_id" json:"userId"`
	SessionID       string          `db:"session_id" json:"sessionId"`
	AgentName       string          `db:"agent_name" json:"agentName"`
	DatabaseName    string          `db:"database_name" json:"databaseName"`
	SchemaName      string          `db:"schema_name" json:"schemaName"`
	MessageRole     string          `db:"message_role" json:"messageRole"`
	MessageContent  string          `db:"message_content" json:"messageContent"`
	MessageJSON     json.RawMessage `db:"message_json" json:"messageJson,omitempty"`
	ResponseJSON    json.RawMessage `db:"response_json" json:"responseJson,omitempty"`
	LastUpdated     time.Time       `db:"last_updated" json:"lastUpdated"`
}

// ThreadSummary 线程列表项 (按 thread 去重)。
type ThreadSummary struct {
	ThreadID    int64     `db:"thread_id" json:"threadId"`
	ThreadName  string    `db:"thread_name" json:"threadName"`
	TurnCount   int64     `db:"turn_count" json:"turnCount"`
	LastUpdated time.Time `db:"last_updated" json:"lastUpdated"`
}

// TurnStore conversation_tracking 存储。
type TurnStore struct{ BaseStore }

// NewTurnStore 创建。
func NewTurnStore(pool *pgxpool.Pool) *TurnStore {
	return &TurnStore{NewBaseStore(pool)}
}

const turnCols = "id, thread_id, thread_name, message_id, parent_message_id, " +
	"user_id, session_id, agent_name, database_name, schema_name, " +
	"message_role, message_content, message_json, response_json, last_updated"

// AppendTurn 追加一条 turn。后端不可用返回 CodeStorage, 调用方按非致命处理。
func (s *TurnStore) AppendTurn(ctx context.Context, t *Turn) error {
	const op = "store.TurnStore.AppendTurn"
	if t.LastUpdated.IsZero() {
		t.LastUpdated = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_tracking
		   (thread_id, thread_name, message_id, parent_message_id,
		    user_id, session_id, agent_name, database_name, schema_name,
		    message_role, message_content, message_json, response_json, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ThreadID, t.ThreadName, t.MessageID, t.ParentMessageID,
		t.UserID, t.SessionID, t.AgentName, t.DatabaseName, t.SchemaName,
		t.MessageRole, t.MessageContent, t.MessageJSON, t.ResponseJSON, t.LastUpdated)
	if err != nil {
		return apperrors.WrapCode(err, apperrors.CodeStorage, op, "turn 写入失败")
	}
	return nil
}

// MaxParentMessageID 线程内已持久化的最大 parent_message_id。
// 无记录返回 0, 作为新线程哨兵。
func (s *TurnStore) MaxParentMessageID(ctx context.Context, threadID int64, userID string) (int64, error) {
	const op = "store.TurnStore.MaxParentMessageID"
	var maxID int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(parent_message_id), 0)
		   FROM conversation_tracking
		  WHERE thread_id = $1 AND user_id = $2`,
		threadID, userID).Scan(&maxID)
	if err != nil {
		return 0, apperrors.WrapCode(err, apperrors.CodeStorage, op, "parent 查询失败")
	}
	return maxID, nil
}

// ListRecentThreads 按线程去重的最近线程列表, 最新更新在前。
func (s *TurnStore) ListRecentThreads(ctx context.Context, userID string, limit int) ([]ThreadSummary, error) {
	const op = "store.TurnStore.ListRecentThreads"
	limit = util.ClampInt(limit, 1, 100)

	rows, err := s.pool.Query(ctx,
		`SELECT thread_id, thread_name, turn_count, last_updated FROM (
		   SELECT thread_id, thread_name, last_updated,
		          COUNT(*) OVER (PARTITION BY thread_id) AS turn_count,
		          ROW_NUMBER() OVER (PARTITION BY thread_id ORDER BY last_updated DESC) AS rn
		     FROM conversation_tracking
		    WHERE user_id = $1 AND thread_id <> 0
		 ) t WHERE rn = 1
		 ORDER BY last_updated DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.CodeStorage, op, "线程列表查询失败")
	}
	return collectRows[ThreadSummary](rows)
}

// LoadThread 按时间升序加载线程全部 turn (展示历史重建用)。
func (s *TurnStore) LoadThread(ctx context.Context, threadID int64, userID string) ([]Turn, error) {
	const op = "store.TurnStore.LoadThread"
	rows, err := s.pool.Query(ctx,
		`SELECT `+turnCols+`
		   FROM conversation_tracking
		  WHERE thread_id = $1 AND user_id = $2
		  ORDER BY last_updated ASC, id ASC`,
		threadID, userID)
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.CodeStorage, op, "线程历史查询失败")
	}
	return collectRows[Turn](rows)
}
