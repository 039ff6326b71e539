// system_log.go — system_logs 表查询 (写入由 logger.DBHandler 异步完成)。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexlab/cortex-chat/pkg/util"
)

// SystemLog 一条落库日志。
type SystemLog struct {
	ID        int64           `db:"id" json:"id"`
	Ts        time.Time       `db:"ts" json:"ts"`
	Level     string          `db:"level" json:"level"`
	Message   string          `db:"message" json:"message"`
	Component string          `db:"component" json:"component"`
	ThreadID  string          `db:"thread_id" json:"threadId"`
	SessionID string          `db:"session_id" json:"sessionId"`
	EventType string          `db:"event_type" json:"eventType"`
	Extra     json.RawMessage `db:"extra" json:"extra,omitempty"`
}

// SystemLogStore system_logs 存储。
type SystemLogStore struct{ BaseStore }

// NewSystemLogStore 创建。
func NewSystemLogStore(pool *pgxpool.Pool) *SystemLogStore {
	return &SystemLogStore{NewBaseStore(pool)}
}

const slCols = "id, ts, level, message, component, thread_id, session_id, event_type, extra"

// ListRecent 最近日志, 最新在前。level 为空时不过滤。
func (s *SystemLogStore) ListRecent(ctx context.Context, level string, limit int) ([]SystemLog, error) {
	limit = util.ClampInt(limit, 1, 500)

	var sql string
	var args []any
	if level != "" {
		sql = "SELECT " + slCols + " FROM system_logs WHERE level = $1 ORDER BY id DESC LIMIT $2"
		args = []any{level, limit}
	} else {
		sql = "SELECT " + slCols + " FROM system_logs ORDER BY id DESC LIMIT $1"
		args = []any{limit}
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows[SystemLog](rows)
}

// Cleanup 删除指定时间之前的日志, 返回删除行数。
func (s *SystemLogStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM system_logs WHERE ts < $1", before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
