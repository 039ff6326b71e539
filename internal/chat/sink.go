// sink.go — session.TurnSink 适配到 store.TurnStore。
package chat

import (
	"context"

	"github.com/cortexlab/cortex-chat/internal/session"
	"github.com/cortexlab/cortex-chat/internal/store"
)

type turnSink struct {
	turns *store.TurnStore
}

func (s turnSink) AppendTurn(ctx context.Context, rec session.TurnRecord) error {
	return s.turns.AppendTurn(ctx, &store.Turn{
		ThreadID:        rec.ThreadID,
		ThreadName:      rec.ThreadName,
		MessageID:       rec.MessageID,
		ParentMessageID: rec.ParentMessageID,
		UserID:          rec.UserID,
		SessionID:       rec.SessionID,
		AgentName:       rec.AgentName,
		DatabaseName:    rec.DatabaseName,
		SchemaName:      rec.SchemaName,
		MessageRole:     rec.Role,
		MessageContent:  rec.Content,
		MessageJSON:     rec.MessageJSON,
		ResponseJSON:    rec.ResponseJSON,
	})
}
