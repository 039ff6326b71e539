package store

import (
	"encoding/json"
	"testing"

	"github.com/cortexlab/cortex-chat/internal/agent"
)

// 持久化 message_json 后重新加载, 角色与内容块结构保持一致。
func TestTurnMessageJSONRoundTrip(t *testing.T) {
	original := agent.Message{
		Role: agent.RoleAssistant,
		Content: []agent.ContentBlock{
			{Type: agent.ContentText, Text: "total sales were 1.2M"},
			{Type: agent.ContentChart, ChartSpec: `{"mark":"bar"}`},
			{Type: agent.ContentTable, ResultSet: &agent.ResultSet{
				Data: [][]any{{"EMEA", float64(42)}},
				Meta: agent.ResultSetMetaData{RowType: []agent.ColumnInfo{{Name: "REGION"}, {Name: "TOTAL"}}},
			}},
		},
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	turn := Turn{MessageRole: original.Role, MessageJSON: b}

	var restored agent.Message
	if err := json.Unmarshal(turn.MessageJSON, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.Role != original.Role {
		t.Fatalf("role = %q", restored.Role)
	}
	if len(restored.Content) != len(original.Content) {
		t.Fatalf("blocks = %d, want %d", len(restored.Content), len(original.Content))
	}
	for i, blk := range restored.Content {
		if blk.Type != original.Content[i].Type {
			t.Fatalf("block %d type = %q, want %q", i, blk.Type, original.Content[i].Type)
		}
	}
	if got := restored.Content[2].ResultSet.ColumnNames(); len(got) != 2 || got[0] != "REGION" {
		t.Fatalf("columns = %v", got)
	}
}

func TestThreadSummaryJSONShape(t *testing.T) {
	b, err := json.Marshal(ThreadSummary{ThreadID: 7, ThreadName: "sales", TurnCount: 4})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["threadId"] != float64(7) || m["threadName"] != "sales" || m["turnCount"] != float64(4) {
		t.Fatalf("shape = %v", m)
	}
}
