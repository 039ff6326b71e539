package agent

import (
	"encoding/json"
	"testing"

	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, d DecodedEvent)
	}{
		{
			name:  "status",
			event: Event{Name: EventStatus, Data: []byte(`{"message":"Running SQL..."}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindStatus || d.Status.Message != "Running SQL..." {
					t.Fatalf("decode status = %+v", d)
				}
			},
		},
		{
			name:  "text delta",
			event: Event{Name: EventTextDelta, Data: []byte(`{"content_index":2,"text":"hello"}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindTextDelta || d.TextDelta.ContentIndex != 2 || d.TextDelta.Text != "hello" {
					t.Fatalf("decode text delta = %+v", d)
				}
			},
		},
		{
			name:  "thinking delta",
			event: Event{Name: EventThinkingDelta, Data: []byte(`{"content_index":0,"text":"hmm"}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindThinkingDelta || d.ThinkingDelta.Text != "hmm" {
					t.Fatalf("decode thinking delta = %+v", d)
				}
			},
		},
		{
			name:  "chart",
			event: Event{Name: EventChart, Data: []byte(`{"content_index":1,"chart_spec":"{\"mark\":\"bar\"}"}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindChart || d.Chart.ContentIndex != 1 {
					t.Fatalf("decode chart = %+v", d)
				}
				spec, err := ParseChartSpec(d.Chart.ChartSpec)
				if err != nil {
					t.Fatalf("ParseChartSpec: %v", err)
				}
				if spec["mark"] != "bar" {
					t.Fatalf("chart spec = %v", spec)
				}
			},
		},
		{
			name: "table",
			event: Event{Name: EventTable, Data: []byte(`{
				"content_index": 3,
				"result_set": {
					"data": [["A", 1], ["B", 2]],
					"result_set_meta_data": {"row_type": [{"name": "REGION"}, {"name": "TOTAL"}]}
				}
			}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindTable {
					t.Fatalf("kind = %v", d.Kind)
				}
				cols := d.Table.ResultSet.ColumnNames()
				if len(cols) != 2 || cols[0] != "REGION" || cols[1] != "TOTAL" {
					t.Fatalf("columns = %v", cols)
				}
				if len(d.Table.ResultSet.Data) != 2 {
					t.Fatalf("rows = %d", len(d.Table.ResultSet.Data))
				}
			},
		},
		{
			name:  "metadata numeric id",
			event: Event{Name: EventMetadata, Data: []byte(`{"metadata":{"message_id":42,"role":"assistant"}}`)},
			check: func(t *testing.T, d DecodedEvent) {
				id, ok := d.Metadata.Metadata.MessageIDInt()
				if !ok || id != 42 || d.Metadata.Metadata.Role != "assistant" {
					t.Fatalf("metadata = %+v", d.Metadata)
				}
			},
		},
		{
			name:  "metadata string id",
			event: Event{Name: EventMetadata, Data: []byte(`{"metadata":{"message_id":"7","role":"user"}}`)},
			check: func(t *testing.T, d DecodedEvent) {
				id, ok := d.Metadata.Metadata.MessageIDInt()
				if !ok || id != 7 {
					t.Fatalf("metadata id = %v ok=%v", id, ok)
				}
			},
		},
		{
			name:  "response",
			event: Event{Name: EventResponse, Data: []byte(`{"role":"assistant","content":[{"type":"text","text":"done"}]}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindResponse || d.Response.Role != RoleAssistant {
					t.Fatalf("response = %+v", d)
				}
				if d.Response.FlattenText() != "done" {
					t.Fatalf("flatten = %q", d.Response.FlattenText())
				}
			},
		},
		{
			name:  "error",
			event: Event{Name: EventError, Data: []byte(`{"message":"quota exceeded","code":390112}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindError || d.Err.Message != "quota exceeded" || d.Err.Code.String() != "390112" {
					t.Fatalf("error = %+v", d.Err)
				}
			},
		},
		{
			name:  "tool use keeps raw payload",
			event: Event{Name: EventToolUse, Data: []byte(`{"content_index":0,"tool_use":{"name":"sql_exec"}}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindToolUse || len(d.ToolUse.Raw) == 0 {
					t.Fatalf("tool use = %+v", d)
				}
			},
		},
		{
			name:  "unknown event ignored",
			event: Event{Name: "response.future_thing", Data: []byte(`{"whatever":true}`)},
			check: func(t *testing.T, d DecodedEvent) {
				if d.Kind != KindUnknown {
					t.Fatalf("kind = %v, want KindUnknown", d.Kind)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.event)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, d)
		})
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode(Event{Name: EventTextDelta, Data: []byte(`{not json`)})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !apperrors.HasCode(err, apperrors.CodeStreamDecode) {
		t.Fatalf("code = %q, want %q", apperrors.Code(err), apperrors.CodeStreamDecode)
	}
}

func TestStripThinking(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Type: ContentThinking, Text: "reasoning..."},
			{Type: ContentText, Text: "answer"},
			{Type: ContentChart, ChartSpec: "{}"},
		},
	}
	clean := msg.StripThinking()
	if len(clean.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(clean.Content))
	}
	for _, c := range clean.Content {
		if c.Type == ContentThinking {
			t.Fatal("thinking block survived strip")
		}
	}
	// 原消息不受影响
	if len(msg.Content) != 3 {
		t.Fatalf("original mutated: %d blocks", len(msg.Content))
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := TextMessage(RoleUser, "show me sales by region")
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Message
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Role != RoleUser || back.FlattenText() != "show me sales by region" {
		t.Fatalf("round trip = %+v", back)
	}
}
