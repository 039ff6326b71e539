package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/cortexlab/cortex-chat/internal/agent"
	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
)

// ========================================
// 测试桩
// ========================================

type scriptedEvents struct {
	events []agent.Event
	pos    int
}

func (s *scriptedEvents) Next(_ context.Context) (agent.Event, error) {
	if s.pos >= len(s.events) {
		return agent.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedEvents) Close() error { return nil }

type stubRunner struct {
	events  []agent.Event
	err     error
	lastReq agent.RunRequest
}

func (r *stubRunner) Run(_ context.Context, req agent.RunRequest) (*agent.Stream, error) {
	r.lastReq = req
	if r.err != nil {
		return nil, r.err
	}
	return &agent.Stream{Events: &scriptedEvents{events: r.events}, RequestID: "req-test"}, nil
}

type recordingSink struct {
	records []TurnRecord
	err     error
}

func (s *recordingSink) AppendTurn(_ context.Context, rec TurnRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func newTestController(r Runner, sink TurnSink) *Controller {
	return NewController(r, sink, "claude-4-sonnet", "SALES_AGENT", "DB", "SCHEMA")
}

func ev(name, data string) agent.Event {
	return agent.Event{Name: name, Data: []byte(data)}
}

// ========================================
// 内容缓冲
// ========================================

func TestContentBufferInterleaving(t *testing.T) {
	b := NewContentBuffer()
	// 两个 index 交错到达, 各自按顺序拼接
	b.Append(0, "Hi")
	b.Append(1, "SELECT")
	b.Append(0, " there")
	b.Append(1, " 1")
	b.Append(0, "!")

	if got := b.Text(0); got != "Hi there!" {
		t.Fatalf("Text(0) = %q", got)
	}
	if got := b.Text(1); got != "SELECT 1" {
		t.Fatalf("Text(1) = %q", got)
	}
	if got := b.Indices(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("Indices = %v", got)
	}
}

func TestContentBufferCloseStopsAppend(t *testing.T) {
	b := NewContentBuffer()
	b.Append(0, "a")
	b.Close(0)
	b.Append(0, "b")
	if got := b.Text(0); got != "a" {
		t.Fatalf("Text(0) = %q, want append after close ignored", got)
	}
	if !b.Closed(0) {
		t.Fatal("Closed(0) = false")
	}
}

// ========================================
// 线程追踪
// ========================================

func TestParentFollowsAssistantMessageID(t *testing.T) {
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	if !st.ObserveMetadata(agent.MessageMetadata{MessageID: "42", Role: agent.RoleAssistant}) {
		t.Fatal("metadata rejected")
	}
	if st.ParentMessageID != 42 {
		t.Fatalf("ParentMessageID = %d, want 42", st.ParentMessageID)
	}

	// 下一次请求的 parent_message_id 必须是 42
	st.AppendMessage(agent.TextMessage(agent.RoleUser, "next"))
	req := agent.BuildRunRequest("m", st.ThreadActive, st.ThreadID, st.ParentMessageID, st.Messages)
	if req.ParentMessageID == nil || *req.ParentMessageID != 42 {
		t.Fatalf("request parent = %v, want 42", req.ParentMessageID)
	}
}

func TestObserveMetadataTolerant(t *testing.T) {
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	tests := []struct {
		name string
		md   agent.MessageMetadata
	}{
		{"missing id", agent.MessageMetadata{Role: agent.RoleUser}},
		{"unparseable id", agent.MessageMetadata{MessageID: "abc", Role: agent.RoleUser}},
		{"foreign role", agent.MessageMetadata{MessageID: "5", Role: "system"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if st.ObserveMetadata(tt.md) {
				t.Fatal("expected metadata ignored")
			}
		})
	}
	if len(st.MessageIDs) != 0 {
		t.Fatalf("history = %v, want empty", st.MessageIDs)
	}
	if st.ParentMessageID != 0 {
		t.Fatalf("parent mutated to %d", st.ParentMessageID)
	}
}

// ========================================
// 状态机端到端
// ========================================

func TestRunTurnEndToEnd(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventStatus, `{"message":"Interpreting question"}`),
		ev(agent.EventMetadata, `{"metadata":{"message_id":1,"role":"user"}}`),
		ev(agent.EventTextDelta, `{"content_index":0,"text":"Hi"}`),
		ev(agent.EventTextDelta, `{"content_index":0,"text":" there"}`),
		ev(agent.EventMetadata, `{"metadata":{"message_id":2,"role":"assistant"}}`),
		ev(agent.EventResponse, `{"role":"assistant","content":[{"type":"text","text":"Hi there"}]}`),
	}}
	sink := &recordingSink{}
	c := newTestController(runner, sink)

	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	var deltas []Delta
	res, err := c.RunTurn(context.Background(), st, "hello", func(d Delta) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %v", res.Status)
	}
	if got := res.Message.FlattenText(); got != "Hi there" {
		t.Fatalf("assistant text = %q", got)
	}
	if st.ParentMessageID != 2 {
		t.Fatalf("ParentMessageID = %d, want 2", st.ParentMessageID)
	}

	// 持久化: (7,1) 用户 + (7,2) 助手
	if len(sink.records) != 2 {
		t.Fatalf("records = %d, want 2", len(sink.records))
	}
	user, assistant := sink.records[0], sink.records[1]
	if user.ThreadID != 7 || user.MessageID != 1 || user.Role != agent.RoleUser || user.ParentMessageID != 0 {
		t.Fatalf("user record = %+v", user)
	}
	if assistant.ThreadID != 7 || assistant.MessageID != 2 || assistant.Role != agent.RoleAssistant {
		t.Fatalf("assistant record = %+v", assistant)
	}
	if assistant.ParentMessageID != 2 {
		t.Fatalf("assistant parent = %d, want 2 (latest assistant id)", assistant.ParentMessageID)
	}

	// 展示历史: user + assistant
	if len(st.Messages) != 2 || st.Messages[1].FlattenText() != "Hi there" {
		t.Fatalf("messages = %+v", st.Messages)
	}

	// 文本增量按序发出
	var streamed string
	for _, d := range deltas {
		if d.Type == DeltaText {
			streamed += d.Text
		}
	}
	if streamed != "Hi there" {
		t.Fatalf("streamed text = %q", streamed)
	}
}

func TestRunTurnStripsThinking(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventMetadata, `{"metadata":{"message_id":1,"role":"user"}}`),
		ev(agent.EventThinkingDelta, `{"content_index":0,"text":"let me think"}`),
		ev(agent.EventThinking, `{"content_index":0,"text":"let me think"}`),
		ev(agent.EventMetadata, `{"metadata":{"message_id":2,"role":"assistant"}}`),
		ev(agent.EventResponse, `{"role":"assistant","content":[
			{"type":"thinking","text":"let me think"},
			{"type":"text","text":"answer"}
		]}`),
	}}
	sink := &recordingSink{}
	c := newTestController(runner, sink)
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	res, err := c.RunTurn(context.Background(), st, "q", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	for _, blk := range res.Message.Content {
		if blk.Type == agent.ContentThinking {
			t.Fatal("thinking block in displayed message")
		}
	}
	// 持久化副本同样无 thinking
	for _, rec := range sink.records {
		if rec.Role != agent.RoleAssistant {
			continue
		}
		var msg agent.Message
		if err := json.Unmarshal(rec.MessageJSON, &msg); err != nil {
			t.Fatalf("message_json: %v", err)
		}
		for _, blk := range msg.Content {
			if blk.Type == agent.ContentThinking {
				t.Fatal("thinking block persisted")
			}
		}
	}
}

func TestRunTurnServerError(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventError, `{"message":"quota exceeded","code":390112}`),
	}}
	sink := &recordingSink{}
	c := newTestController(runner, sink)
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	res, err := c.RunTurn(context.Background(), st, "hello", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.HasCode(err, apperrors.CodeServerError) {
		t.Fatalf("code = %q", apperrors.Code(err))
	}
	if res.ServerError == nil || res.ServerError.Message != "quota exceeded" {
		t.Fatalf("server error = %+v", res.ServerError)
	}
	// 用户消息已撤回, 可原样重试
	if len(st.Messages) != 0 {
		t.Fatalf("messages = %+v, want retracted", st.Messages)
	}
	// 无孤儿用户 turn 入库 (metadata 从未到达)
	if len(sink.records) != 0 {
		t.Fatalf("records = %+v, want none", sink.records)
	}
}

func TestRunTurnIncompleteStream(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventTextDelta, `{"content_index":0,"text":"partial"}`),
	}}
	c := newTestController(runner, &recordingSink{})
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	res, err := c.RunTurn(context.Background(), st, "hello", nil)
	if !apperrors.HasCode(err, apperrors.CodeStreamProtocol) {
		t.Fatalf("code = %q, err = %v", apperrors.Code(err), err)
	}
	if !errors.Is(err, apperrors.ErrIncompleteStream) {
		t.Fatalf("err = %v, want ErrIncompleteStream", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %v", res.Status)
	}
	// 用户消息保留, 允许按策略重试
	if len(st.Messages) != 1 {
		t.Fatalf("messages = %d, want user message retained", len(st.Messages))
	}
}

func TestRunTurnTransportFailureRollsBack(t *testing.T) {
	runner := &stubRunner{err: apperrors.NewCode(apperrors.CodeTransport, "test", "boom")}
	c := newTestController(runner, &recordingSink{})
	st := NewState("s1", "u1")

	_, err := c.RunTurn(context.Background(), st, "hello", nil)
	if !apperrors.HasCode(err, apperrors.CodeTransport) {
		t.Fatalf("code = %q", apperrors.Code(err))
	}
	if len(st.Messages) != 0 {
		t.Fatalf("messages = %+v, want rolled back", st.Messages)
	}
}

func TestRunTurnStorageFailureNonFatal(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventMetadata, `{"metadata":{"message_id":1,"role":"user"}}`),
		ev(agent.EventMetadata, `{"metadata":{"message_id":2,"role":"assistant"}}`),
		ev(agent.EventResponse, `{"role":"assistant","content":[{"type":"text","text":"ok"}]}`),
	}}
	sink := &recordingSink{err: apperrors.ErrStorageUnavailable}
	c := newTestController(runner, sink)
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	res, err := c.RunTurn(context.Background(), st, "hello", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v, storage failure must not fail turn", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %v", res.Status)
	}
	if len(res.StorageErrs) != 2 {
		t.Fatalf("storage diagnostics = %d, want 2", len(res.StorageErrs))
	}
	// 展示对话不受回滚影响
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d", len(st.Messages))
	}
}

func TestRunTurnSkipsMalformedEvent(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventTextDelta, `{broken json`),
		ev(agent.EventMetadata, `{"metadata":{"message_id":2,"role":"assistant"}}`),
		ev(agent.EventResponse, `{"role":"assistant","content":[{"type":"text","text":"ok"}]}`),
	}}
	c := newTestController(runner, &recordingSink{})
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	res, err := c.RunTurn(context.Background(), st, "hello", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %v", res.Status)
	}
}

func TestRunTurnNoAssistantIDSkipsPersist(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventResponse, `{"role":"assistant","content":[{"type":"text","text":"ok"}]}`),
	}}
	sink := &recordingSink{}
	c := newTestController(runner, sink)
	st := NewState("s1", "u1")
	st.AttachThread(7, "test")

	res, err := c.RunTurn(context.Background(), st, "hello", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %v", res.Status)
	}
	if len(sink.records) != 0 {
		t.Fatalf("records = %+v, want persistence gated on assistant id", sink.records)
	}
}

func TestRunTurnHistoryModeSkipsPersist(t *testing.T) {
	runner := &stubRunner{events: []agent.Event{
		ev(agent.EventMetadata, `{"metadata":{"message_id":1,"role":"user"}}`),
		ev(agent.EventMetadata, `{"metadata":{"message_id":2,"role":"assistant"}}`),
		ev(agent.EventResponse, `{"role":"assistant","content":[{"type":"text","text":"ok"}]}`),
	}}
	sink := &recordingSink{}
	c := newTestController(runner, sink)
	st := NewState("s1", "u1") // 未绑定线程: 全量历史模式

	res, err := c.RunTurn(context.Background(), st, "hello", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %v", res.Status)
	}
	// 无线程上下文不落库, 不产生 thread_id=0 的行
	if len(sink.records) != 0 {
		t.Fatalf("records = %+v, want none in history mode", sink.records)
	}
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(st.Messages))
	}
}

// ========================================
// 线程恢复
// ========================================

func TestRestoreState(t *testing.T) {
	turns := []StoredTurn{
		{Role: agent.RoleUser, Content: "q1", MessageJSON: []byte(`{"role":"user","content":[{"type":"text","text":"q1"}]}`)},
		{Role: agent.RoleAssistant, Content: "a1", MessageJSON: []byte(`{"role":"assistant","content":[{"type":"text","text":"a1"}]}`)},
		{Role: agent.RoleUser, Content: "q2 fallback", MessageJSON: []byte(`not json`)},
	}
	st := RestoreState("s1", "u1", 7, "sales", 12, turns)

	if !st.ThreadActive || st.ThreadID != 7 || st.ParentMessageID != 12 {
		t.Fatalf("state = %+v", st)
	}
	if len(st.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(st.Messages))
	}
	if st.Messages[0].FlattenText() != "q1" || st.Messages[1].FlattenText() != "a1" {
		t.Fatalf("messages = %+v", st.Messages)
	}
	// message_json 损坏时退化到纯文本
	if st.Messages[2].FlattenText() != "q2 fallback" {
		t.Fatalf("fallback message = %+v", st.Messages[2])
	}
}
