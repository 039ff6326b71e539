// Package agent 封装 Cortex Agent HTTP API 客户端。
//
// 支持: agent :run 流式调用 (SSE)、线程生命周期 (创建/重命名)、
// 11 种事件类型的解码、请求构造 (全量历史 vs 线程续写)。
package agent

import "encoding/json"

// Event SSE 事件信封: 事件名 + 原始 payload。
//
// Data 仅对已识别事件名保证是合法 JSON; 未识别事件名容忍并忽略。
type Event struct {
	Name string
	Data []byte
}

// ========================================
// 事件类型常量
// ========================================

const (
	EventStatus        = "response.status"
	EventTextDelta     = "response.text.delta"
	EventThinkingDelta = "response.thinking.delta"
	EventThinking      = "response.thinking"
	EventToolUse       = "response.tool_use"
	EventToolResult    = "response.tool_result"
	EventChart         = "response.chart"
	EventTable         = "response.table"
	EventMetadata      = "metadata"
	EventResponse      = "response"
	EventError         = "error"
)

// ========================================
// 消息模型
// ========================================

// 内容块类型。
const (
	ContentText       = "text"
	ContentThinking   = "thinking"
	ContentToolUse    = "tool_use"
	ContentToolResult = "tool_result"
	ContentChart      = "chart"
	ContentTable      = "table"
)

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 一条对话消息: 角色 + 有序内容块。
// 流式阶段 append-only, 终止后不可变。
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage 构造单文本块用户/助手消息。
func TextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: ContentText, Text: text}},
	}
}

// FlattenText 拼接消息中所有 text 块 (持久化摘要用)。
func (m Message) FlattenText() string {
	var out string
	for _, c := range m.Content {
		if c.Type == ContentText {
			out += c.Text
		}
	}
	return out
}

// StripThinking 返回去除 thinking 块的拷贝。
// thinking 仅流式展示, 从不进入显示历史或持久化。
func (m Message) StripThinking() Message {
	clean := Message{Role: m.Role}
	for _, c := range m.Content {
		if c.Type == ContentThinking {
			continue
		}
		clean.Content = append(clean.Content, c)
	}
	return clean
}

// ContentBlock 内容块 tagged union。Type 决定哪个 payload 字段有效。
// 字段形状与流式事件 payload 一致 (chart_spec/result_set 平铺)。
type ContentBlock struct {
	Type         string          `json:"type"`
	ContentIndex int             `json:"content_index,omitempty"`
	Text         string          `json:"text,omitempty"` // text | thinking
	ToolUse      json.RawMessage `json:"tool_use,omitempty"`
	ToolResult   json.RawMessage `json:"tool_result,omitempty"`
	ChartSpec    string          `json:"chart_spec,omitempty"`
	ResultSet    *ResultSet      `json:"result_set,omitempty"`
}

// ParseChartSpec 解析 JSON 编码的 chart spec 字符串
// (外层信封之后的第二次解析)。
func ParseChartSpec(spec string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(spec), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResultSet 表格结果: 列元数据 + 行主序数据。
type ResultSet struct {
	Data [][]any           `json:"data"`
	Meta ResultSetMetaData `json:"result_set_meta_data"`
}

// ResultSetMetaData 列元数据 (有序)。
type ResultSetMetaData struct {
	RowType []ColumnInfo `json:"row_type"`
}

// ColumnInfo 单列描述。
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ColumnNames 按声明顺序返回列名。
func (r ResultSet) ColumnNames() []string {
	names := make([]string, len(r.Meta.RowType))
	for i, col := range r.Meta.RowType {
		names[i] = col.Name
	}
	return names
}

// ========================================
// 事件数据类型
// ========================================

// StatusEventData response.status — 替换 "working" 指示文案。
type StatusEventData struct {
	Message string `json:"message"`
}

// TextDeltaEventData response.text.delta — 按 content_index 追加文本。
type TextDeltaEventData struct {
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

// ThinkingDeltaEventData response.thinking.delta — 按 content_index 追加推理文本。
type ThinkingDeltaEventData struct {
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

// ThinkingEventData response.thinking — 推理完成, 关闭该 content_index。
type ThinkingEventData struct {
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

// ToolUseEventData response.tool_use — 工具调用 (仅展示)。
// Raw 保留完整 payload 供 UI 渲染。
type ToolUseEventData struct {
	ContentIndex int             `json:"content_index"`
	Raw          json.RawMessage `json:"-"`
}

// ToolResultEventData response.tool_result — 工具结果 (仅展示)。
type ToolResultEventData struct {
	ContentIndex int             `json:"content_index"`
	Raw          json.RawMessage `json:"-"`
}

// ChartEventData response.chart。
type ChartEventData struct {
	ContentIndex int    `json:"content_index"`
	ChartSpec    string `json:"chart_spec"`
}

// TableEventData response.table。
type TableEventData struct {
	ContentIndex int       `json:"content_index"`
	ResultSet    ResultSet `json:"result_set"`
}

// MetadataEventData metadata — 线程消息关联信息。
type MetadataEventData struct {
	Metadata MessageMetadata `json:"metadata"`
}

// MessageMetadata metadata.metadata 内层。
// message_id 服务端可能给数字或字符串, 统一经 json.Number 转整型。
type MessageMetadata struct {
	MessageID json.Number `json:"message_id"`
	Role      string      `json:"role"`
}

// MessageIDInt 提取整型 message_id, 缺失或不可解析返回 false。
func (m MessageMetadata) MessageIDInt() (int64, bool) {
	if m.MessageID == "" {
		return 0, false
	}
	id, err := m.MessageID.Int64()
	if err != nil {
		return 0, false
	}
	return id, true
}

// ErrorEventData error — 服务端显式错误, 终止 turn。
type ErrorEventData struct {
	Message string      `json:"message"`
	Code    json.Number `json:"code"`
}
