package agent

import (
	"encoding/json"

	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
)

// EventKind 解码后事件类别。
type EventKind int

const (
	KindUnknown EventKind = iota // 未识别事件名, 容忍并忽略
	KindStatus
	KindTextDelta
	KindThinkingDelta
	KindThinking
	KindToolUse
	KindToolResult
	KindChart
	KindTable
	KindMetadata
	KindResponse
	KindError
)

// DecodedEvent 解码结果 tagged union。Kind 决定哪个指针字段非 nil。
type DecodedEvent struct {
	Kind EventKind

	Status        *StatusEventData
	TextDelta     *TextDeltaEventData
	ThinkingDelta *ThinkingDeltaEventData
	Thinking      *ThinkingEventData
	ToolUse       *ToolUseEventData
	ToolResult    *ToolResultEventData
	Chart         *ChartEventData
	Table         *TableEventData
	Metadata      *MetadataEventData
	Response      *Message
	Err           *ErrorEventData
}

// Decode 按事件名解码 payload。
//
// 未识别事件名返回 KindUnknown 且无错误 (向前兼容);
// 已识别事件名但 payload 非法 JSON 返回 CodeStreamDecode。
func Decode(ev Event) (DecodedEvent, error) {
	switch ev.Name {
	case EventStatus:
		var d StatusEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindStatus, Status: &d}, nil

	case EventTextDelta:
		var d TextDeltaEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindTextDelta, TextDelta: &d}, nil

	case EventThinkingDelta:
		var d ThinkingDeltaEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindThinkingDelta, ThinkingDelta: &d}, nil

	case EventThinking:
		var d ThinkingEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindThinking, Thinking: &d}, nil

	case EventToolUse:
		var d ToolUseEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		d.Raw = append(json.RawMessage(nil), ev.Data...)
		return DecodedEvent{Kind: KindToolUse, ToolUse: &d}, nil

	case EventToolResult:
		var d ToolResultEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		d.Raw = append(json.RawMessage(nil), ev.Data...)
		return DecodedEvent{Kind: KindToolResult, ToolResult: &d}, nil

	case EventChart:
		var d ChartEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindChart, Chart: &d}, nil

	case EventTable:
		var d TableEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindTable, Table: &d}, nil

	case EventMetadata:
		var d MetadataEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindMetadata, Metadata: &d}, nil

	case EventResponse:
		var d Message
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindResponse, Response: &d}, nil

	case EventError:
		var d ErrorEventData
		if err := unmarshal(ev, &d); err != nil {
			return DecodedEvent{}, err
		}
		return DecodedEvent{Kind: KindError, Err: &d}, nil

	default:
		return DecodedEvent{Kind: KindUnknown}, nil
	}
}

func unmarshal(ev Event, v any) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return apperrors.WrapCode(err, apperrors.CodeStreamDecode,
			"agent.Decode", "事件 payload 解析失败: "+ev.Name)
	}
	return nil
}
