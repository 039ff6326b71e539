// Package session 实现流式会话核心: 内容缓冲、线程追踪、事件状态机。
//
// 单个逻辑会话由单一消费者串行驱动, 包内状态不做并发保护;
// 多会话隔离由上层按 session 实例划分。
package session

import "strings"

// ContentBuffer 按 content_index 聚合增量文本。
//
// 同一 index 的 delta 严格按到达顺序拼接, 与其他 index 的交错无关;
// 已关闭的 index 不再接受追加。
type ContentBuffer struct {
	bufs   map[int]*strings.Builder
	closed map[int]bool
	order  []int // index 首现顺序
}

func NewContentBuffer() *ContentBuffer {
	return &ContentBuffer{
		bufs:   make(map[int]*strings.Builder),
		closed: make(map[int]bool),
	}
}

// Append 追加文本, index 首次出现时自动建缓冲 (初值空串)。
// 对已关闭 index 的追加被忽略。
func (b *ContentBuffer) Append(index int, text string) {
	if b.closed[index] {
		return
	}
	sb, ok := b.bufs[index]
	if !ok {
		sb = &strings.Builder{}
		b.bufs[index] = sb
		b.order = append(b.order, index)
	}
	sb.WriteString(text)
}

// Close 标记 index 已定稿。
func (b *ContentBuffer) Close(index int) {
	if _, ok := b.bufs[index]; !ok {
		b.bufs[index] = &strings.Builder{}
		b.order = append(b.order, index)
	}
	b.closed[index] = true
}

// Text 返回 index 当前累积文本。
func (b *ContentBuffer) Text(index int) string {
	if sb, ok := b.bufs[index]; ok {
		return sb.String()
	}
	return ""
}

// Closed 判断 index 是否已定稿。
func (b *ContentBuffer) Closed(index int) bool {
	return b.closed[index]
}

// Indices 按首现顺序返回所有 index。
func (b *ContentBuffer) Indices() []int {
	out := make([]int, len(b.order))
	copy(out, b.order)
	return out
}

// Len 缓冲中的 index 数。
func (b *ContentBuffer) Len() int {
	return len(b.bufs)
}
