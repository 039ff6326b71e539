package agent

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync/atomic"

	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
)

// EventSource 串行事件流。Next 阻塞直到下一事件、流结束 (io.EOF) 或出错。
// Close 可并发调用, 会使阻塞中的 Next 解除。
type EventSource interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// sseReader 基于 text/event-stream 的 EventSource 实现。
//
// 逐行扫描 event:/data: 字段, 空行为事件分隔。
// 底层 body 绑定请求 context, 取消后 Read 解除阻塞。
type sseReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  atomic.Bool
}

// data 行最大 1MB, 足够覆盖大表格 result_set。
const sseMaxLineSize = 1 << 20

func newSSEReader(body io.ReadCloser) *sseReader {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), sseMaxLineSize)
	return &sseReader{body: body, scanner: sc}
}

// Next 解析并返回下一个完整事件。
// 流正常结束返回 io.EOF; 传输中断返回 CodeTransport。
func (r *sseReader) Next(ctx context.Context) (Event, error) {
	var (
		name string
		data [][]byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if !r.scanner.Scan() {
			if r.closed.Load() {
				return Event{}, io.EOF
			}
			if err := r.scanner.Err(); err != nil {
				return Event{}, apperrors.WrapCode(err, apperrors.CodeTransport,
					"agent.sseReader.Next", "事件流读取中断")
			}
			// EOF 前残留未分隔的事件也视为完整事件
			if name != "" || len(data) > 0 {
				return Event{Name: name, Data: bytes.Join(data, []byte("\n"))}, nil
			}
			return Event{}, io.EOF
		}

		line := r.scanner.Bytes()
		switch {
		case len(line) == 0:
			// 事件边界
			if name != "" || len(data) > 0 {
				return Event{Name: name, Data: bytes.Join(data, []byte("\n"))}, nil
			}
		case bytes.HasPrefix(line, []byte("event:")):
			name = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			d := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
			data = append(data, append([]byte(nil), d...))
		case bytes.HasPrefix(line, []byte(":")):
			// 注释行 (keepalive), 忽略
		default:
			// 未知字段 (id:/retry: 等), 忽略
		}
	}
}

// Close 关闭底层流。并发安全, 重复调用无副作用。
func (r *sseReader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.body.Close()
}
