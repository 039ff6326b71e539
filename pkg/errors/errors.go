// Package errors 提供统一错误类型与哨兵错误。
//
// 本包为 cortex-chat 精简版:
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrIncompleteStream 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
//
// Code 承载会话错误分类 (CodeTransport / CodeStreamDecode / ...),
// 会话边界据此决定: 终止 turn、跳过事件、还是仅记日志。
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrIncompleteStream 事件流在终止事件 (response/error) 之前结束
	ErrIncompleteStream = errors.New("incomplete stream")

	// ErrStorageUnavailable 持久化后端不可用 (调用方按非致命处理)
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ========================================
// 错误分类码
// ========================================

const (
	// CodeTransport agent/thread API 非 2xx 响应或连接失败 — 终止 turn, 回滚本地状态。
	CodeTransport = "TRANSPORT"

	// CodeStreamDecode 已识别事件的 payload 解码失败 — 跳过该事件, 会话继续。
	CodeStreamDecode = "STREAM_DECODE"

	// CodeStreamProtocol 流未见终止事件即结束 — 会话标记失败。
	CodeStreamProtocol = "STREAM_PROTOCOL"

	// CodeStorage 持久化失败 — 仅记日志, 不影响已展示的对话。
	CodeStorage = "STORAGE"

	// CodeServerError 服务端显式 error 事件 — 原样展示, 撤回最后一条用户消息。
	CodeServerError = "SERVER_ERROR"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "TurnStore.AppendTurn"
	Code    string // 分类码，如 CodeTransport
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewCode 创建带分类码的应用错误。
func NewCode(code, op, message string) error {
	return &AppError{Op: op, Code: code, Message: message}
}

// WrapCode 包装错误并附加分类码。
func WrapCode(err error, code, op, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// Code 提取错误链上首个非空分类码，无则返回空串。
func Code(err error) string {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Code != "" {
			return appErr.Code
		}
		err = appErr.Err
	}
	return ""
}

// HasCode 判断错误链上是否存在指定分类码。
func HasCode(err error, code string) bool {
	return Code(err) == code
}
