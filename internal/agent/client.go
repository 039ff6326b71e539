package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/cortexlab/cortex-chat/pkg/errors"
	"github.com/cortexlab/cortex-chat/pkg/logger"
)

// 服务端请求追踪头, 用于排障关联。
const requestIDHeader = "X-Snowflake-Request-Id"

// Client Cortex Agent API 客户端。
type Client struct {
	runURL     string
	threadsURL string
	pat        string
	httpCli    *http.Client
}

// NewClient 创建客户端。timeout 约束整个 turn (含流式阶段)。
func NewClient(runURL, threadsURL, pat string, timeout time.Duration) *Client {
	return &Client{
		runURL:     runURL,
		threadsURL: threadsURL,
		pat:        pat,
		httpCli:    &http.Client{Timeout: timeout},
	}
}

// Stream 一次 :run 调用的流式结果。
type Stream struct {
	Events    EventSource
	RequestID string // 服务端追踪 ID, 可能为空
}

// Run 发起流式 agent 调用。
// 调用方必须消费至 io.EOF 或显式 Close。
func (c *Client) Run(ctx context.Context, req RunRequest) (*Stream, error) {
	const op = "agent.Client.Run"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "请求体序列化失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.runURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, op, "构造请求失败")
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return nil, apperrors.WrapCode(err, apperrors.CodeTransport, op, "agent 调用失败")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.statusError(op, resp)
	}

	reqID := resp.Header.Get(requestIDHeader)
	logger.Debugw("agent 流已建立",
		logger.FieldRequestID, reqID,
		logger.FieldModel, req.Model)

	return &Stream{Events: newSSEReader(resp.Body), RequestID: reqID}, nil
}

// ========================================
// 线程生命周期
// ========================================

type createThreadRequest struct {
	OriginApplication string `json:"origin_application"`
}

type createThreadResponse struct {
	ThreadID json.Number `json:"thread_id"`
}

type renameThreadRequest struct {
	ThreadName string `json:"thread_name"`
}

// CreateThread 创建服务端线程, 返回线程 ID。
func (c *Client) CreateThread(ctx context.Context, originApp string) (int64, error) {
	const op = "agent.Client.CreateThread"

	var out createThreadResponse
	if err := c.postJSON(ctx, op, c.threadsURL, createThreadRequest{OriginApplication: originApp}, &out); err != nil {
		return 0, err
	}
	id, err := out.ThreadID.Int64()
	if err != nil {
		return 0, apperrors.Wrap(err, op, "thread_id 解析失败")
	}
	logger.Infow("线程已创建", logger.FieldThreadID, id)
	return id, nil
}

// RenameThread 设置线程名 (通常取首条用户消息截断)。
func (c *Client) RenameThread(ctx context.Context, threadID int64, name string) error {
	const op = "agent.Client.RenameThread"
	url := fmt.Sprintf("%s/%d", c.threadsURL, threadID)
	return c.postJSON(ctx, op, url, renameThreadRequest{ThreadName: name}, nil)
}

// ========================================
// 内部工具
// ========================================

// postJSON 发送 JSON POST 并按需解析响应。out 为 nil 时丢弃响应体。
func (c *Client) postJSON(ctx context.Context, op, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.Wrap(err, op, "请求体序列化失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(err, op, "构造请求失败")
	}
	c.setHeaders(req)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return apperrors.WrapCode(err, apperrors.CodeTransport, op, "请求失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(op, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, op, "响应解析失败")
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.pat)
	req.Header.Set("Content-Type", "application/json")
}

// statusError 读取错误响应体片段, 构造 CodeTransport 错误。
func (c *Client) statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return apperrors.NewCode(apperrors.CodeTransport, op,
		fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(snippet)))
}
