package agent

// RunRequest agent :run 请求体。
//
// 两种形态:
//   - 线程续写: ThreadID + ParentMessageID (0 表示新线程首条), Messages 仅含最新用户消息
//   - 全量历史: 无线程字段, Messages 携带完整对话历史
type RunRequest struct {
	Model           string    `json:"model,omitempty"`
	ThreadID        *int64    `json:"thread_id,omitempty"`
	ParentMessageID *int64    `json:"parent_message_id,omitempty"`
	Messages        []Message `json:"messages"`
}

// BuildRunRequest 构造一次 turn 的请求体。
//
// threadActive 为 true 时服务端自行维护历史, 只传最新用户消息
// 并带上 parent_message_id 链接; 否则回退为全量历史模式。
func BuildRunRequest(model string, threadActive bool, threadID, parentID int64, history []Message) RunRequest {
	if threadActive {
		var latest []Message
		if n := len(history); n > 0 {
			latest = []Message{history[n-1]}
		}
		return RunRequest{
			Model:           model,
			ThreadID:        &threadID,
			ParentMessageID: &parentID,
			Messages:        latest,
		}
	}
	return RunRequest{
		Model:    model,
		Messages: history,
	}
}
