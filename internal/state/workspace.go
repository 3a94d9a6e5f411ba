package state

import (
	"encoding/json"

	"loom/internal/model"
	"loom/internal/projector"
)

// Workspace 工作区共享状态
// 仅由 coordinator 包写入，其它组件通过 Store 订阅读取
type Workspace struct {
	Conversations []model.Conversation

	ActiveConversationID string
	Messages             []model.Message
	Questions            []model.Question
	Goals                []model.Goal
	Insights             []model.Insight

	Documents        []model.Document
	ActiveDocumentID string
	Projection       *projector.Projection
	StructuredRaw    json.RawMessage // 最近一次 structured_data 原始负载

	// 流式进行中的增量答案，落定后并入 Messages
	StreamingContent string
	Streaming        bool

	LoadingDirectory bool
	Switching        bool

	// 用户可见错误与非阻塞通知，仅 coordinator 写入
	Err    string
	Notice string
}

// CloneMessages 复制消息切片，避免快照与在用切片共享底层数组
func (w Workspace) CloneMessages() []model.Message {
	out := make([]model.Message, len(w.Messages))
	copy(out, w.Messages)
	return out
}

// CloneQuestions 复制问题切片
func (w Workspace) CloneQuestions() []model.Question {
	out := make([]model.Question, len(w.Questions))
	copy(out, w.Questions)
	return out
}
