package model

import (
	"encoding/json"
	"time"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 消息反馈
const (
	FeedbackUp   = "up"
	FeedbackDown = "down"
	FeedbackNone = ""
)

// Message 对话消息
// ID 由客户端先行分配，服务端确认后保留原值，不做重新编号
type Message struct {
	ID         string          `json:"id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Structured json.RawMessage `json:"structured,omitempty"` // 结构化负载原文
	Feedback   string          `json:"feedback,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
