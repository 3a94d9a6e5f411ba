package model

import "time"

// Conversation 对话元数据
// 服务端确认删除后才会从本地目录与缓存中清除，本地不做硬删除
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	SessionLink string    `json:"session_link,omitempty"` // 外部会话关联
	Active      bool      `json:"active"`
	TokenCount  int       `json:"token_count"` // 累计 token 数
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
