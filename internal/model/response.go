package model

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// TitleResponse 标题生成响应
type TitleResponse struct {
	Title string `json:"title"`
}

// ConversationListResponse 对话目录响应
type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// MessageListResponse 消息历史响应
type MessageListResponse struct {
	Messages []Message `json:"messages"`
}

// QuestionListResponse 问题列表响应
type QuestionListResponse struct {
	Questions []Question `json:"questions"`
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	Documents []Document `json:"documents"`
}
