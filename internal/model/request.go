package model

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreateConversationRequest 创建对话请求
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// QuestionSelectionRequest 问题选项选择请求
type QuestionSelectionRequest struct {
	SelectedOptionID string `json:"selected_option_id"`
}

// FeedbackRequest 消息反馈请求
type FeedbackRequest struct {
	Feedback string `json:"feedback"` // up / down / 空字符串表示清除
}

// RatingRequest 目标/洞察评价请求
type RatingRequest struct {
	Rating string `json:"rating"` // accept / reject
}

// SelectionRequest 矩阵行列选择请求
type SelectionRequest struct {
	SelectedRows    []int `json:"selected_rows"`
	SelectedColumns []int `json:"selected_columns"`
}
