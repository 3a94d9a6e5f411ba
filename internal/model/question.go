package model

// QuestionOption 澄清问题选项
type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question 澄清问题
// MessageID 在产生它的消息完成流式输出后回填
type Question struct {
	ID               string           `json:"question_id"`
	Text             string           `json:"question_text"`
	Options          []QuestionOption `json:"options"`
	SelectedOptionID string           `json:"selected_option_id,omitempty"`
	MessageID        string           `json:"message_id,omitempty"`
}
