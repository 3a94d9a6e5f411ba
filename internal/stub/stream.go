package stub

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"loom/internal/model"
	"loom/internal/pkg/id"
)

// streamAnswer 流式应答接口
// 按客户端协议逐帧输出：token* → question → goals → insights →
// title → structured_data → done
func (s *Server) streamAnswer(c *gin.Context) {
	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "invalid request body", Detail: err.Error()})
		return
	}

	conversationID := c.Param("id")
	s.mu.Lock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40401, Message: "conversation not found"})
		return
	}
	userMsg := model.Message{
		ID:        id.New(),
		Role:      model.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], userMsg)
	s.mu.Unlock()

	// 帧式事件流 headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	answer := "Here is a stubbed answer for: " + req.Content
	words := strings.SplitAfter(answer, " ")

	question := model.Question{
		ID:   id.New(),
		Text: "Which direction should we explore first?",
		Options: []model.QuestionOption{
			{ID: id.New(), Text: "Breadth"},
			{ID: id.New(), Text: "Depth"},
		},
	}
	doc := sampleDocument()

	s.mu.Lock()
	s.questions[conversationID] = append(s.questions[conversationID], question)
	s.documents[conversationID] = []model.Document{doc}
	s.mu.Unlock()

	step := 0
	c.Stream(func(w io.Writer) bool {
		switch {
		case step < len(words):
			c.SSEvent("token", gin.H{"text": words[step]})
		case step == len(words):
			c.SSEvent("question", question)
		case step == len(words)+1:
			c.SSEvent("goals", []model.Goal{{ID: id.New(), Text: "Clarify the problem", Category: "discovery"}})
		case step == len(words)+2:
			c.SSEvent("insights", []model.Insight{{ID: id.New(), Text: "The user prefers concrete examples", Type: "preference"}})
		case step == len(words)+3:
			c.SSEvent("title", gin.H{"title": "Stubbed conversation"})
		case step == len(words)+4:
			c.SSEvent("structured_data", model.DocumentListResponse{Documents: []model.Document{doc}})
		case step == len(words)+5:
			c.SSEvent("done", gin.H{})
		default:
			s.commitAnswer(conversationID, answer, question.ID)
			return false
		}
		step++
		return true
	})
}

// commitAnswer 流结束后登记助手消息并回填问题归属
func (s *Server) commitAnswer(conversationID, answer, questionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := model.Message{
		ID:        id.New(),
		Role:      model.RoleAssistant,
		Content:   answer,
		CreatedAt: time.Now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	questions := s.questions[conversationID]
	for i := range questions {
		if questions[i].ID == questionID {
			questions[i].MessageID = msg.ID
		}
	}
	s.questions[conversationID] = questions

	if conv, ok := s.conversations[conversationID]; ok {
		conv.TokenCount += len(answer) / 4
		conv.UpdatedAt = time.Now()
	}
}

// sampleDocument 构造一份带稀疏矩阵的示例文档
func sampleDocument() model.Document {
	return model.Document{
		ID:          id.New(),
		Name:        "Strategy matrix",
		Description: "Stubbed matrix document",
		MatrixData: model.MatrixData{
			RowOptions: []model.MatrixOption{
				{ID: id.New(), Label: "Pricing", Summary: "Revenue levers"},
				{ID: id.New(), Label: "Onboarding", Summary: "Activation funnel"},
				{ID: id.New(), Label: "Retention", Summary: "Churn drivers"},
			},
			ColumnOptions: []model.MatrixOption{
				{ID: id.New(), Label: "Short term", Summary: "Next quarter"},
				{ID: id.New(), Label: "Long term", Summary: "Next year"},
			},
			SelectedRows:    []int{0, 1, 2},
			SelectedColumns: []int{0, 1},
			Cells: map[string]model.MatrixCell{
				"0-0": {ImpactScore: 85, Confidence: 0.9, Dimensions: []model.Dimension{{Name: "effort", Score: 40}, {Name: "upside", Score: 80}}},
				"1-0": {ImpactScore: 60, Confidence: 0.7, Dimensions: []model.Dimension{{Name: "effort", Score: 55}}},
				"2-1": {ImpactScore: 30, Confidence: 0.4},
			},
		},
	}
}
