package stub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"loom/internal/config"
	"loom/internal/model"
	"loom/internal/pkg/id"
)

// Server 本地桩后端
// 实现客户端消费的全部 REST 接口与帧式事件流，供开发与集成测试使用；
// 数据全部驻留内存
type Server struct {
	engine *gin.Engine

	mu            sync.Mutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	questions     map[string][]model.Question
	documents     map[string][]model.Document
}

// New 创建桩后端
func New(cfg *config.StubConfig) *Server {
	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:        gin.New(),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		questions:     make(map[string][]model.Question),
		documents:     make(map[string][]model.Document),
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

// Engine 暴露 gin 引擎，测试用 httptest 直接挂载
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run 启动 HTTP 服务并在 ctx 取消时优雅退出
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("shutting down stub server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/conversations", s.listConversations)
		api.POST("/conversations", s.createConversation)
		api.GET("/conversations/:id", s.getConversation)
		api.DELETE("/conversations/:id", s.deleteConversation)
		api.GET("/conversations/:id/messages", s.listMessages)
		api.POST("/conversations/:id/messages", s.streamAnswer)
		api.GET("/conversations/:id/questions", s.listQuestions)
		api.GET("/conversations/:id/documents", s.listDocuments)
		api.POST("/conversations/:id/title", s.generateTitle)
		api.POST("/conversations/:id/documents/regenerate", s.regenerateDocuments)

		api.PATCH("/questions/:id", s.patchQuestion)
		api.PATCH("/messages/:id/feedback", s.patchFeedback)
		api.PATCH("/documents/:id/selection", s.patchSelection)
		api.POST("/goals/:id/rating", s.rate)
		api.POST("/insights/:id/rating", s.rate)
	}
}

func (s *Server) listConversations(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		convs = append(convs, *conv)
	}
	c.JSON(http.StatusOK, model.ConversationListResponse{Conversations: convs})
}

func (s *Server) createConversation(c *gin.Context) {
	var req model.CreateConversationRequest
	_ = c.ShouldBindJSON(&req)

	now := time.Now()
	conv := &model.Conversation{
		ID:        id.New(),
		Title:     req.Title,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	c.JSON(http.StatusOK, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40401, Message: "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) deleteConversation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversationID := c.Param("id")
	if _, ok := s.conversations[conversationID]; !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40401, Message: "conversation not found"})
		return
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	delete(s.questions, conversationID)
	delete(s.documents, conversationID)
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, model.MessageListResponse{Messages: s.messages[c.Param("id")]})
}

func (s *Server) listQuestions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, model.QuestionListResponse{Questions: s.questions[c.Param("id")]})
}

func (s *Server) listDocuments(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, model.DocumentListResponse{Documents: s.documents[c.Param("id")]})
}

func (s *Server) generateTitle(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40401, Message: "conversation not found"})
		return
	}
	conv.Title = "Generated title"
	conv.UpdatedAt = time.Now()
	c.JSON(http.StatusOK, model.TitleResponse{Title: conv.Title})
}

func (s *Server) regenerateDocuments(c *gin.Context) {
	docs := []model.Document{sampleDocument()}

	s.mu.Lock()
	s.documents[c.Param("id")] = docs
	s.mu.Unlock()

	c.JSON(http.StatusOK, model.DocumentListResponse{Documents: docs})
}

func (s *Server) patchQuestion(c *gin.Context) {
	var req model.QuestionSelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "invalid request body", Detail: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	questionID := c.Param("id")
	for conversationID, questions := range s.questions {
		for i := range questions {
			if questions[i].ID == questionID {
				questions[i].SelectedOptionID = req.SelectedOptionID
				s.questions[conversationID] = questions
				c.Status(http.StatusNoContent)
				return
			}
		}
	}
	c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40402, Message: "question not found"})
}

func (s *Server) patchFeedback(c *gin.Context) {
	var req model.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "invalid request body", Detail: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messageID := c.Param("id")
	for conversationID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				msgs[i].Feedback = req.Feedback
				s.messages[conversationID] = msgs
				c.Status(http.StatusNoContent)
				return
			}
		}
	}
	c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40403, Message: "message not found"})
}

func (s *Server) patchSelection(c *gin.Context) {
	var req model.SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "invalid request body", Detail: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	documentID := c.Param("id")
	for conversationID, docs := range s.documents {
		for i := range docs {
			if docs[i].ID == documentID {
				docs[i].MatrixData.SelectedRows = req.SelectedRows
				docs[i].MatrixData.SelectedColumns = req.SelectedColumns
				s.documents[conversationID] = docs
				c.Status(http.StatusNoContent)
				return
			}
		}
	}
	c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40404, Message: "document not found"})
}

func (s *Server) rate(c *gin.Context) {
	var req model.RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "invalid request body", Detail: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
