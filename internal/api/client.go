package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"loom/internal/config"
	"loom/internal/model"
)

// ErrNotFound 资源不存在
var ErrNotFound = errors.New("resource not found")

// Client 推理后端客户端
// 封装 §外部协作方 的常规 JSON 接口与流式发送接口。
// 鉴权签发在本模块之外，这里只携带配置好的 Bearer token
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
}

// New 创建后端客户端
// Timeout 只作用于常规请求，流式读取不设硬超时
func New(cfg *config.APIConfig) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		http:    &http.Client{},
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}

	warnIfExpired(cfg.Token)
	return c
}

// ListConversations 拉取对话目录
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp model.ConversationListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return resp.Conversations, nil
}

// CreateConversation 创建对话
func (c *Client) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	var conv model.Conversation
	req := model.CreateConversationRequest{Title: title}
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", req, &conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation 拉取对话元数据
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID, nil, &conv); err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	return &conv, nil
}

// ListMessages 拉取消息历史
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var resp model.MessageListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return resp.Messages, nil
}

// ListQuestions 拉取澄清问题列表
func (c *Client) ListQuestions(ctx context.Context, conversationID string) ([]model.Question, error) {
	var resp model.QuestionListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/questions", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching questions: %w", err)
	}
	return resp.Questions, nil
}

// ListDocuments 拉取生成文档列表
func (c *Client) ListDocuments(ctx context.Context, conversationID string) ([]model.Document, error) {
	var resp model.DocumentListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/documents", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching documents: %w", err)
	}
	return resp.Documents, nil
}

// SendMessage 发送消息，返回帧式事件流的响应体
// 调用方负责关闭返回的 ReadCloser
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (io.ReadCloser, error) {
	body, err := json.Marshal(model.SendMessageRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/conversations/"+conversationID+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return resp.Body, nil
}

// PatchQuestionSelection 持久化问题选项选择
func (c *Client) PatchQuestionSelection(ctx context.Context, questionID, optionID string) error {
	req := model.QuestionSelectionRequest{SelectedOptionID: optionID}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/questions/"+questionID, req, nil); err != nil {
		return fmt.Errorf("saving question selection: %w", err)
	}
	return nil
}

// PatchMessageFeedback 持久化消息反馈
func (c *Client) PatchMessageFeedback(ctx context.Context, messageID, feedback string) error {
	req := model.FeedbackRequest{Feedback: feedback}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/messages/"+messageID+"/feedback", req, nil); err != nil {
		return fmt.Errorf("saving message feedback: %w", err)
	}
	return nil
}

// DeleteConversation 删除对话，成功后调用方再清理本地目录与缓存
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/conversations/"+conversationID, nil, nil); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

// GenerateTitle 请求服务端生成标题
func (c *Client) GenerateTitle(ctx context.Context, conversationID string) (string, error) {
	var resp model.TitleResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/title", nil, &resp); err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}
	return resp.Title, nil
}

// PatchDocumentSelection 持久化文档行列选择（尽力而为）
func (c *Client) PatchDocumentSelection(ctx context.Context, documentID string, rows, cols []int) error {
	req := model.SelectionRequest{SelectedRows: rows, SelectedColumns: cols}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/documents/"+documentID+"/selection", req, nil); err != nil {
		return fmt.Errorf("saving document selection: %w", err)
	}
	return nil
}

// RegenerateDocuments 触发文档重新生成并返回结果
func (c *Client) RegenerateDocuments(ctx context.Context, conversationID string) ([]model.Document, error) {
	var resp model.DocumentListResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/documents/regenerate", nil, &resp); err != nil {
		return nil, fmt.Errorf("regenerating documents: %w", err)
	}
	return resp.Documents, nil
}

// RateGoal 持久化目标评价（非关键路径）
func (c *Client) RateGoal(ctx context.Context, goalID, rating string) error {
	req := model.RatingRequest{Rating: rating}
	if err := c.doJSON(ctx, http.MethodPost, "/api/goals/"+goalID+"/rating", req, nil); err != nil {
		return fmt.Errorf("saving goal rating: %w", err)
	}
	return nil
}

// RateInsight 持久化洞察评价（非关键路径）
func (c *Client) RateInsight(ctx context.Context, insightID, rating string) error {
	req := model.RatingRequest{Rating: rating}
	if err := c.doJSON(ctx, http.MethodPost, "/api/insights/"+insightID+"/rating", req, nil); err != nil {
		return fmt.Errorf("saving insight rating: %w", err)
	}
	return nil
}

// doJSON 执行常规 JSON 请求
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancelFn := context.WithTimeout(ctx, c.timeout)
	defer cancelFn()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError 将非 2xx 响应转为错误，尽量保留服务端的 message
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er model.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Message != "" {
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, er.Message)
	}
	return fmt.Errorf("backend returned status %d", resp.StatusCode)
}

// warnIfExpired 解析 token 的 exp 声明，过期时给出警告
// 只做不验签的读取，签发与刷新在本模块范围之外
func warnIfExpired(token string) {
	if token == "" {
		return
	}
	exp, err := tokenExpiry(token)
	if err != nil {
		log.Debug().Err(err).Msg("session token is not a parsable JWT, skipping expiry check")
		return
	}
	if exp != nil && exp.Before(time.Now()) {
		log.Warn().Time("expired_at", *exp).Msg("session token is expired, requests will likely be rejected")
	}
}
