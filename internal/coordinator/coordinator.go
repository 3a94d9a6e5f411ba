package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"loom/internal/api"
	"loom/internal/cache"
	"loom/internal/cancel"
	"loom/internal/model"
	"loom/internal/optimistic"
	"loom/internal/pkg/id"
	"loom/internal/projector"
	"loom/internal/state"
	"loom/internal/stream"
)

// Coordinator 对话协调器
// 顶层门面：目录加载、对话切换、消息发送、乐观编辑。
// 它是唯一写入共享状态容器的组件，也是唯一设置用户可见错误的层
type Coordinator struct {
	api   *api.Client
	cache *cache.RecencyCache
	snap  *cache.SnapshotStore // 可选
	reg   *cancel.Registry
	orch  *stream.Orchestrator
	store *state.Store[state.Workspace]
}

// New 创建协调器
// snap 传 nil 则不做本地快照持久化
func New(client *api.Client, rc *cache.RecencyCache, snap *cache.SnapshotStore) *Coordinator {
	c := &Coordinator{
		api:   client,
		cache: rc,
		snap:  snap,
		reg:   cancel.NewRegistry(),
		orch:  stream.NewOrchestrator(client),
		store: state.NewStore(state.Workspace{}),
	}
	c.restoreSnapshots()
	return c
}

// Store 共享状态容器，供界面订阅
func (c *Coordinator) Store() *state.Store[state.Workspace] {
	return c.store
}

// restoreSnapshots 启动时从本地快照回填缓存
// 条目按捕获时间从旧到新写入，最近的自然落在最近使用位
func (c *Coordinator) restoreSnapshots() {
	if c.snap == nil {
		return
	}
	entries, err := c.snap.Load()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load cache snapshots, starting cold")
		return
	}
	for _, e := range entries {
		c.cache.Put(e.ConversationID, e)
	}
	if len(entries) > 0 {
		log.Debug().Int("entries", len(entries)).Msg("restored cache snapshots")
	}
}

// LoadDirectory 加载对话目录
func (c *Coordinator) LoadDirectory(ctx context.Context) error {
	tok := c.reg.Begin(ctx, cancel.ClassDirectory)

	c.store.Update(func(w state.Workspace) state.Workspace {
		w.LoadingDirectory = true
		w.Err = ""
		return w
	})

	convs, err := c.api.ListConversations(tok.Context())
	if err != nil {
		if !tok.Live() || errors.Is(err, context.Canceled) {
			return nil
		}
		log.Error().Err(err).Msg("directory load failed")
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.LoadingDirectory = false
			w.Err = "failed to load conversations"
			return w
		})
		return err
	}
	if !tok.Live() {
		return nil
	}

	c.store.Update(func(w state.Workspace) state.Workspace {
		w.LoadingDirectory = false
		w.Conversations = convs
		return w
	})
	return nil
}

// Select 切换活动对话
// 缓存命中且未过期时先乐观渲染快照，网络结果在令牌仍权威时总是覆盖；
// 元数据与消息历史是必需项，失败则中止切换；文档与问题失败时降级为空
func (c *Coordinator) Select(ctx context.Context, conversationID string) error {
	tok := c.reg.Begin(ctx, cancel.ClassSelect)

	entry, hit := c.cache.Get(conversationID)
	c.store.Update(func(w state.Workspace) state.Workspace {
		w.Switching = true
		w.Err = ""
		if hit {
			// 乐观展示，后台刷新随后以真相来源覆盖
			w.ActiveConversationID = conversationID
			w.Messages = entry.Messages
			w.Questions = entry.Questions
		}
		return w
	})

	conv, err := c.api.GetConversation(tok.Context(), conversationID)
	var msgs []model.Message
	if err == nil {
		msgs, err = c.api.ListMessages(tok.Context(), conversationID)
	}
	if err != nil {
		if !tok.Live() || errors.Is(err, context.Canceled) {
			return nil // 已被更新的切换取代，静默丢弃
		}
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("conversation switch failed")
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Switching = false
			w.Err = "failed to open conversation"
			return w
		})
		return err
	}

	// 可选子拉取：失败降级为空列表，不中止切换
	docs, derr := c.api.ListDocuments(tok.Context(), conversationID)
	if derr != nil {
		log.Warn().Err(derr).Str("conversation_id", conversationID).Msg("document fetch failed, continuing without documents")
		docs = nil
	}
	questions, qerr := c.api.ListQuestions(tok.Context(), conversationID)
	if qerr != nil {
		log.Warn().Err(qerr).Str("conversation_id", conversationID).Msg("question fetch failed, continuing without questions")
		questions = nil
	}

	if !tok.Live() {
		return nil
	}

	c.store.Update(func(w state.Workspace) state.Workspace {
		w.Switching = false
		w.ActiveConversationID = conversationID
		w.Messages = msgs
		w.Questions = questions
		w.Goals = nil
		w.Insights = nil
		w.Documents = docs
		w.ActiveDocumentID = ""
		w.Projection = nil
		if len(docs) > 0 {
			w.ActiveDocumentID = docs[0].ID
			p := projector.Project(docs[0])
			w.Projection = &p
		}
		w.Conversations = upsertConversation(w.Conversations, *conv)
		return w
	})

	c.writeCache(conversationID, msgs, questions)
	return nil
}

// Send 发送消息并消费流式应答
// 无活动对话时先同步创建一个；阻塞到流结束（或失败/取消）才返回
func (c *Coordinator) Send(ctx context.Context, content string) error {
	ws := c.store.Read()
	conversationID := ws.ActiveConversationID

	if conversationID == "" {
		conv, err := c.api.CreateConversation(ctx, "")
		if err != nil {
			log.Error().Err(err).Msg("conversation create failed")
			c.store.Update(func(w state.Workspace) state.Workspace {
				w.Err = "failed to start a conversation"
				return w
			})
			return err
		}
		conversationID = conv.ID
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Conversations = append([]model.Conversation{*conv}, w.Conversations...)
			w.ActiveConversationID = conversationID
			w.Messages = nil
			w.Questions = nil
			w.Goals = nil
			w.Insights = nil
			w.Documents = nil
			w.ActiveDocumentID = ""
			w.Projection = nil
			return w
		})
	}

	// 用户消息乐观入列：它是真实输入，后续流失败也保留
	userMsg := model.Message{
		ID:        id.NewTemp(),
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	c.store.Update(func(w state.Workspace) state.Workspace {
		w.Messages = append(w.CloneMessages(), userMsg)
		w.Streaming = true
		w.StreamingContent = ""
		w.Err = ""
		return w
	})

	tok := c.reg.Begin(ctx, cancel.ClassStream)
	events, err := c.orch.Stream(tok.Context(), conversationID, content)
	if err != nil {
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Streaming = false
			if !errors.Is(err, context.Canceled) {
				w.Err = "failed to send message"
			}
			return w
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		log.Error().Err(err).Msg("send failed")
		return err
	}

	var turnQuestions []string
	for ev := range events {
		c.applyStreamEvent(conversationID, ev, &turnQuestions)
	}
	return nil
}

// applyStreamEvent 把单个流事件落到共享状态
func (c *Coordinator) applyStreamEvent(conversationID string, ev stream.Event, turnQuestions *[]string) {
	switch ev.Type {
	case stream.EventToken:
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.StreamingContent = ev.Text
			return w
		})

	case stream.EventGoals:
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Goals = append(w.Goals, ev.Goals...)
			return w
		})

	case stream.EventInsights:
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Insights = append(w.Insights, ev.Insights...)
			return w
		})

	case stream.EventQuestion:
		*turnQuestions = append(*turnQuestions, ev.Question.ID)
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Questions = append(w.CloneQuestions(), *ev.Question)
			return w
		})

	case stream.EventTitle:
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Conversations = retitleConversation(w.Conversations, conversationID, ev.Title)
			return w
		})

	case stream.EventStructured:
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.StructuredRaw = ev.Raw
			if len(ev.Documents) > 0 {
				w.Documents = ev.Documents
				w.ActiveDocumentID = ev.Documents[0].ID
				p := projector.Project(ev.Documents[0])
				w.Projection = &p
			}
			return w
		})

	case stream.EventError:
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Streaming = false
			w.StreamingContent = ""
			w.Err = ev.Message
			return w
		})

	case stream.EventStreamEnd:
		c.settle(conversationID, ev.Text, *turnQuestions)

	case stream.EventStreamFail:
		c.store.Update(func(w state.Workspace) state.Workspace {
			w.Streaming = false
			w.StreamingContent = ""
			w.Err = ev.Message
			return w
		})
	}
}

// settle 流落定规则
// 累计缓冲非空时提交为新的助手消息并回填本轮问题的归属；
// 空缓冲不产生消息。取消与正常结束适用同一规则
func (c *Coordinator) settle(conversationID, text string, turnQuestions []string) {
	c.store.Update(func(w state.Workspace) state.Workspace {
		w.Streaming = false
		w.StreamingContent = ""

		// 流进行期间用户已切走：不把内容写进别的对话视图
		if w.ActiveConversationID != conversationID {
			return w
		}

		if text == "" {
			return w
		}

		msg := model.Message{
			ID:        id.NewTemp(),
			Role:      model.RoleAssistant,
			Content:   text,
			CreatedAt: time.Now(),
		}
		w.Messages = append(w.CloneMessages(), msg)

		if len(turnQuestions) > 0 {
			owned := make(map[string]bool, len(turnQuestions))
			for _, qid := range turnQuestions {
				owned[qid] = true
			}
			questions := w.CloneQuestions()
			for i := range questions {
				if owned[questions[i].ID] && questions[i].MessageID == "" {
					questions[i].MessageID = msg.ID
				}
			}
			w.Questions = questions
		}
		return w
	})

	ws := c.store.Read()
	if ws.ActiveConversationID == conversationID {
		c.writeCache(conversationID, ws.CloneMessages(), ws.CloneQuestions())
	}
}

// Reset 清空活动对话视图，下一次 Send 会先创建新对话
func (c *Coordinator) Reset() {
	c.store.Update(func(w state.Workspace) state.Workspace {
		w.ActiveConversationID = ""
		w.Messages = nil
		w.Questions = nil
		w.Goals = nil
		w.Insights = nil
		w.Documents = nil
		w.ActiveDocumentID = ""
		w.Projection = nil
		w.StructuredRaw = nil
		w.Err = ""
		return w
	})
}

// StopStreaming 用户主动停止流式应答
// 已累计的部分内容按落定规则处理，这不是错误路径
func (c *Coordinator) StopStreaming() {
	c.reg.Cancel(cancel.ClassStream)
}

// AnswerQuestion 乐观选择问题选项
// 立即生效，持久化失败时精确回滚并给出非阻塞通知
func (c *Coordinator) AnswerQuestion(ctx context.Context, questionID, optionID string) error {
	err := optimistic.Do(ctx, optimistic.Mutation[string]{
		Apply: func() (prev string) {
			c.store.Update(func(w state.Workspace) state.Workspace {
				questions := w.CloneQuestions()
				for i := range questions {
					if questions[i].ID == questionID {
						prev = questions[i].SelectedOptionID
						questions[i].SelectedOptionID = optionID
					}
				}
				w.Questions = questions
				return w
			})
			return prev
		},
		Persist: func(ctx context.Context) error {
			return c.api.PatchQuestionSelection(ctx, questionID, optionID)
		},
		Restore: func(prev string) {
			c.store.Update(func(w state.Workspace) state.Workspace {
				questions := w.CloneQuestions()
				for i := range questions {
					if questions[i].ID == questionID {
						questions[i].SelectedOptionID = prev
					}
				}
				w.Questions = questions
				return w
			})
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("question_id", questionID).Msg("question selection save failed, rolled back")
		c.notify("your answer could not be saved")
	}
	return err
}

// SetFeedback 乐观设置消息反馈（up/down/清除）
func (c *Coordinator) SetFeedback(ctx context.Context, messageID, feedback string) error {
	err := optimistic.Do(ctx, optimistic.Mutation[string]{
		Apply: func() (prev string) {
			c.store.Update(func(w state.Workspace) state.Workspace {
				msgs := w.CloneMessages()
				for i := range msgs {
					if msgs[i].ID == messageID {
						prev = msgs[i].Feedback
						msgs[i].Feedback = feedback
					}
				}
				w.Messages = msgs
				return w
			})
			return prev
		},
		Persist: func(ctx context.Context) error {
			return c.api.PatchMessageFeedback(ctx, messageID, feedback)
		},
		Restore: func(prev string) {
			c.store.Update(func(w state.Workspace) state.Workspace {
				msgs := w.CloneMessages()
				for i := range msgs {
					if msgs[i].ID == messageID {
						msgs[i].Feedback = prev
					}
				}
				w.Messages = msgs
				return w
			})
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("feedback save failed, rolled back")
		c.notify("your feedback could not be saved")
	}
	return err
}

// RateGoal 目标评价：本地即时生效，持久化尽力而为，不回滚
func (c *Coordinator) RateGoal(ctx context.Context, goalID, rating string) {
	c.store.Update(func(w state.Workspace) state.Workspace {
		goals := make([]model.Goal, len(w.Goals))
		copy(goals, w.Goals)
		for i := range goals {
			if goals[i].ID == goalID {
				goals[i].Rating = rating
			}
		}
		w.Goals = goals
		return w
	})
	go func() {
		if err := c.api.RateGoal(ctx, goalID, rating); err != nil {
			log.Warn().Err(err).Str("goal_id", goalID).Msg("goal rating save failed")
		}
	}()
}

// RateInsight 洞察评价：本地即时生效，持久化尽力而为，不回滚
func (c *Coordinator) RateInsight(ctx context.Context, insightID, rating string) {
	c.store.Update(func(w state.Workspace) state.Workspace {
		insights := make([]model.Insight, len(w.Insights))
		copy(insights, w.Insights)
		for i := range insights {
			if insights[i].ID == insightID {
				insights[i].Rating = rating
			}
		}
		w.Insights = insights
		return w
	})
	go func() {
		if err := c.api.RateInsight(ctx, insightID, rating); err != nil {
			log.Warn().Err(err).Str("insight_id", insightID).Msg("insight rating save failed")
		}
	}()
}

// Delete 删除对话：服务端确认后再从目录与缓存清除
func (c *Coordinator) Delete(ctx context.Context, conversationID string) error {
	if err := c.api.DeleteConversation(ctx, conversationID); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("conversation delete failed")
		c.notify("the conversation could not be deleted")
		return err
	}

	c.cache.Delete(conversationID)
	if c.snap != nil {
		if err := c.snap.Delete(conversationID); err != nil {
			log.Warn().Err(err).Msg("snapshot delete failed")
		}
	}

	c.store.Update(func(w state.Workspace) state.Workspace {
		convs := make([]model.Conversation, 0, len(w.Conversations))
		for _, conv := range w.Conversations {
			if conv.ID != conversationID {
				convs = append(convs, conv)
			}
		}
		w.Conversations = convs
		if w.ActiveConversationID == conversationID {
			w.ActiveConversationID = ""
			w.Messages = nil
			w.Questions = nil
			w.Goals = nil
			w.Insights = nil
			w.Documents = nil
			w.ActiveDocumentID = ""
			w.Projection = nil
		}
		return w
	})
	return nil
}

// GenerateTitle 请求服务端生成标题并更新目录与活动视图
func (c *Coordinator) GenerateTitle(ctx context.Context) error {
	ws := c.store.Read()
	if ws.ActiveConversationID == "" {
		return nil
	}

	title, err := c.api.GenerateTitle(ctx, ws.ActiveConversationID)
	if err != nil {
		log.Warn().Err(err).Msg("title generation failed")
		return err
	}

	c.store.Update(func(w state.Workspace) state.Workspace {
		w.Conversations = retitleConversation(w.Conversations, ws.ActiveConversationID, title)
		return w
	})
	return nil
}

// SelectDocument 切换活动文档页签并重新投影，无网络调用
func (c *Coordinator) SelectDocument(documentID string) {
	c.store.Update(func(w state.Workspace) state.Workspace {
		for _, doc := range w.Documents {
			if doc.ID == documentID {
				w.ActiveDocumentID = documentID
				p := projector.Project(doc)
				w.Projection = &p
				break
			}
		}
		return w
	})
}

// SetMatrixSelection 修改活动文档的行列选择
// 本地立刻重新投影，选择的持久化异步尽力而为
func (c *Coordinator) SetMatrixSelection(ctx context.Context, rows, cols []int) {
	var documentID string

	c.store.Update(func(w state.Workspace) state.Workspace {
		docs := make([]model.Document, len(w.Documents))
		copy(docs, w.Documents)
		for i := range docs {
			if docs[i].ID == w.ActiveDocumentID {
				docs[i].MatrixData.SelectedRows = rows
				docs[i].MatrixData.SelectedColumns = cols
				documentID = docs[i].ID
				p := projector.Project(docs[i])
				w.Projection = &p
			}
		}
		w.Documents = docs
		return w
	})

	if documentID == "" {
		return
	}
	go func() {
		if err := c.api.PatchDocumentSelection(ctx, documentID, rows, cols); err != nil {
			log.Warn().Err(err).Str("document_id", documentID).Msg("selection save failed")
		}
	}()
}

// RegenerateDocuments 触发文档重新生成并替换本地集合
func (c *Coordinator) RegenerateDocuments(ctx context.Context) error {
	ws := c.store.Read()
	if ws.ActiveConversationID == "" {
		return nil
	}

	docs, err := c.api.RegenerateDocuments(ctx, ws.ActiveConversationID)
	if err != nil {
		log.Error().Err(err).Msg("document regeneration failed")
		c.notify("documents could not be regenerated")
		return err
	}

	c.store.Update(func(w state.Workspace) state.Workspace {
		w.Documents = docs
		w.ActiveDocumentID = ""
		w.Projection = nil
		if len(docs) > 0 {
			w.ActiveDocumentID = docs[0].ID
			p := projector.Project(docs[0])
			w.Projection = &p
		}
		return w
	})
	return nil
}

// writeCache 落定时写入最近访问缓存与本地快照
func (c *Coordinator) writeCache(conversationID string, msgs []model.Message, questions []model.Question) {
	entry := cache.Entry{
		ConversationID: conversationID,
		Messages:       msgs,
		Questions:      questions,
		CapturedAt:     time.Now(),
	}
	c.cache.Put(conversationID, entry)

	if c.snap != nil {
		if err := c.snap.Save(entry); err != nil {
			log.Warn().Err(err).Msg("snapshot save failed")
		}
	}
}

// notify 设置非阻塞通知
func (c *Coordinator) notify(text string) {
	c.store.Update(func(w state.Workspace) state.Workspace {
		w.Notice = text
		return w
	})
}

// upsertConversation 用服务端元数据更新目录中的对应条目
func upsertConversation(convs []model.Conversation, conv model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(convs))
	copy(out, convs)
	for i := range out {
		if out[i].ID == conv.ID {
			out[i] = conv
			return out
		}
	}
	return append(out, conv)
}

// retitleConversation 更新目录中某个对话的标题
func retitleConversation(convs []model.Conversation, conversationID, title string) []model.Conversation {
	out := make([]model.Conversation, len(convs))
	copy(out, convs)
	for i := range out {
		if out[i].ID == conversationID {
			out[i].Title = title
		}
	}
	return out
}
