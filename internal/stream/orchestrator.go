package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"loom/internal/api"
	"loom/internal/model"
)

// Orchestrator 流式交互编排器
// 负责发送消息并把响应体消费为事件序列；
// 状态写入留给 coordinator，这里只做解析、分发与终结分类
type Orchestrator struct {
	api *api.Client
}

// NewOrchestrator 创建编排器
func NewOrchestrator(client *api.Client) *Orchestrator {
	return &Orchestrator{api: client}
}

// Stream 发送消息并返回事件通道
// 通道在读循环结束后先产出一个终结事件（stream_end / stream_fail）再关闭。
// 取消（ctx 被取消）归类为正常终结，由调用方按落定规则处理部分内容
func (o *Orchestrator) Stream(ctx context.Context, conversationID, content string) (<-chan Event, error) {
	body, err := o.api.SendMessage(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go o.consume(ctx, body, events)
	return events, nil
}

// consume 读循环：读取响应体、解析帧、分发事件
func (o *Orchestrator) consume(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	var (
		parser  Parser
		buffer  string // 累计答案文本
		errored bool
		buf     = make([]byte, 4096)
	)

	emit := func(f Frame) bool {
		ev, ok := o.dispatch(f, &buffer)
		if !ok {
			return true
		}
		if ev.Type == EventError {
			errored = true
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return false
		}
		// error 事件终结"进行中"状态，后续帧不再消费
		return ev.Type != EventError
	}

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, f := range parser.Feed(buf[:n]) {
				if !emit(f) {
					if errored {
						return
					}
					// ctx 已取消，走终结分类
					err = ctx.Err()
					break
				}
			}
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if f, ok := parser.Flush(); ok {
				emit(f)
			}
			if !errored {
				events <- Event{Type: EventStreamEnd, Text: buffer}
			}
			return
		}

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// 用户主动停止：不算错误，部分内容交由落定规则处理
			if !errored {
				events <- Event{Type: EventStreamEnd, Text: buffer, Canceled: true}
			}
			return
		}

		log.Error().Err(err).Msg("stream read failed")
		if !errored {
			events <- Event{Type: EventStreamFail, Message: "connection lost while streaming the answer"}
		}
		return
	}
}

// dispatch 把单个帧转换为事件
// JSON 解析失败或缺字段的帧记日志后跳过，绝不中断整个流
func (o *Orchestrator) dispatch(f Frame, buffer *string) (Event, bool) {
	switch f.Event {
	case EventToken:
		var p tokenPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			log.Debug().Err(err).Msg("skipping malformed token frame")
			return Event{}, false
		}
		*buffer += p.Text
		return Event{Type: EventToken, Delta: p.Text, Text: *buffer}, true

	case EventGoals:
		var goals []model.Goal
		if err := json.Unmarshal(f.Data, &goals); err != nil {
			log.Debug().Err(err).Msg("skipping malformed goals frame")
			return Event{}, false
		}
		return Event{Type: EventGoals, Goals: goals}, true

	case EventInsights:
		var insights []model.Insight
		if err := json.Unmarshal(f.Data, &insights); err != nil {
			log.Debug().Err(err).Msg("skipping malformed insights frame")
			return Event{}, false
		}
		return Event{Type: EventInsights, Insights: insights}, true

	case EventQuestion:
		var q model.Question
		if err := json.Unmarshal(f.Data, &q); err != nil || q.ID == "" {
			log.Debug().Err(err).Msg("skipping malformed question frame")
			return Event{}, false
		}
		return Event{Type: EventQuestion, Question: &q}, true

	case EventTitle:
		var p titlePayload
		if err := json.Unmarshal(f.Data, &p); err != nil || p.Title == "" {
			log.Debug().Err(err).Msg("skipping malformed title frame")
			return Event{}, false
		}
		return Event{Type: EventTitle, Title: p.Title}, true

	case EventStructured:
		var p structuredPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			log.Debug().Err(err).Msg("skipping malformed structured_data frame")
			return Event{}, false
		}
		// 原始负载原样保留，documents 非空时交给投影器
		return Event{Type: EventStructured, Raw: append(json.RawMessage(nil), f.Data...), Documents: p.Documents}, true

	case EventError:
		var p errorPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			log.Debug().Err(err).Msg("skipping malformed error frame")
			return Event{}, false
		}
		return Event{Type: EventError, Message: p.Message}, true

	case EventDone:
		// 显式结束标记仅作提示，读循环的自然结束才是主要完成信号
		return Event{Type: EventDone}, true

	default:
		log.Debug().Str("event", f.Event).Msg("skipping unrecognized frame")
		return Event{}, false
	}
}
