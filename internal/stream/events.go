package stream

import (
	"encoding/json"

	"loom/internal/model"
)

// 协议事件类型
const (
	EventToken      = "token"
	EventGoals      = "goals"
	EventInsights   = "insights"
	EventQuestion   = "question"
	EventTitle      = "title"
	EventStructured = "structured_data"
	EventError      = "error"
	EventDone       = "done"
)

// 流终结事件，由编排器在读循环结束后产出
const (
	EventStreamEnd  = "stream_end"  // 正常或取消结束，按落定规则处理
	EventStreamFail = "stream_fail" // 非取消的网络失败
)

// Event 流事件
// 读循环按到达顺序产出；token 事件同时携带增量与累计文本
type Event struct {
	Type string

	Delta string // token 增量
	Text  string // token 累计缓冲

	Goals    []model.Goal
	Insights []model.Insight
	Question *model.Question
	Title    string

	Raw       json.RawMessage // structured_data 原始负载
	Documents []model.Document

	Message  string // error / stream_fail 的用户可见文案
	Canceled bool   // stream_end：是否因取消而结束
}

// tokenPayload token 事件负载
type tokenPayload struct {
	Text string `json:"text"`
}

// titlePayload title 事件负载
type titlePayload struct {
	Title string `json:"title"`
}

// errorPayload error 事件负载
type errorPayload struct {
	Message string `json:"message"`
}

// structuredPayload structured_data 事件负载
type structuredPayload struct {
	Documents []model.Document `json:"documents"`
}
