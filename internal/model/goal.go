package model

// 用户评价
const (
	RatingAccept = "accept"
	RatingReject = "reject"
	RatingNone   = ""
)

// Goal 目标条目，单轮内只追加
type Goal struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
	Rating   string `json:"rating,omitempty"` // 本地评价，不要求回滚
}

// Insight 洞察条目，单轮内只追加
type Insight struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Type   string `json:"type"`
	Rating string `json:"rating,omitempty"`
}
