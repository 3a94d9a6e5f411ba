package cache

import (
	"container/list"
	"sync"
	"time"

	"loom/internal/model"
)

// 缓存默认参数
const (
	DefaultCapacity = 20
	DefaultTTL      = 5 * time.Minute
)

// Entry 单个对话的缓存快照
type Entry struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []model.Message  `json:"messages"`
	Questions      []model.Question `json:"questions"`
	CapturedAt     time.Time        `json:"captured_at"`
}

// RecencyCache 最近访问缓存
// Put 采用先删后插语义维护最近使用顺序并在超量时淘汰最久未写入的条目；
// Get 不影响顺序，过期条目按不存在处理但不主动清除（惰性失效）
type RecencyCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // 队首为最近写入
	index    map[string]*list.Element
}

// New 创建缓存，capacity/ttl 非正时采用默认值
func New(capacity int, ttl time.Duration) *RecencyCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RecencyCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Get 获取缓存快照
// 过期条目返回未命中，清除留给后续淘汰周期
func (c *RecencyCache) Get(conversationID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[conversationID]
	if !ok {
		return Entry{}, false
	}

	entry := elem.Value.(Entry)
	if time.Since(entry.CapturedAt) >= c.ttl {
		return Entry{}, false
	}
	return entry, true
}

// Put 写入缓存快照并将条目提升为最近使用
// CapturedAt 为零值时记录当前时间；超出容量时淘汰最久未写入的条目
func (c *RecencyCache) Put(conversationID string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.ConversationID = conversationID
	if entry.CapturedAt.IsZero() {
		entry.CapturedAt = time.Now()
	}

	// 已存在时先删除，保证重新插入到队首
	if elem, ok := c.index[conversationID]; ok {
		c.order.Remove(elem)
		delete(c.index, conversationID)
	}

	c.index[conversationID] = c.order.PushFront(entry)

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(Entry).ConversationID)
	}
}

// Delete 移除条目（对话删除得到服务端确认后调用）
func (c *RecencyCache) Delete(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[conversationID]; ok {
		c.order.Remove(elem)
		delete(c.index, conversationID)
	}
}

// Len 当前物理条目数，含已过期未清除的条目
func (c *RecencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys 按最近使用序返回全部键，仅用于测试与快照落盘
func (c *RecencyCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(Entry).ConversationID)
	}
	return keys
}
