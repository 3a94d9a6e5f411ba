package cancel

import (
	"context"
	"sync"
)

// Class 操作类别，每类同一时刻只有一个在途操作是权威的
type Class string

const (
	ClassSelect    Class = "select"    // 切换对话
	ClassDirectory Class = "directory" // 加载对话目录
	ClassStream    Class = "stream"    // 活动流式应答
)

// Token 单次操作的取消令牌
// 持有旧令牌的在途操作发现自己不再是权威后，应静默丢弃结果
type Token struct {
	ctx   context.Context
	class Class
	gen   uint64
	reg   *Registry
}

// Context 令牌关联的上下文，类别被重新 Begin 或 Cancel 时取消
func (t *Token) Context() context.Context {
	return t.ctx
}

// Live 判断令牌是否仍为所属类别的权威令牌
func (t *Token) Live() bool {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	return t.reg.gens[t.class] == t.gen
}

// Registry 按操作类别管理取消令牌
// 类别之间相互独立：取消 select 不影响 stream
type Registry struct {
	mu      sync.Mutex
	gens    map[Class]uint64
	cancels map[Class]context.CancelFunc
}

// NewRegistry 创建取消注册表
func NewRegistry() *Registry {
	return &Registry{
		gens:    make(map[Class]uint64),
		cancels: make(map[Class]context.CancelFunc),
	}
}

// Begin 作废该类别之前的令牌并签发新令牌
func (r *Registry) Begin(parent context.Context, class Class) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.cancels[class]; ok {
		cancel()
	}

	r.gens[class]++
	ctx, cancel := context.WithCancel(parent)
	r.cancels[class] = cancel

	return &Token{
		ctx:   ctx,
		class: class,
		gen:   r.gens[class],
		reg:   r,
	}
}

// Cancel 取消该类别当前在途操作（用户主动停止）
// 世代号同时递增，令当前令牌不再权威
func (r *Registry) Cancel(class Class) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.cancels[class]; ok {
		cancel()
		delete(r.cancels, class)
	}
	r.gens[class]++
}
