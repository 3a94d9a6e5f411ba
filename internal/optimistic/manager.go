package optimistic

import "context"

// Mutation 一次乐观更新
// Apply 立即写入共享状态并返回先前值；Persist 发起持久化；
// Restore 在持久化失败时恢复捕获到的先前值
type Mutation[T any] struct {
	Apply   func() T
	Persist func(ctx context.Context) error
	Restore func(prev T)
}

// Do 执行乐观更新
// 先应用再持久化；失败时精确回滚到先前值并返回错误，不做自动重试
// （用户的下一次操作天然就是重试）
func Do[T any](ctx context.Context, m Mutation[T]) error {
	prev := m.Apply()

	if err := m.Persist(ctx); err != nil {
		m.Restore(prev)
		return err
	}
	return nil
}
