package eventbus

// subscriptionSettings 订阅设置
type subscriptionSettings struct {
	// Buffer 订阅通道缓冲区大小
	Buffer int
}

// SubscriptionOpt 订阅选项
type SubscriptionOpt func(*subscriptionSettings)

// BufSize 设置订阅缓冲区大小
func BufSize(n int) SubscriptionOpt {
	return func(s *subscriptionSettings) {
		s.Buffer = n
	}
}

// emitterSettings 发射器设置
type emitterSettings struct {
	// Stateful 新订阅者是否立即收到最后一个事件
	Stateful bool
}

// EmitterOpt 发射器选项
type EmitterOpt func(*emitterSettings)

// Stateful 标记发射器为有状态
func Stateful(s *emitterSettings) {
	s.Stateful = true
}
