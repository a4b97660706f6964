package netweave

import (
	"context"

	"go.uber.org/fx"

	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/internal/core/swarm"
)

// ============================================================================
// Fx 模块
// ============================================================================

// Module 返回节点的 Fx 组合
//
// 嵌入方可以直接取用 Node，也可以取用其事件总线与 Swarm。
func Module(opts ...Option) fx.Option {
	return fx.Module("netweave",
		fx.Provide(func() (*Node, error) {
			return New(opts...)
		}),
		fx.Provide(func(n *Node) *eventbus.Bus { return n.EventBus() }),
		fx.Provide(func(n *Node) *swarm.Swarm { return n.Swarm() }),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC   fx.Lifecycle
	Node *Node
}

// registerLifecycle 注册生命周期
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return input.Node.Start()
		},
		OnStop: func(_ context.Context) error {
			return input.Node.Stop()
		},
	})
}
