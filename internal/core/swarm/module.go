package swarm

import (
	"context"

	"go.uber.org/fx"
)

// ============================================================================
// Fx 模块
// ============================================================================

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("swarm",
		fx.Provide(NewSwarm),
		fx.Invoke(registerLifecycle),
	)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC    fx.Lifecycle
	Swarm *Swarm
}

// registerLifecycle 注册生命周期
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return input.Swarm.Start()
		},
		OnStop: func(_ context.Context) error {
			return input.Swarm.Close()
		},
	})
}
