package bandwidth

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/netweave/go-netweave/pkg/lib/log"
)

var logger = log.Logger("core/bandwidth")

// defaultWindow 速率统计窗口
const defaultWindow = time.Second

// Meter 进程级带宽汇总表
//
// 持有全局计数器并周期性地把窗口计数折算为速率。
// 重置循环在 Start 时作为任务启动，Stop 时取消。
type Meter struct {
	counter *Counter
	clock   clock.Clock
	window  time.Duration

	mu      sync.RWMutex
	rateIn  float64
	rateOut float64

	cancel  context.CancelFunc
	started bool
}

// NewMeter 创建汇总表
//
// clk 为 nil 时使用真实时钟。
func NewMeter(clk clock.Clock) *Meter {
	if clk == nil {
		clk = clock.New()
	}
	return &Meter{
		counter: NewCounter(),
		clock:   clk,
		window:  defaultWindow,
	}
}

// Counter 返回全局计数器（用于 WrapStream 的 global 参数）
func (m *Meter) Counter() *Counter {
	return m.counter
}

// Start 启动速率重置循环
func (m *Meter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	// ticker 在返回前创建：Start 之后推进的时钟不会错过首个窗口
	ticker := m.clock.Ticker(m.window)
	go m.loop(ctx, ticker)
}

// Stop 停止速率重置循环
func (m *Meter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	m.cancel()
}

// loop 周期性折算窗口计数
func (m *Meter) loop(ctx context.Context, ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("带宽汇总循环已停止")
			return
		case <-ticker.C:
			in, out := m.counter.takeWindow()
			m.mu.Lock()
			m.rateIn = float64(in) / m.window.Seconds()
			m.rateOut = float64(out) / m.window.Seconds()
			m.mu.Unlock()
		}
	}
}

// RateIn 最近窗口的入站速率（字节/秒）
func (m *Meter) RateIn() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rateIn
}

// RateOut 最近窗口的出站速率（字节/秒）
func (m *Meter) RateOut() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rateOut
}

// TotalIn 累计入站字节
func (m *Meter) TotalIn() int64 { return m.counter.TotalIn() }

// TotalOut 累计出站字节
func (m *Meter) TotalOut() int64 { return m.counter.TotalOut() }
