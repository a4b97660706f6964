// Package bandwidth 实现字节计数
//
// 提供包装任意双工流的计数适配器，以及进程级汇总表。
// 汇总表的速率重置循环由 Meter.Start 显式启动，Meter.Stop 时取消。
package bandwidth

import (
	"io"
	"sync/atomic"
)

// ============================================================================
//                              Counter
// ============================================================================

// Counter 字节计数器
type Counter struct {
	totalIn  atomic.Int64
	totalOut atomic.Int64

	// 当前统计窗口内的字节数（由 Meter 周期性取走）
	windowIn  atomic.Int64
	windowOut atomic.Int64
}

// NewCounter 创建计数器
func NewCounter() *Counter {
	return &Counter{}
}

// AddIn 记录入站字节
func (c *Counter) AddIn(n int64) {
	c.totalIn.Add(n)
	c.windowIn.Add(n)
}

// AddOut 记录出站字节
func (c *Counter) AddOut(n int64) {
	c.totalOut.Add(n)
	c.windowOut.Add(n)
}

// TotalIn 累计入站字节
func (c *Counter) TotalIn() int64 {
	return c.totalIn.Load()
}

// TotalOut 累计出站字节
func (c *Counter) TotalOut() int64 {
	return c.totalOut.Load()
}

// takeWindow 取走并清零当前窗口
func (c *Counter) takeWindow() (in, out int64) {
	return c.windowIn.Swap(0), c.windowOut.Swap(0)
}

// ============================================================================
//                              CountedStream
// ============================================================================

// CountedStream 字节计数流包装器
//
// 读写字节同时记入自身计数器和可选的汇总计数器。
type CountedStream struct {
	inner   io.ReadWriteCloser
	counter *Counter
	global  *Counter
}

// WrapStream 包装双工流
//
// global 可为 nil（不做进程级汇总）。
func WrapStream(inner io.ReadWriteCloser, counter, global *Counter) *CountedStream {
	if counter == nil {
		counter = NewCounter()
	}
	return &CountedStream{inner: inner, counter: counter, global: global}
}

// Read 读取并计数
func (s *CountedStream) Read(p []byte) (int, error) {
	n, err := s.inner.Read(p)
	if n > 0 {
		s.counter.AddIn(int64(n))
		if s.global != nil {
			s.global.AddIn(int64(n))
		}
	}
	return n, err
}

// Write 写入并计数
func (s *CountedStream) Write(p []byte) (int, error) {
	n, err := s.inner.Write(p)
	if n > 0 {
		s.counter.AddOut(int64(n))
		if s.global != nil {
			s.global.AddOut(int64(n))
		}
	}
	return n, err
}

// Close 关闭内层流
func (s *CountedStream) Close() error {
	return s.inner.Close()
}

// Counter 返回连接级计数器
func (s *CountedStream) Counter() *Counter {
	return s.counter
}

// Inner 返回内层流
func (s *CountedStream) Inner() io.ReadWriteCloser {
	return s.inner
}

// SwapInner 替换内层流（安全握手替换流时使用），返回旧流
func (s *CountedStream) SwapInner(inner io.ReadWriteCloser) io.ReadWriteCloser {
	old := s.inner
	s.inner = inner
	return old
}
