package mplex

import (
	"io"
	"sync"

	"github.com/netweave/go-netweave/pkg/types"
)

// ============================================================================
//                              Substream
// ============================================================================

// Substream 多路复用器内的一条逻辑双向字节流
//
// 读侧由读循环投递的帧填充缓冲。每个方向各有独立的半关闭标志：
// 本地关闭后仍接受远端写入，直到远端发来对应的关闭帧。
// 对多路复用器持非拥有型回指。
type Substream struct {
	id   uint64
	name string
	mux  *Muxer

	mu   sync.Mutex
	cond *sync.Cond

	// buf 读侧缓冲（由读循环填充）
	buf []byte

	// localClosed 本地写端已关闭
	localClosed bool
	// remoteClosed 远端写端已关闭（读到缓冲排空后返回 EOF）
	remoteClosed bool
	// reset 子流被重置（读写立即失败）
	reset bool
}

// 确保实现事件引用接口
var _ types.SubstreamRef = (*Substream)(nil)

// newSubstream 创建子流
func newSubstream(id uint64, name string, mux *Muxer) *Substream {
	s := &Substream{id: id, name: name, mux: mux}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// StreamID 子流标识
func (s *Substream) StreamID() uint64 {
	return s.id
}

// StreamName 子流名称
func (s *Substream) StreamName() string {
	return s.name
}

// Read 从读缓冲读取
//
// 缓冲为空时阻塞，直到有数据、远端关闭（EOF）或子流被重置。
func (s *Substream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 {
		if s.reset {
			return 0, ErrStreamReset
		}
		if s.remoteClosed {
			return 0, io.EOF
		}
		s.cond.Wait()
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Write 通过多路复用器写出数据帧
func (s *Substream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.reset {
		s.mu.Unlock()
		return 0, ErrStreamReset
	}
	if s.localClosed {
		s.mu.Unlock()
		return 0, ErrStreamClosed
	}
	s.mu.Unlock()

	if err := s.mux.writeMessage(s.id, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close 关闭本地写端
//
// 向对端发送关闭帧。关闭后远端写入仍会被接受并进入读缓冲，
// 直到远端发来对应的关闭帧；映射条目届时才由读循环移除。
func (s *Substream) Close() error {
	s.mu.Lock()
	if s.localClosed {
		s.mu.Unlock()
		return nil
	}
	s.localClosed = true
	s.mu.Unlock()

	return s.mux.RemoveStream(s)
}

// push 追加远端数据到读缓冲（读循环调用）
func (s *Substream) push(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reset {
		return
	}

	s.buf = append(s.buf, data...)
	s.cond.Broadcast()
}

// closeRemote 标记远端写端结束（读循环调用）
func (s *Substream) closeRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteClosed = true
	s.cond.Broadcast()
}

// markReset 标记子流被重置
func (s *Substream) markReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset = true
	s.cond.Broadcast()
}
