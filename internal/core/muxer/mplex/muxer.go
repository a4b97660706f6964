package mplex

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/netweave/go-netweave/pkg/lib/log"
)

var logger = log.Logger("core/mplex")

// ProtocolID mplex 协议标识
const ProtocolID = "/mplex/6.7.0"

// 子流 ID 起始值：发起方偶数，应答方奇数
const (
	initiatorFirstID = 1000
	receiverFirstID  = 1001
)

// Disposer 多路复用器所属连接的释放能力
//
// 读循环结束时调用；测试中连接缺席时直接关闭通道。
type Disposer interface {
	Dispose()
}

// Muxer mplex 多路复用器
//
// 每条 PeerConnection 一个。持有连接的双工通道和
// 子流 ID -> Substream 的映射。对通道的写入由写锁严格串行，
// 单帧字节绝不交错。
type Muxer struct {
	channel io.ReadWriteCloser

	// writeMu 通道写锁（单帧持有）
	writeMu sync.Mutex

	mu        sync.Mutex
	streams   map[uint64]*Substream
	nextID    uint64
	initiator bool
	// allocated 首条子流分配后角色固定
	allocated bool

	// conn 所属连接（可为 nil，测试场景）
	conn Disposer

	// onCreated/onClosed 子流生命周期回调（由所属连接接线到事件总线）
	onCreated func(*Substream)
	onClosed  func(*Substream)

	closed atomic.Bool
}

// NewMuxer 创建多路复用器
func NewMuxer(channel io.ReadWriteCloser, initiator bool) *Muxer {
	m := &Muxer{
		channel:   channel,
		streams:   make(map[uint64]*Substream),
		initiator: initiator,
	}
	if initiator {
		m.nextID = initiatorFirstID
	} else {
		m.nextID = receiverFirstID
	}
	return m
}

// SetInitiator 切换角色
//
// 仅在任何子流存在之前合法——本端创建和远端开启的子流都会固定
// 角色；切换同时修正起始 ID 的奇偶。
func (m *Muxer) SetInitiator(initiator bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allocated {
		return ErrRoleFixed
	}

	m.initiator = initiator
	if initiator {
		m.nextID = initiatorFirstID
	} else {
		m.nextID = receiverFirstID
	}
	return nil
}

// Initiator 返回当前角色
func (m *Muxer) Initiator() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initiator
}

// BindConn 绑定所属连接
func (m *Muxer) BindConn(conn Disposer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
}

// OnSubstreamCreated 设置子流创建回调
func (m *Muxer) OnSubstreamCreated(fn func(*Substream)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCreated = fn
}

// OnSubstreamClosed 设置子流关闭回调
func (m *Muxer) OnSubstreamClosed(fn func(*Substream)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = fn
}

// Streams 返回当前子流数量
func (m *Muxer) Streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Stream 按 ID 查找子流
func (m *Muxer) Stream(id uint64) (*Substream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	return s, ok
}

// NewNamedStream 创建命名子流
//
// 分配下一个本端奇偶的 ID，注册后向对端发送 NewStream 帧。
func (m *Muxer) NewNamedStream(ctx context.Context, name string) (*Substream, error) {
	if m.closed.Load() {
		return nil, ErrMuxerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID += 2
	m.allocated = true
	s := newSubstream(id, name, m)
	m.streams[id] = s
	m.mu.Unlock()

	frame := &Frame{StreamID: id, Type: PacketNewStream, Payload: []byte(name)}
	if err := m.writeFrame(frame); err != nil {
		m.mu.Lock()
		delete(m.streams, id)
		m.mu.Unlock()
		return nil, err
	}

	logger.Debug("子流已创建", "id", id, "name", name)
	return s, nil
}

// RemoveStream 本地关闭子流
//
// 向对端发送 CloseInitiator 帧。映射条目不在此处移除：本地关闭
// 后远端写入仍须进入读缓冲，条目保留到远端的关闭/重置帧到达，
// 由读循环（或整体清理）移除。远端先关闭时条目已被读循环移除，
// 此时仍补发关闭帧，使对端能够释放它保留的那一侧条目。
func (m *Muxer) RemoveStream(s *Substream) error {
	if m.closed.Load() {
		return nil
	}

	frame := &Frame{StreamID: s.id, Type: PacketCloseInitiator}
	if err := m.writeFrame(frame); err != nil && !m.closed.Load() {
		return err
	}
	return nil
}

// writeMessage 发送数据帧（子流写入路径）
func (m *Muxer) writeMessage(id uint64, data []byte) error {
	if m.closed.Load() {
		return ErrMuxerClosed
	}

	pt := PacketMessageReceiver
	if m.Initiator() {
		pt = PacketMessageInitiator
	}

	return m.writeFrame(&Frame{StreamID: id, Type: pt, Payload: data})
}

// writeFrame 串行写出一帧
//
// 写锁在单帧的全部字节期间持有，保证帧不被交错。
func (m *Muxer) writeFrame(f *Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_, err := m.channel.Write(f.Marshal())
	return err
}

// ProcessRequests 后台读循环
//
// 逐帧读取并分发，直到 EOF、I/O 失败、取消或连接重置。
// 循环结束时：释放所属连接（连接缺席时只关闭通道），
// 然后丢弃全部子流。
func (m *Muxer) ProcessRequests(ctx context.Context) error {
	defer m.teardown()

	// 取消时关闭通道使阻塞读返回
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			m.channel.Close()
		case <-watchDone:
		}
	}()

	for {
		frame, err := ReadFrame(m.channel)
		if err != nil {
			if isCleanExit(err) || ctx.Err() != nil {
				logger.Debug("读循环正常退出", "error", err)
				return nil
			}
			logger.Debug("读循环因 I/O 失败退出", "error", err)
			return nil
		}

		if err := m.handleFrame(frame); err != nil {
			logger.Warn("读循环因非法数据终止", "error", err)
			return err
		}
	}
}

// handleFrame 分发单帧
func (m *Muxer) handleFrame(f *Frame) error {
	switch f.Type {
	case PacketNewStream:
		m.handleNewStream(f)

	case PacketMessageInitiator, PacketMessageReceiver:
		m.mu.Lock()
		s, ok := m.streams[f.StreamID]
		m.mu.Unlock()
		if !ok {
			logger.Warn("未知子流的数据帧被丢弃", "id", f.StreamID, "bytes", len(f.Payload))
			return nil
		}
		s.push(f.Payload)

	case PacketCloseInitiator, PacketCloseReceiver,
		PacketResetInitiator, PacketResetReceiver:
		// 本层 Reset 与 Close 语义一致
		m.mu.Lock()
		s, ok := m.streams[f.StreamID]
		if ok {
			delete(m.streams, f.StreamID)
		}
		onClosed := m.onClosed
		m.mu.Unlock()
		if !ok {
			return nil
		}
		s.closeRemote()
		if onClosed != nil {
			onClosed(s)
		}

	default:
		return ErrInvalidData
	}

	return nil
}

// handleNewStream 处理对端新建子流
func (m *Muxer) handleNewStream(f *Frame) {
	name := string(f.Payload)

	m.mu.Lock()
	if _, exists := m.streams[f.StreamID]; exists {
		m.mu.Unlock()
		logger.Warn("子流 ID 冲突，忽略", "id", f.StreamID, "name", name)
		return
	}
	s := newSubstream(f.StreamID, name, m)
	m.streams[f.StreamID] = s
	// 远端开启的子流同样固定角色：对端已知晓当前奇偶
	m.allocated = true
	initiator := m.initiator
	onCreated := m.onCreated
	m.mu.Unlock()

	logger.Debug("观测到新子流", "id", f.StreamID, "name", name)

	// go-hack：应答方观测到奇数 ID 时回发 NewStream 帧，
	// 与特定参考实现互通所需
	if !initiator && f.StreamID%2 == 1 {
		echo := &Frame{StreamID: f.StreamID, Type: PacketNewStream, Payload: f.Payload}
		if err := m.writeFrame(echo); err != nil {
			logger.Debug("NewStream 回发失败", "id", f.StreamID, "error", err)
		}
	}

	if onCreated != nil {
		onCreated(s)
	}
}

// teardown 读循环结束后的清理
func (m *Muxer) teardown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	conn := m.conn
	streams := make([]*Substream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.streams = make(map[uint64]*Substream)
	m.mu.Unlock()

	if conn != nil {
		conn.Dispose()
	} else {
		m.channel.Close()
	}

	for _, s := range streams {
		s.markReset()
	}

	logger.Debug("多路复用器已关闭", "droppedStreams", len(streams))
}

// Close 主动关闭多路复用器
func (m *Muxer) Close() error {
	m.teardown()
	return nil
}

// IsClosed 是否已关闭
func (m *Muxer) IsClosed() bool {
	return m.closed.Load()
}

// isCleanExit 判断读循环错误是否属于"干净退出"
//
// EOF、管道/连接关闭与连接重置均按干净退出处理。
func isCleanExit(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return false
}
