package types

import (
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

// ============================================================================
//                              事件引用接口
// ============================================================================

// ConnRef 事件中携带的连接引用
//
// 避免 types 包依赖具体连接实现；由 internal/core/connection 实现。
type ConnRef interface {
	// ID 连接唯一标识
	ID() string
	// Direction 连接方向
	Direction() Direction
	// RemotePeer 远端节点记录（入站连接身份确立前可能为 nil）
	RemotePeer() *Peer
	// RemoteAddr 远端多协议地址
	RemoteAddr() *multiaddr.Multiaddr
}

// SubstreamRef 事件中携带的子流引用
type SubstreamRef interface {
	// StreamID 子流标识
	StreamID() uint64
	// StreamName 子流名称
	StreamName() string
}

// ============================================================================
//                              节点生命周期事件
// ============================================================================

// EvtPeerDiscovered 节点首次进入注册表
type EvtPeerDiscovered struct {
	Peer *Peer
}

// EvtPeerRemoved 节点被注销
type EvtPeerRemoved struct {
	Peer *Peer
}

// EvtPeerDisconnected 节点的活跃连接数降为零
type EvtPeerDisconnected struct {
	Peer *Peer
}

// EvtPeerNotReachable 对节点的拨号全部失败
type EvtPeerNotReachable struct {
	Peer *Peer
}

// ============================================================================
//                              连接事件
// ============================================================================

// EvtConnectionEstablished 新连接完成握手并被保留
type EvtConnectionEstablished struct {
	Conn ConnRef
}

// EvtConnectionClosed 连接已释放
type EvtConnectionClosed struct {
	Conn ConnRef
}

// EvtListenerEstablished 监听器启动成功
type EvtListenerEstablished struct {
	Peer *Peer
	Addr *multiaddr.Multiaddr
}

// ============================================================================
//                              子流事件
// ============================================================================

// EvtSubstreamCreated 多路复用器观测到新子流
type EvtSubstreamCreated struct {
	Stream SubstreamRef
}

// EvtSubstreamClosed 子流已关闭
type EvtSubstreamClosed struct {
	Stream SubstreamRef
}
