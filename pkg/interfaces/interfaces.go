// Package interfaces 定义跨模块的插件式能力接口
//
// 封闭集合（帧类型、协议种类）用各自包内的常量/枚举表达；
// 这里只收录开放的扩展点：传输层之上的流变换、节点发现等。
package interfaces

import (
	"context"
	"io"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

// NetworkProtector 私有网络保护器
//
// 在握手流水线最外层对原始流做变换（如预共享密钥加密）。
// 未配置时连接直接使用原始流。
type NetworkProtector interface {
	// Protect 变换原始流；失败时调用方负责关闭原始流
	Protect(stream io.ReadWriteCloser) (io.ReadWriteCloser, error)
}

// PeerRegistry 节点注册表能力
//
// 由 Swarm 实现；连接在身份交换完成后通过它晋升远端节点。
type PeerRegistry interface {
	// RegisterPeer 合并注册节点；返回注册表内的权威记录
	RegisterPeer(peer *types.Peer) (*types.Peer, error)
}

// Discovery 节点发现扩展点（mDNS、引导列表等，核心之外）
type Discovery interface {
	// Advertise 宣告本地节点
	Advertise(ctx context.Context) error

	// FindPeers 发现节点，结果通过通道返回
	FindPeers(ctx context.Context) (<-chan *types.Peer, error)
}

// Listener 监听句柄
type Listener interface {
	// Addr 实际监听地址（端口为 0 时为内核分配后的地址）
	Addr() *multiaddr.Multiaddr

	// Close 关闭监听器
	Close() error
}
