// Package netweave 提供 NetWeave 节点的顶层入口
//
// Node 把 Swarm（拨号、监听、注册表、策略）、AutoDialer（最小
// 连接数维持）、PeerManager（死节点退避）与进程级带宽汇总组装
// 为一个可启停的节点。
package netweave

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/netweave/go-netweave/internal/core/autodial"
	"github.com/netweave/go-netweave/internal/core/bandwidth"
	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/internal/core/peermgr"
	"github.com/netweave/go-netweave/internal/core/pnet"
	"github.com/netweave/go-netweave/internal/core/security/noise"
	"github.com/netweave/go-netweave/internal/core/security/plaintext"
	"github.com/netweave/go-netweave/internal/core/swarm"
	"github.com/netweave/go-netweave/internal/core/transport/tcp"
	"github.com/netweave/go-netweave/internal/core/transport/udp"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("netweave")

// Node NetWeave 节点
type Node struct {
	cfg *config

	localPeer *types.Peer
	privKey   crypto.PrivateKey

	swarm       *swarm.Swarm
	autoDialer  *autodial.AutoDialer
	peerManager *peermgr.Manager
	meter       *bandwidth.Meter

	started atomic.Bool
}

// New 创建节点
//
// 未提供私钥时生成新的 Ed25519 身份；节点标识由公钥派生。
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	priv := cfg.privKey
	if priv == nil && !cfg.insecure {
		var err error
		priv, _, err = crypto.GenerateEd25519Key()
		if err != nil {
			return nil, fmt.Errorf("netweave: generate identity: %w", err)
		}
	}

	var localPeer *types.Peer
	if priv != nil {
		id, err := crypto.PeerIDFromPrivateKey(priv)
		if err != nil {
			return nil, err
		}
		localPeer = types.NewPeer(id)
		pub, err := crypto.MarshalPublicKey(priv.GetPublic())
		if err != nil {
			return nil, err
		}
		localPeer.SetPublicKey(pub)
	} else {
		localPeer = types.NewPeer(cfg.insecureID)
	}

	meter := bandwidth.NewMeter(nil)

	swarmOpts := []swarm.Option{
		swarm.WithPrivateKey(priv),
		swarm.WithTransport(multiaddr.ProtoTCP, tcp.Factory()),
		swarm.WithTransport(multiaddr.ProtoUDP, udp.Factory()),
		swarm.WithTransportConnectTimeout(cfg.transportTimeout),
		swarm.WithGlobalCounter(meter.Counter()),
		swarm.WithDenyAddrs(cfg.denyAddrs...),
		swarm.WithAllowAddrs(cfg.allowAddrs...),
	}

	// 配置了私钥时走 Noise；否则使用明文信道
	if priv != nil {
		swarmOpts = append(swarmOpts, swarm.WithSecurityChannel(noise.New()))
	} else {
		swarmOpts = append(swarmOpts, swarm.WithSecurityChannel(plaintext.New()))
	}

	if len(cfg.psk) > 0 {
		protector, err := pnet.New(cfg.psk)
		if err != nil {
			return nil, err
		}
		swarmOpts = append(swarmOpts, swarm.WithProtector(protector))
	}

	sw, err := swarm.NewSwarm(localPeer, swarmOpts...)
	if err != nil {
		return nil, err
	}

	node := &Node{
		cfg:         cfg,
		localPeer:   localPeer,
		privKey:     priv,
		swarm:       sw,
		meter:       meter,
		autoDialer:  autodial.New(sw, sw.EventBus(), cfg.minConnections),
		peerManager: peermgr.New(sw, sw.EventBus(), nil),
	}

	return node, nil
}

// ID 返回本地节点标识
func (n *Node) ID() types.PeerID {
	return n.localPeer.ID
}

// Peer 返回本地节点记录
func (n *Node) Peer() *types.Peer {
	return n.localPeer
}

// Swarm 返回连接群协调器
func (n *Node) Swarm() *swarm.Swarm {
	return n.swarm
}

// EventBus 返回事件总线
func (n *Node) EventBus() *eventbus.Bus {
	return n.swarm.EventBus()
}

// Bandwidth 返回进程级带宽汇总表
func (n *Node) Bandwidth() *bandwidth.Meter {
	return n.meter
}

// Start 启动节点
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}

	n.meter.Start()

	if err := n.swarm.Start(); err != nil {
		return err
	}

	if len(n.cfg.listenAddrs) > 0 {
		if err := n.swarm.Listen(n.cfg.listenAddrs...); err != nil {
			n.swarm.Stop()
			return err
		}
	}

	if err := n.autoDialer.Start(); err != nil {
		return err
	}
	if err := n.peerManager.Start(); err != nil {
		return err
	}

	logger.Info("节点已启动",
		"peerID", n.localPeer.ID.ShortString(),
		"listenAddrs", len(n.swarm.ListenAddrs()))
	return nil
}

// Stop 停止节点
func (n *Node) Stop() error {
	if !n.started.CompareAndSwap(true, false) {
		return nil
	}

	n.peerManager.Stop()
	n.autoDialer.Stop()
	err := n.swarm.Close()
	n.meter.Stop()

	logger.Info("节点已停止", "peerID", n.localPeer.ID.ShortString())
	return err
}

// Connect 按文本地址连接节点
func (n *Node) Connect(ctx context.Context, addr string) (*connection.PeerConnection, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, err
	}
	return n.swarm.ConnectAddr(ctx, maddr)
}

// Disconnect 按文本地址断开节点
func (n *Node) Disconnect(addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	return n.swarm.DisconnectAddr(maddr)
}

// Listen 追加监听地址
func (n *Node) Listen(addrs ...string) error {
	return n.swarm.Listen(addrs...)
}

// SetStreamHandler 注册应用协议处理器
//
// 协议以 "/" + name + "/" + version 进入每条连接的分发表。
func (n *Node) SetStreamHandler(name, version string, handler connection.StreamHandler) {
	n.swarm.AddProtocol(connection.Protocol{
		Name:    name,
		Version: version,
		Handler: handler,
	})
}

// NewStream 在与节点的连接上打开协商完成的子流
func (n *Node) NewStream(ctx context.Context, peer types.PeerID, name string) (io.ReadWriteCloser, error) {
	return n.swarm.NewStream(ctx, peer, name)
}
