// Package autodial 实现最小连接数维持
//
// 订阅 PeerDiscovered 与 PeerDisconnected：活跃连接数加上进行中
// 的拨号数低于下限时补拨。发现事件直接拨号被发现的节点；断开
// 事件从已知节点中均匀随机挑选无连接、非刚断开、策略允许且无
// 进行中拨号的候选。拨号失败记录日志后吞掉（下个触发重试）。
package autodial

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("core/autodial")

// DefaultMinConnections 默认最小连接数
const DefaultMinConnections = 16

// Network AutoDialer 依赖的网络能力（由 Swarm 满足）
type Network interface {
	IsRunning() bool
	ActiveConnections() int
	Connect(ctx context.Context, peer *types.Peer) (*connection.PeerConnection, error)
	KnownPeers() []*types.Peer
	IsAllowed(peer *types.Peer) bool
}

// AutoDialer 最小连接数维持器
type AutoDialer struct {
	network Network
	bus     *eventbus.Bus

	// minConnections 活跃连接数下限
	minConnections int

	// pendingConnects 进行中的拨号数
	pendingConnects atomic.Int32

	// dialing 进行中拨号的节点集合
	dialing sync.Map

	discoveredSub   *eventbus.Subscription
	disconnectedSub *eventbus.Subscription

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
}

// New 创建 AutoDialer
func New(network Network, bus *eventbus.Bus, minConnections int) *AutoDialer {
	if minConnections < 0 {
		minConnections = DefaultMinConnections
	}
	return &AutoDialer{
		network:        network,
		bus:            bus,
		minConnections: minConnections,
	}
}

// Start 订阅事件并启动处理循环
func (a *AutoDialer) Start() error {
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())

	var err error
	if a.discoveredSub, err = a.bus.Subscribe(new(types.EvtPeerDiscovered)); err != nil {
		return err
	}
	if a.disconnectedSub, err = a.bus.Subscribe(new(types.EvtPeerDisconnected)); err != nil {
		a.discoveredSub.Close()
		return err
	}

	go a.loop()
	return nil
}

// Stop 停止处理循环
func (a *AutoDialer) Stop() error {
	if !a.started.CompareAndSwap(true, false) {
		return nil
	}
	a.cancel()
	a.discoveredSub.Close()
	a.disconnectedSub.Close()
	return nil
}

// loop 事件处理循环
func (a *AutoDialer) loop() {
	for {
		select {
		case <-a.ctx.Done():
			return

		case ev, ok := <-a.discoveredSub.Out():
			if !ok {
				return
			}
			if discovered, ok := ev.(types.EvtPeerDiscovered); ok {
				a.onDiscovered(discovered.Peer)
			}

		case ev, ok := <-a.disconnectedSub.Out():
			if !ok {
				return
			}
			if disconnected, ok := ev.(types.EvtPeerDisconnected); ok {
				a.onDisconnected(disconnected.Peer)
			}
		}
	}
}

// belowMinimum 活跃数加进行中拨号数是否低于下限
func (a *AutoDialer) belowMinimum() bool {
	return a.network.ActiveConnections()+int(a.pendingConnects.Load()) < a.minConnections
}

// onDiscovered 发现节点：低于下限时直接拨号
func (a *AutoDialer) onDiscovered(peer *types.Peer) {
	if !a.network.IsRunning() || !a.belowMinimum() {
		return
	}
	go a.dial(peer)
}

// onDisconnected 节点断开：低于下限时随机补拨
func (a *AutoDialer) onDisconnected(disconnected *types.Peer) {
	if !a.network.IsRunning() || !a.belowMinimum() {
		return
	}

	candidate := a.pickCandidate(disconnected)
	if candidate == nil {
		return
	}
	go a.dial(candidate)
}

// pickCandidate 均匀随机挑选补拨候选
//
// 条件：无连接地址、不是刚断开的节点、策略允许、无进行中拨号。
func (a *AutoDialer) pickCandidate(exclude *types.Peer) *types.Peer {
	var candidates []*types.Peer
	for _, p := range a.network.KnownPeers() {
		if p.ConnectedAddr() != nil {
			continue
		}
		if exclude != nil && p.ID == exclude.ID {
			continue
		}
		if !a.network.IsAllowed(p) {
			continue
		}
		if _, busy := a.dialing.Load(p.ID); busy {
			continue
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

// dial 执行补拨
//
// 计数在 Connect 之前递增、结束后递减；失败记录后吞掉。
func (a *AutoDialer) dial(peer *types.Peer) {
	if _, busy := a.dialing.LoadOrStore(peer.ID, struct{}{}); busy {
		return
	}
	defer a.dialing.Delete(peer.ID)

	a.pendingConnects.Add(1)
	defer a.pendingConnects.Add(-1)

	if _, err := a.network.Connect(a.ctx, peer); err != nil {
		logger.Debug("自动拨号失败", "peerID", peer.ID.ShortString(), "error", err)
	}
}
