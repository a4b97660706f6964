// Package peermgr 实现死节点退避控制循环
//
// 订阅 ConnectionEstablished（标记可达：移出死亡集、撤掉拒绝
// 条目）与 PeerNotReachable（标记不可达：加入死亡集、追加
// /p2p/<id> 拒绝条目）。死亡集条目携带指数退避：初始时长起步、
// 倍增至上限；下一次退避将超过上限时节点被永久注销。后台循环
// 按初始退避的间隔扫描到期条目，临时撤掉拒绝条目并尝试重连。
package peermgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/internal/core/filter"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("core/peermgr")

// 默认退避参数
const (
	// DefaultInitialBackoff 初始退避时长
	DefaultInitialBackoff = time.Minute
	// DefaultMaxBackoff 退避时长上限
	DefaultMaxBackoff = 64 * time.Minute
)

// Network PeerManager 依赖的网络能力（由 Swarm 满足）
type Network interface {
	IsRunning() bool
	Connect(ctx context.Context, peer *types.Peer) (*connection.PeerConnection, error)
	DeregisterPeer(peer *types.Peer) bool
	Policy() *filter.Composite
}

// DeadPeer 死亡集条目
type DeadPeer struct {
	// Peer 节点
	Peer *types.Peer
	// Backoff 当前退避时长
	Backoff time.Duration
	// NextAttempt 下次尝试时间
	NextAttempt time.Time
}

// Manager 死节点管理器
type Manager struct {
	network Network
	bus     *eventbus.Bus
	clock   clock.Clock

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu   sync.Mutex
	dead map[types.PeerID]*DeadPeer

	establishedSub  *eventbus.Subscription
	notReachableSub *eventbus.Subscription

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
}

// New 创建死节点管理器
//
// clk 为 nil 时使用真实时钟。
func New(network Network, bus *eventbus.Bus, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		network:        network,
		bus:            bus,
		clock:          clk,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		dead:           make(map[types.PeerID]*DeadPeer),
	}
}

// SetBackoff 调整退避参数（测试与配置用）
func (m *Manager) SetBackoff(initial, max time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialBackoff = initial
	m.maxBackoff = max
}

// Start 订阅事件并启动扫描循环
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	var err error
	if m.establishedSub, err = m.bus.Subscribe(new(types.EvtConnectionEstablished)); err != nil {
		return err
	}
	if m.notReachableSub, err = m.bus.Subscribe(new(types.EvtPeerNotReachable)); err != nil {
		m.establishedSub.Close()
		return err
	}

	go m.eventLoop()
	go m.scanLoop()
	return nil
}

// Stop 停止管理器
func (m *Manager) Stop() error {
	if !m.started.CompareAndSwap(true, false) {
		return nil
	}
	m.cancel()
	m.establishedSub.Close()
	m.notReachableSub.Close()
	return nil
}

// DeadPeers 返回死亡集快照
func (m *Manager) DeadPeers() []*DeadPeer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*DeadPeer, 0, len(m.dead))
	for _, d := range m.dead {
		out = append(out, d)
	}
	return out
}

// eventLoop 事件处理循环
func (m *Manager) eventLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return

		case ev, ok := <-m.establishedSub.Out():
			if !ok {
				return
			}
			if est, ok := ev.(types.EvtConnectionEstablished); ok {
				if peer := est.Conn.RemotePeer(); peer != nil {
					m.markReachable(peer)
				}
			}

		case ev, ok := <-m.notReachableSub.Out():
			if !ok {
				return
			}
			if nr, ok := ev.(types.EvtPeerNotReachable); ok {
				m.markNotReachable(nr.Peer)
			}
		}
	}
}

// markReachable 节点可达：移出死亡集并撤掉拒绝条目
func (m *Manager) markReachable(peer *types.Peer) {
	m.mu.Lock()
	_, wasDead := m.dead[peer.ID]
	delete(m.dead, peer.ID)
	m.mu.Unlock()

	if wasDead {
		m.network.Policy().Deny.Remove(denyPattern(peer.ID))
		logger.Debug("节点恢复可达", "peerID", peer.ID.ShortString())
	}
}

// markNotReachable 节点不可达：加入死亡集并追加拒绝条目
//
// 已在死亡集中的节点退避倍增；倍增后超过上限时永久注销。
func (m *Manager) markNotReachable(peer *types.Peer) {
	if peer == nil {
		return
	}

	now := m.clock.Now()

	m.mu.Lock()
	entry, exists := m.dead[peer.ID]
	if !exists {
		entry = &DeadPeer{
			Peer:        peer,
			Backoff:     m.initialBackoff,
			NextAttempt: now.Add(m.initialBackoff),
		}
		m.dead[peer.ID] = entry
		m.mu.Unlock()

		m.network.Policy().Deny.Add(denyPattern(peer.ID))
		logger.Debug("节点加入死亡集",
			"peerID", peer.ID.ShortString(),
			"backoff", entry.Backoff)
		return
	}

	next := entry.Backoff * 2
	if next > m.maxBackoff {
		// 超过上限：永久注销
		delete(m.dead, peer.ID)
		m.mu.Unlock()

		m.network.Policy().Deny.Remove(denyPattern(peer.ID))
		m.network.DeregisterPeer(peer)
		logger.Info("节点退避超限，永久注销", "peerID", peer.ID.ShortString())
		return
	}

	entry.Backoff = next
	entry.NextAttempt = now.Add(next)
	m.mu.Unlock()

	m.network.Policy().Deny.Add(denyPattern(peer.ID))
	logger.Debug("节点退避倍增",
		"peerID", peer.ID.ShortString(),
		"backoff", next)
}

// scanLoop 扫描循环（间隔 = 初始退避）
func (m *Manager) scanLoop() {
	ticker := m.clock.Ticker(m.initialBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.retryDue()
		}
	}
}

// retryDue 对到期条目尝试重连
//
// 重连前临时撤掉拒绝条目；失败由 Connect 路径重新发布
// PeerNotReachable，条目随之倍增退避。
func (m *Manager) retryDue() {
	if !m.network.IsRunning() {
		return
	}

	now := m.clock.Now()

	m.mu.Lock()
	var due []*DeadPeer
	for _, d := range m.dead {
		if !d.NextAttempt.After(now) {
			due = append(due, d)
		}
	}
	m.mu.Unlock()

	for _, d := range due {
		m.network.Policy().Deny.Remove(denyPattern(d.Peer.ID))

		logger.Debug("尝试重连死亡节点", "peerID", d.Peer.ID.ShortString())
		if _, err := m.network.Connect(m.ctx, d.Peer); err != nil {
			logger.Debug("死亡节点重连失败",
				"peerID", d.Peer.ID.ShortString(),
				"error", err)
		}
	}
}

// denyPattern 节点的拒绝条目 /p2p/<id>
func denyPattern(id types.PeerID) *multiaddr.Multiaddr {
	return multiaddr.FromComponents(multiaddr.Component{
		Protocol: multiaddr.ProtoP2P,
		Value:    id.String(),
	})
}
