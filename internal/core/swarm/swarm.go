// Package swarm 实现连接群协调器
//
// Swarm 拥有节点注册表、拨号协调、监听器集合与策略闸门，
// 并承载出站/入站的握手流水线。出站拨号按节点去重（并发调用
// 共享同一个进行中的拨号），地址并行竞速，首个成功者胜出。
package swarm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/netweave/go-netweave/internal/core/bandwidth"
	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/connmgr"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/internal/core/filter"
	"github.com/netweave/go-netweave/internal/core/identify"
	"github.com/netweave/go-netweave/internal/core/security"
	"github.com/netweave/go-netweave/internal/core/transport"
	"github.com/netweave/go-netweave/pkg/interfaces"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("core/swarm")

// listenerEntry 监听器登记项
type listenerEntry struct {
	cancel context.CancelFunc
	// addrs 该监听器派生的全部地址（通配展开后）
	addrs []*multiaddr.Multiaddr
}

// emitters Swarm 的事件发射器集合
type emitters struct {
	discovered   *eventbus.Emitter
	removed      *eventbus.Emitter
	established  *eventbus.Emitter
	notReachable *eventbus.Emitter
	listener     *eventbus.Emitter
	connClosed   *eventbus.Emitter
	subCreated   *eventbus.Emitter
	subClosed    *eventbus.Emitter
}

// Swarm 连接群协调器
type Swarm struct {
	mu sync.RWMutex

	localPeer *types.Peer
	privKey   crypto.PrivateKey

	// knownPeers 节点注册表
	knownPeers map[types.PeerID]*types.Peer

	transports *transport.Registry
	manager    *connmgr.Manager
	bus        *eventbus.Bus
	policy     *filter.Composite
	protector  interfaces.NetworkProtector

	// securityChannels 按注册顺序协商的安全信道
	securityChannels []security.SecureChannel
	identity         *identify.Service

	// protocols 连接挂载的应用协议表（锁保护，仅短临界区）
	protocols []connection.Protocol

	// dials 按节点去重的出站拨号（并发调用共享同一 future）
	dials singleflight.Group

	// dialFailures 最近的按地址拨号失败缓存
	dialFailures *expirable.LRU[string, error]

	// pendingInbound 进行中的入站握手（远端地址 -> 哨兵）
	pendingInbound sync.Map

	// listeners 规范化地址 -> 监听器登记项
	listeners map[string]*listenerEntry

	em emitters

	globalCounter *bandwidth.Counter

	cfg *Config

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
}

// 确保实现节点注册表接口
var _ interfaces.PeerRegistry = (*Swarm)(nil)

// NewSwarm 创建 Swarm
func NewSwarm(localPeer *types.Peer, opts ...Option) (*Swarm, error) {
	if localPeer == nil || localPeer.ID.IsEmpty() {
		return nil, ErrNoLocalPeer
	}

	s := &Swarm{
		localPeer:  localPeer,
		knownPeers: make(map[types.PeerID]*types.Peer),
		transports: transport.NewRegistry(),
		policy:     filter.NewComposite(),
		listeners:  make(map[string]*listenerEntry),
		cfg:        DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	if s.bus == nil {
		s.bus = eventbus.NewBus()
	}

	if s.identity == nil {
		s.identity = identify.NewService(localPeer)
	}

	if err := s.initEmitters(); err != nil {
		return nil, err
	}

	manager, err := connmgr.NewManager(s.bus)
	if err != nil {
		return nil, err
	}
	s.manager = manager

	s.dialFailures = expirable.NewLRU[string, error](
		s.cfg.DialFailureCacheSize, nil, s.cfg.DialFailureCacheTTL)

	return s, nil
}

// initEmitters 创建事件发射器
func (s *Swarm) initEmitters() error {
	var err error
	if s.em.discovered, err = s.bus.Emitter(new(types.EvtPeerDiscovered)); err != nil {
		return err
	}
	if s.em.removed, err = s.bus.Emitter(new(types.EvtPeerRemoved)); err != nil {
		return err
	}
	if s.em.established, err = s.bus.Emitter(new(types.EvtConnectionEstablished)); err != nil {
		return err
	}
	if s.em.notReachable, err = s.bus.Emitter(new(types.EvtPeerNotReachable)); err != nil {
		return err
	}
	if s.em.listener, err = s.bus.Emitter(new(types.EvtListenerEstablished)); err != nil {
		return err
	}
	if s.em.connClosed, err = s.bus.Emitter(new(types.EvtConnectionClosed)); err != nil {
		return err
	}
	if s.em.subCreated, err = s.bus.Emitter(new(types.EvtSubstreamCreated)); err != nil {
		return err
	}
	if s.em.subClosed, err = s.bus.Emitter(new(types.EvtSubstreamClosed)); err != nil {
		return err
	}
	return nil
}

// LocalPeer 返回本地节点
func (s *Swarm) LocalPeer() *types.Peer {
	return s.localPeer
}

// EventBus 返回事件总线
func (s *Swarm) EventBus() *eventbus.Bus {
	return s.bus
}

// Manager 返回连接管理器
func (s *Swarm) Manager() *connmgr.Manager {
	return s.manager
}

// Transports 返回传输注册表
func (s *Swarm) Transports() *transport.Registry {
	return s.transports
}

// Policy 返回组合策略
func (s *Swarm) Policy() *filter.Composite {
	return s.policy
}

// IsRunning Swarm 是否在运行
func (s *Swarm) IsRunning() bool {
	return s.running.Load()
}

// ActiveConnections 当前有活跃连接的节点数
func (s *Swarm) ActiveConnections() int {
	return s.manager.ActivePeers()
}

// IsAllowed 节点是否通过策略（全部已知地址均须通过）
func (s *Swarm) IsAllowed(peer *types.Peer) bool {
	return s.policy.AllowsPeer(peer)
}

// AddProtocol 注册应用协议
//
// 协议在挂载后进入每条连接的分发表。
func (s *Swarm) AddProtocol(p connection.Protocol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocols = append(s.protocols, p)
}

// Start 启动 Swarm
func (s *Swarm) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	logger.Info("Swarm 已启动", "localPeer", s.localPeer.ID.ShortString())
	return nil
}

// Stop 停止 Swarm
//
// 取消群级令牌：所有进行中的拨号随之取消。停止全部监听器、
// 清空连接管理器与节点注册表、重置两个策略列表。
func (s *Swarm) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	logger.Info("正在停止 Swarm")

	s.cancel()

	s.stopAllListeners()

	s.manager.Clear()

	s.mu.Lock()
	s.knownPeers = make(map[types.PeerID]*types.Peer)
	s.mu.Unlock()

	s.policy.Reset()

	logger.Info("Swarm 已停止")
	return nil
}

// Close 停止并释放 Swarm
func (s *Swarm) Close() error {
	s.Stop()
	return s.manager.Close()
}

// mountProtocols 把当前协议集合挂载到连接
func (s *Swarm) mountProtocols(conn *connection.PeerConnection) {
	s.mu.RLock()
	channels := append([]security.SecureChannel{}, s.securityChannels...)
	protocols := append([]connection.Protocol{}, s.protocols...)
	identity := s.identity
	s.mu.RUnlock()

	for _, ch := range channels {
		conn.AddSecurityChannel(ch)
	}

	conn.SetIdentityRunner(identity)
	conn.AddProtocol(identity.Protocol())

	conn.AddProtocols(protocols...)
}

// connEmitters 连接事件发射器
func (s *Swarm) connEmitters() connection.Emitters {
	return connection.Emitters{
		Closed:           s.em.connClosed,
		SubstreamCreated: s.em.subCreated,
		SubstreamClosed:  s.em.subClosed,
	}
}
