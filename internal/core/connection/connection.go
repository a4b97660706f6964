// Package connection 实现节点连接与握手流水线
//
// PeerConnection 拥有一条基础双工流（套在字节计数适配器里），
// 承载分层握手：multistream 头部 -> 安全信道 -> multistream 头部
// -> 多路复用器。之后每条被接受的子流各自进入对连接协议表的
// multistream 协商。
//
// 三个一次性完成槽记录握手进度：安全建立、复用器建立、身份建立。
// 连接释放后基础流恰好关闭一次，未完成的槽全部取消。
package connection

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/netweave/go-netweave/internal/core/bandwidth"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/internal/core/muxer/mplex"
	ms "github.com/netweave/go-netweave/internal/core/protocol/multistream"
	"github.com/netweave/go-netweave/internal/core/security"
	"github.com/netweave/go-netweave/pkg/interfaces"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("core/connection")

// StreamHandler 协议流处理器
type StreamHandler func(ctx context.Context, conn *PeerConnection, stream io.ReadWriteCloser) error

// Protocol 可注册的节点协议
//
// 注册键为 "/" + Name + "/" + Version。
type Protocol struct {
	Name    string
	Version string
	Handler StreamHandler
}

// ID 返回带版本的协议标识
func (p Protocol) ID() string {
	return "/" + p.Name + "/" + p.Version
}

// IdentityRunner 身份协议的发起侧执行器
//
// 由 identify 包实现，Swarm 在挂载协议时注入，避免包间循环。
type IdentityRunner interface {
	// ProtocolName 身份协议名（不含版本）
	ProtocolName() string

	// RunInitiator 在新子流上执行身份交换，返回校验后的远端节点
	RunInitiator(ctx context.Context, conn *PeerConnection, rw io.ReadWriteCloser) (*types.Peer, error)
}

// Emitters 连接相关事件发射器（均可为 nil）
type Emitters struct {
	Closed           *eventbus.Emitter
	SubstreamCreated *eventbus.Emitter
	SubstreamClosed  *eventbus.Emitter
}

// ============================================================================
//                              PeerConnection
// ============================================================================

// PeerConnection 节点连接
type PeerConnection struct {
	id        string
	direction types.Direction

	localPeer *types.Peer
	privKey   crypto.PrivateKey

	localAddr  *multiaddr.Multiaddr
	remoteAddr *multiaddr.Multiaddr

	// remoteMu 保护 remotePeer（入站连接的远端身份在握手中确立）
	remoteMu   sync.RWMutex
	remotePeer *types.Peer

	// streamMu 保护流栈；counted 是最底层的计数包装，rw 是当前栈顶
	// （安全握手把 rw 替换为认证流）
	streamMu sync.Mutex
	counted  *bandwidth.CountedStream
	rw       io.ReadWriteCloser

	// protoMu 保护协议表（仅短临界区）
	protoMu   sync.Mutex
	protocols map[string]StreamHandler
	order     []string

	securityChannels []security.SecureChannel
	identity         IdentityRunner
	registry         interfaces.PeerRegistry
	emitters         Emitters

	muxerMu sync.Mutex
	muxer   *mplex.Muxer

	// 三个一次性完成槽
	SecurityEstablished *Slot[bool]
	MuxerEstablished    *Slot[*mplex.Muxer]
	IdentityEstablished *Slot[*types.Peer]

	ctx    context.Context
	cancel context.CancelFunc

	disposed atomic.Bool
}

// 确保实现事件引用接口
var _ types.ConnRef = (*PeerConnection)(nil)

// Config 连接构造参数
type Config struct {
	Direction  types.Direction
	LocalPeer  *types.Peer
	RemotePeer *types.Peer // 入站连接可为 nil
	LocalAddr  *multiaddr.Multiaddr
	RemoteAddr *multiaddr.Multiaddr
	PrivateKey crypto.PrivateKey // 可为 nil（走明文信道）
	Registry   interfaces.PeerRegistry
	Emitters   Emitters
	// GlobalCounter 进程级带宽计数器（可为 nil）
	GlobalCounter *bandwidth.Counter
}

// New 创建连接并接管基础流
//
// protector 不为 nil 时先对原始流做私网变换。
func New(stream io.ReadWriteCloser, cfg Config, protector interfaces.NetworkProtector) (*PeerConnection, error) {
	if protector != nil {
		protected, err := protector.Protect(stream)
		if err != nil {
			stream.Close()
			return nil, err
		}
		stream = protected
	}

	counted := bandwidth.WrapStream(stream, nil, cfg.GlobalCounter)

	ctx, cancel := context.WithCancel(context.Background())

	c := &PeerConnection{
		id:         uuid.NewString(),
		direction:  cfg.Direction,
		localPeer:  cfg.LocalPeer,
		remotePeer: cfg.RemotePeer,
		localAddr:  cfg.LocalAddr,
		remoteAddr: cfg.RemoteAddr,
		privKey:    cfg.PrivateKey,
		counted:    counted,
		rw:         counted,
		protocols:  make(map[string]StreamHandler),
		registry:   cfg.Registry,
		emitters:   cfg.Emitters,

		SecurityEstablished: NewSlot[bool](),
		MuxerEstablished:    NewSlot[*mplex.Muxer](),
		IdentityEstablished: NewSlot[*types.Peer](),

		ctx:    ctx,
		cancel: cancel,
	}

	return c, nil
}

// ID 连接唯一标识
func (c *PeerConnection) ID() string {
	return c.id
}

// Direction 连接方向
func (c *PeerConnection) Direction() types.Direction {
	return c.direction
}

// LocalPeer 本地节点
func (c *PeerConnection) LocalPeer() *types.Peer {
	return c.localPeer
}

// RemotePeer 远端节点（身份确立前可能为 nil）
func (c *PeerConnection) RemotePeer() *types.Peer {
	c.remoteMu.RLock()
	defer c.remoteMu.RUnlock()
	return c.remotePeer
}

// SetRemotePeer 设置远端节点
func (c *PeerConnection) SetRemotePeer(p *types.Peer) {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()
	c.remotePeer = p
}

// LocalAddr 本地地址
func (c *PeerConnection) LocalAddr() *multiaddr.Multiaddr {
	return c.localAddr
}

// RemoteAddr 远端地址
func (c *PeerConnection) RemoteAddr() *multiaddr.Multiaddr {
	return c.remoteAddr
}

// PrivateKey 本地私钥（可为 nil）
func (c *PeerConnection) PrivateKey() crypto.PrivateKey {
	return c.privKey
}

// Counter 连接级带宽计数器
func (c *PeerConnection) Counter() *bandwidth.Counter {
	return c.counted.Counter()
}

// Context 连接生命周期上下文
func (c *PeerConnection) Context() context.Context {
	return c.ctx
}

// stream 返回当前栈顶流（已释放时为 nil）
func (c *PeerConnection) stream() io.ReadWriteCloser {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	return c.rw
}

// replaceStream 把栈顶替换为认证流
func (c *PeerConnection) replaceStream(rw io.ReadWriteCloser) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.rw != nil {
		c.rw = rw
	}
}

// IsActive 连接是否活跃（流可读写）
func (c *PeerConnection) IsActive() bool {
	return !c.disposed.Load() && c.stream() != nil
}

// ============================================================================
//                              协议表
// ============================================================================

// AddProtocol 注册协议
func (c *PeerConnection) AddProtocol(p Protocol) {
	c.protoMu.Lock()
	defer c.protoMu.Unlock()
	id := p.ID()
	if _, exists := c.protocols[id]; !exists {
		c.order = append(c.order, id)
	}
	c.protocols[id] = p.Handler
}

// AddProtocols 批量注册协议
func (c *PeerConnection) AddProtocols(ps ...Protocol) {
	for _, p := range ps {
		c.AddProtocol(p)
	}
}

// AddSecurityChannel 挂载安全信道（按挂载顺序协商）
func (c *PeerConnection) AddSecurityChannel(ch security.SecureChannel) {
	c.protoMu.Lock()
	defer c.protoMu.Unlock()
	c.securityChannels = append(c.securityChannels, ch)
}

// SetIdentityRunner 注入身份协议执行器
func (c *PeerConnection) SetIdentityRunner(r IdentityRunner) {
	c.protoMu.Lock()
	defer c.protoMu.Unlock()
	c.identity = r
}

// handlerFor 查找协议处理器
func (c *PeerConnection) handlerFor(id string) (StreamHandler, bool) {
	c.protoMu.Lock()
	defer c.protoMu.Unlock()
	h, ok := c.protocols[id]
	return h, ok
}

// securityChannelFor 查找安全信道
func (c *PeerConnection) securityChannelFor(id string) security.SecureChannel {
	c.protoMu.Lock()
	defer c.protoMu.Unlock()
	for _, ch := range c.securityChannels {
		if ch.ID() == id {
			return ch
		}
	}
	return nil
}

// hasProtocol 协议表查询（multistream 应答侧使用）
//
// 覆盖注册协议、已挂载的安全信道与多路复用器协议。
func (c *PeerConnection) hasProtocol(id string) bool {
	if id == mplex.ProtocolID {
		return true
	}
	if c.securityChannelFor(id) != nil {
		return true
	}
	_, ok := c.handlerFor(id)
	return ok
}

// versionedCandidates 收集共享名称前缀的注册协议，semver 降序
func (c *PeerConnection) versionedCandidates(name string) []string {
	c.protoMu.Lock()
	var cands []string
	for _, id := range c.order {
		if base, _ := ms.SplitProtocol(id); base == "/"+name {
			cands = append(cands, id)
		}
	}
	c.protoMu.Unlock()

	return ms.OrderBySemverDesc(cands)
}

// EstablishProtocol 在流上按版本降序协商命名协议
//
// name 不含版本（如 "netweave/id"）；提议共享该前缀的全部
// 注册版本，首个被回显的候选胜出。
func (c *PeerConnection) EstablishProtocol(ctx context.Context, name string, rw io.ReadWriteCloser) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cands := c.versionedCandidates(name)
	if len(cands) == 0 {
		cands = []string{"/" + name}
	}
	return ms.SelectOneOf(cands, rw)
}

// ============================================================================
//                              多路复用器绑定
// ============================================================================

// Muxer 返回已建立的多路复用器（可能为 nil）
func (c *PeerConnection) Muxer() *mplex.Muxer {
	c.muxerMu.Lock()
	defer c.muxerMu.Unlock()
	return c.muxer
}

// bindMuxer 绑定多路复用器并接线子流事件
func (c *PeerConnection) bindMuxer(mux *mplex.Muxer) {
	c.muxerMu.Lock()
	c.muxer = mux
	c.muxerMu.Unlock()

	mux.BindConn(c)
	mux.OnSubstreamCreated(func(sub *mplex.Substream) {
		if c.emitters.SubstreamCreated != nil {
			c.emitters.SubstreamCreated.Emit(types.EvtSubstreamCreated{Stream: sub})
		}
		// 远端新建的子流各自进入协议协商
		go c.handleSubstream(sub)
	})
	mux.OnSubstreamClosed(func(sub *mplex.Substream) {
		if c.emitters.SubstreamClosed != nil {
			c.emitters.SubstreamClosed.Emit(types.EvtSubstreamClosed{Stream: sub})
		}
	})

	c.MuxerEstablished.TrySet(mux)
}

// NewStream 打开命名子流并协商协议
//
// name 不含版本；返回协商完成、可直接收发应用数据的子流。
func (c *PeerConnection) NewStream(ctx context.Context, name string) (*mplex.Substream, error) {
	mux := c.Muxer()
	if mux == nil {
		return nil, ErrNoMuxer
	}

	sub, err := mux.NewNamedStream(ctx, name)
	if err != nil {
		return nil, err
	}

	if _, err := c.EstablishProtocol(ctx, name, sub); err != nil {
		sub.Close()
		return nil, err
	}

	return sub, nil
}

// handleSubstream 远端子流的协商与分发
func (c *PeerConnection) handleSubstream(sub *mplex.Substream) {
	proto, err := ms.Negotiate(c.hasProtocol, sub)
	if err != nil {
		logger.Debug("子流协商失败", "id", sub.StreamID(), "error", err)
		sub.Close()
		return
	}

	handler, ok := c.handlerFor(proto)
	if !ok {
		logger.Warn("协商通过但无处理器", "proto", proto)
		sub.Close()
		return
	}

	if err := handler(c.ctx, c, sub); err != nil {
		logger.Debug("子流处理器返回错误", "proto", proto, "error", err)
		sub.Close()
	}
}

// ============================================================================
//                              安全完成与释放
// ============================================================================

// completeSecurity 应用握手结果并完成安全槽
func (c *PeerConnection) completeSecurity(sess *security.Session) error {
	if sess != nil && sess.RemotePublicKey != nil {
		pub, err := crypto.MarshalPublicKey(sess.RemotePublicKey)
		if err != nil {
			return err
		}

		c.remoteMu.Lock()
		if c.remotePeer == nil {
			c.remotePeer = types.NewPeer(sess.RemotePeer)
		}
		c.remotePeer.SetPublicKey(pub)
		c.remoteMu.Unlock()
	}

	// try-set：明文路径可能重复完成
	c.SecurityEstablished.TrySet(true)
	return nil
}

// CompleteIdentity 完成身份槽并晋升远端节点
//
// 身份协议的两侧（发起方与应答处理器）都经由此路径。
func (c *PeerConnection) CompleteIdentity(peer *types.Peer) (*types.Peer, error) {
	if c.registry != nil {
		registered, err := c.registry.RegisterPeer(peer)
		if err != nil {
			return nil, err
		}
		peer = registered
	}

	c.SetRemotePeer(peer)
	c.IdentityEstablished.TrySet(peer)
	return peer, nil
}

// Dispose 释放连接
//
// 幂等：基础流恰好关闭一次，未完成的槽全部取消，
// Closed 事件恰好发布一次。
func (c *PeerConnection) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.cancel()

	c.streamMu.Lock()
	counted := c.counted
	c.rw = nil
	c.counted = nil
	c.streamMu.Unlock()

	if counted != nil {
		counted.Close()
	}

	c.muxerMu.Lock()
	mux := c.muxer
	c.muxerMu.Unlock()
	if mux != nil {
		mux.Close()
	}

	c.SecurityEstablished.TryCancel()
	c.MuxerEstablished.TryCancel()
	c.IdentityEstablished.TryCancel()

	if c.emitters.Closed != nil {
		c.emitters.Closed.Emit(types.EvtConnectionClosed{Conn: c})
	}

	remote := "?"
	if p := c.RemotePeer(); p != nil {
		remote = p.ID.ShortString()
	}
	logger.Debug("连接已释放", "connID", c.id, "remotePeer", remote)
}
