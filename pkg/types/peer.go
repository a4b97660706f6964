package types

import (
	"sync"
	"time"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

// ============================================================================
//                              Peer - 节点记录
// ============================================================================

// Peer 网络参与者记录
//
// 由内容寻址的公钥哈希标识。地址列表在重复注册时做并集合并。
// 记录在 Swarm、连接管理器等多个组件间共享，内部加锁保证并发安全。
//
// 不变式：公钥已知时 ID == hash(PublicKey)。
type Peer struct {
	mu sync.RWMutex

	// ID 节点标识（公钥哈希的 Base58 编码）
	ID PeerID

	// publicKey 序列化公钥（可为 nil，直到身份交换完成）
	publicKey []byte

	// addrs 已知的多协议地址
	addrs []*multiaddr.Multiaddr

	// agentVersion 对端代理版本字符串
	agentVersion string

	// protocolVersion 对端协议版本字符串
	protocolVersion string

	// connectedAddr 当前活跃连接观测到的地址（无连接时为 nil）
	connectedAddr *multiaddr.Multiaddr

	// latency 测得的往返延迟
	latency time.Duration
}

// NewPeer 创建节点记录
func NewPeer(id PeerID) *Peer {
	return &Peer{ID: id}
}

// PublicKey 返回序列化公钥（可能为 nil）
func (p *Peer) PublicKey() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publicKey
}

// SetPublicKey 设置序列化公钥
func (p *Peer) SetPublicKey(pub []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publicKey = pub
}

// Addrs 返回已知地址的副本
func (p *Peer) Addrs() []*multiaddr.Multiaddr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*multiaddr.Multiaddr, len(p.addrs))
	copy(out, p.addrs)
	return out
}

// AddAddrs 并集合并地址
//
// 已存在（Equal）的地址不重复添加。
func (p *Peer) AddAddrs(addrs ...*multiaddr.Multiaddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range addrs {
		if a == nil {
			continue
		}
		exists := false
		for _, have := range p.addrs {
			if have.Equal(a) {
				exists = true
				break
			}
		}
		if !exists {
			p.addrs = append(p.addrs, a)
		}
	}
}

// RemoveAddrs 移除与任一给定地址相等的地址
func (p *Peer) RemoveAddrs(addrs ...*multiaddr.Multiaddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var kept []*multiaddr.Multiaddr
	for _, have := range p.addrs {
		drop := false
		for _, a := range addrs {
			if a != nil && have.Equal(a) {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, have)
		}
	}
	p.addrs = kept
}

// ClearAddrs 清空地址列表
func (p *Peer) ClearAddrs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addrs = nil
}

// AgentVersion 返回代理版本
func (p *Peer) AgentVersion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.agentVersion
}

// SetAgentVersion 设置代理版本
func (p *Peer) SetAgentVersion(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentVersion = v
}

// ProtocolVersion 返回协议版本
func (p *Peer) ProtocolVersion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.protocolVersion
}

// SetProtocolVersion 设置协议版本
func (p *Peer) SetProtocolVersion(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.protocolVersion = v
}

// ConnectedAddr 返回当前连接地址（无连接时为 nil）
func (p *Peer) ConnectedAddr() *multiaddr.Multiaddr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connectedAddr
}

// SetConnectedAddr 设置当前连接地址
func (p *Peer) SetConnectedAddr(a *multiaddr.Multiaddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectedAddr = a
}

// Latency 返回测得延迟
func (p *Peer) Latency() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latency
}

// SetLatency 设置测得延迟
func (p *Peer) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// Merge 合并另一条同 ID 记录
//
// 合并规则：新记录的非空 agent/protocol/公钥/延迟覆盖本记录，
// 地址列表做并集；其余保持不变。
func (p *Peer) Merge(other *Peer) {
	if other == nil || other == p {
		return
	}

	other.mu.RLock()
	pub := other.publicKey
	agent := other.agentVersion
	proto := other.protocolVersion
	lat := other.latency
	addrs := make([]*multiaddr.Multiaddr, len(other.addrs))
	copy(addrs, other.addrs)
	other.mu.RUnlock()

	p.mu.Lock()
	if pub != nil {
		p.publicKey = pub
	}
	if agent != "" {
		p.agentVersion = agent
	}
	if proto != "" {
		p.protocolVersion = proto
	}
	if lat != 0 {
		p.latency = lat
	}
	for _, a := range addrs {
		exists := false
		for _, have := range p.addrs {
			if have.Equal(a) {
				exists = true
				break
			}
		}
		if !exists {
			p.addrs = append(p.addrs, a)
		}
	}
	p.mu.Unlock()
}
