package swarm

import (
	"fmt"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

// ============================================================================
//                              节点注册表
// ============================================================================

// RegisterPeerAddress 按地址注册节点
//
// 地址必须以节点标识协议结尾。
func (s *Swarm) RegisterPeerAddress(addr *multiaddr.Multiaddr) (*types.Peer, error) {
	idStr, ok := addr.PeerID()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPeerIDInAddr, addr)
	}

	id := types.PeerID(idStr)
	if id == s.localPeer.ID {
		return nil, fmt.Errorf("%w: %s", ErrCannotRegisterSelf, addr)
	}

	peer := types.NewPeer(id)
	peer.AddAddrs(addr)

	return s.RegisterPeer(peer)
}

// RegisterPeer 注册节点
//
// 失败条件：缺少标识、等于本地节点、组合策略拒绝。
// 已存在时按合并规则并入现有记录；首次插入发布 PeerDiscovered。
func (s *Swarm) RegisterPeer(peer *types.Peer) (*types.Peer, error) {
	if peer == nil || peer.ID.IsEmpty() {
		return nil, ErrPeerIDMissing
	}
	if peer.ID == s.localPeer.ID {
		return nil, ErrCannotRegisterSelf
	}
	if !s.policy.AllowsPeer(peer) {
		return nil, fmt.Errorf("%w: %s", ErrPeerDenied, peer.ID.ShortString())
	}

	s.mu.Lock()
	existing, ok := s.knownPeers[peer.ID]
	if ok {
		s.mu.Unlock()
		existing.Merge(peer)
		return existing, nil
	}
	s.knownPeers[peer.ID] = peer
	s.mu.Unlock()

	logger.Debug("发现新节点", "peerID", peer.ID.ShortString(), "addrCount", len(peer.Addrs()))
	s.em.discovered.Emit(types.EvtPeerDiscovered{Peer: peer})

	return peer, nil
}

// DeregisterPeer 注销节点
func (s *Swarm) DeregisterPeer(peer *types.Peer) bool {
	if peer == nil {
		return false
	}

	s.mu.Lock()
	existing, ok := s.knownPeers[peer.ID]
	if ok {
		delete(s.knownPeers, peer.ID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	logger.Debug("节点已注销", "peerID", peer.ID.ShortString())
	s.em.removed.Emit(types.EvtPeerRemoved{Peer: existing})
	return true
}

// PeerByID 按标识查找已知节点
func (s *Swarm) PeerByID(id types.PeerID) (*types.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.knownPeers[id]
	return p, ok
}

// KnownPeers 返回全部已知节点
func (s *Swarm) KnownPeers() []*types.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Peer, 0, len(s.knownPeers))
	for _, p := range s.knownPeers {
		out = append(out, p)
	}
	return out
}
