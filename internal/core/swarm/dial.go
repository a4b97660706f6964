package swarm

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

// dialResult 单地址拨号结果
type dialResult struct {
	conn *connection.PeerConnection
	addr *multiaddr.Multiaddr
	err  error
}

// Connect 连接到节点
//
// 流程：
//  1. 注册节点（合并进注册表，执行策略）
//  2. 已有活跃连接时直接复用
//  3. 否则按节点去重拨号：并发调用共享同一 future；future 的
//     取消令牌是群级令牌与调用方令牌的交集
//  4. future 失败时发布 PeerNotReachable 并传播；无论结果如何
//     进行中的登记都会被移除
func (s *Swarm) Connect(ctx context.Context, peer *types.Peer) (*connection.PeerConnection, error) {
	if !s.running.Load() {
		return nil, ErrSwarmClosed
	}

	registered, err := s.RegisterPeer(peer)
	if err != nil {
		return nil, err
	}

	if conn, ok := s.manager.TryGet(registered); ok {
		return conn, nil
	}

	key := registered.ID.String()
	v, err, _ := s.dials.Do(key, func() (interface{}, error) {
		defer s.dials.Forget(key)

		linked, cancel := s.linkedContext(ctx)
		defer cancel()

		return s.dial(linked, registered, registered.Addrs())
	})

	if err != nil {
		s.em.notReachable.Emit(types.EvtPeerNotReachable{Peer: registered})
		return nil, err
	}

	return v.(*connection.PeerConnection), nil
}

// ConnectAddr 按地址连接
func (s *Swarm) ConnectAddr(ctx context.Context, addr *multiaddr.Multiaddr) (*connection.PeerConnection, error) {
	if !s.running.Load() {
		return nil, ErrSwarmClosed
	}

	peer, err := s.RegisterPeerAddress(addr)
	if err != nil {
		return nil, err
	}
	return s.Connect(ctx, peer)
}

// Disconnect 断开与节点的全部连接
func (s *Swarm) Disconnect(peer *types.Peer) {
	if peer == nil {
		return
	}
	s.manager.RemovePeer(peer)
}

// DisconnectAddr 按地址断开
func (s *Swarm) DisconnectAddr(addr *multiaddr.Multiaddr) error {
	idStr, ok := addr.PeerID()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPeerIDInAddr, addr)
	}
	peer, ok := s.PeerByID(types.PeerID(idStr))
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, idStr)
	}
	s.Disconnect(peer)
	return nil
}

// linkedContext 群级令牌与调用方令牌的交集
func (s *Swarm) linkedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	linked, cancel := context.WithCancel(ctx)
	swarmCtx := s.ctx

	stop := context.AfterFunc(swarmCtx, cancel)
	return linked, func() {
		stop()
		cancel()
	}
}

// dial 并行竞速拨号
//
// 解析地址后剔除本地正在监听的地址（按去掉节点标识的传输尾部
// 比较，防止自拨号），再重新附上节点标识。在超时上限内并行
// 拨号所有地址：第一个产出连接者胜出，其余取消；全部失败则
// 整体失败。
func (s *Swarm) dial(ctx context.Context, peer *types.Peer, addrs []*multiaddr.Multiaddr) (*connection.PeerConnection, error) {
	candidates := s.dialableAddrs(peer, addrs)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: peer %s", ErrNoAddresses, peer.ID.ShortString())
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.TransportConnectTimeout)
	defer cancel()

	results := make(chan dialResult, len(candidates))
	for _, addr := range candidates {
		go func(addr *multiaddr.Multiaddr) {
			conn, err := s.dialOne(dialCtx, peer, addr)
			results <- dialResult{conn: conn, addr: addr, err: err}
		}(addr)
	}

	var errs error
	var winner *connection.PeerConnection

	for i := 0; i < len(candidates); i++ {
		select {
		case res := <-results:
			if res.err != nil {
				s.dialFailures.Add(res.addr.String(), res.err)
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.addr, res.err))
				continue
			}
			if winner == nil {
				winner = res.conn
				// 胜者产生后取消其余拨号
				cancel()
			} else {
				// 迟到的成功连接直接释放
				res.conn.Dispose()
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if winner == nil {
		return nil, &DialError{Peer: peer.ID, Errs: errs}
	}

	return s.finalizeOutbound(ctx, winner)
}

// dialableAddrs 计算可拨号地址集合
//
// 近期失败过的地址排到末尾（仍然尝试，可能网络已恢复）。
func (s *Swarm) dialableAddrs(peer *types.Peer, addrs []*multiaddr.Multiaddr) []*multiaddr.Multiaddr {
	listening := s.listeningTails()

	var fresh, recentlyFailed []*multiaddr.Multiaddr
	for _, addr := range addrs {
		tail := addr.TransportTail()

		// 剔除与本地监听地址相同的传输尾部（自拨号防护）
		if _, isSelf := listening[tail.String()]; isSelf {
			logger.Debug("剔除与本地监听重合的地址", "addr", addr)
			continue
		}

		if !s.policy.Allows(addr) {
			logger.Debug("地址被策略拒绝", "addr", addr)
			continue
		}

		// 重新附上节点标识
		candidate := tail.WithPeerID(peer.ID.String())
		if _, failed := s.dialFailures.Get(candidate.String()); failed {
			recentlyFailed = append(recentlyFailed, candidate)
		} else {
			fresh = append(fresh, candidate)
		}
	}
	return append(fresh, recentlyFailed...)
}

// listeningTails 本地监听地址的传输尾部集合
func (s *Swarm) listeningTails() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{})
	for _, entry := range s.listeners {
		for _, a := range entry.addrs {
			out[a.TransportTail().String()] = struct{}{}
		}
	}
	return out
}

// dialOne 拨号单个地址
//
// 地址的第三个协议必须是节点标识协议（ipfs/p2p）。
func (s *Swarm) dialOne(ctx context.Context, peer *types.Peer, addr *multiaddr.Multiaddr) (*connection.PeerConnection, error) {
	protos := addr.Protocols()
	if len(protos) < 3 || !multiaddr.IsPeerIDProtocol(protos[2]) {
		return nil, fmt.Errorf("%w: %s", ErrNoPeerIDInAddr, addr)
	}

	t, err := s.transports.ForAddr(addr)
	if err != nil {
		return nil, err
	}

	logger.Debug("开始拨号",
		"peerID", peer.ID.ShortString(),
		"addr", addr)

	stream, err := t.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("transport dial: %w", err)
	}

	conn, err := connection.New(stream, connection.Config{
		Direction:     types.DirOutbound,
		LocalPeer:     s.localPeer,
		RemotePeer:    peer,
		RemoteAddr:    addr,
		PrivateKey:    s.privKey,
		Registry:      s,
		Emitters:      s.connEmitters(),
		GlobalCounter: s.globalCounter,
	}, s.protector)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// finalizeOutbound 胜出连接的握手与登记
func (s *Swarm) finalizeOutbound(ctx context.Context, conn *connection.PeerConnection) (*connection.PeerConnection, error) {
	s.mountProtocols(conn)

	if err := conn.Initiate(ctx); err != nil {
		return nil, err
	}

	retained := s.manager.Add(conn)
	if retained == conn {
		s.em.established.Emit(types.EvtConnectionEstablished{Conn: conn})
	}

	remote := conn.RemotePeer()
	logger.Info("出站连接已建立",
		"peerID", remote.ID.ShortString(),
		"addr", conn.RemoteAddr())

	return retained, nil
}

// NewStream 在与节点的活跃连接上打开协商完成的子流
func (s *Swarm) NewStream(ctx context.Context, id types.PeerID, name string) (io.ReadWriteCloser, error) {
	peer, ok := s.PeerByID(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id.ShortString())
	}

	conn, ok := s.manager.TryGet(peer)
	if !ok {
		var err error
		conn, err = s.Connect(ctx, peer)
		if err != nil {
			return nil, err
		}
	}

	return conn.NewStream(ctx, name)
}
