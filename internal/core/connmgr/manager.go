// Package connmgr 实现连接管理器
//
// 维护 peerID -> 连接列表的索引，保证"每节点至多一条活跃连接"
// 的使用方式：TryGet 总是返回第一条活跃连接。节点的活跃连接数
// 从非空降为零时恰好发布一次 PeerDisconnected。
//
// 订阅连接的 Closed 事件并走同一条 Remove 路径，使连接的
// 自行释放与显式移除行为一致。
package connmgr

import (
	"sync"
	"sync/atomic"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("core/connmgr")

// Manager 连接管理器
type Manager struct {
	mu sync.Mutex

	// conns peerID -> 有序连接列表
	conns map[types.PeerID][]*connection.PeerConnection

	disconnected *eventbus.Emitter
	closedSub    *eventbus.Subscription

	closed atomic.Bool
}

// NewManager 创建连接管理器
//
// bus 可为 nil（不发布事件、不订阅连接关闭）。
func NewManager(bus *eventbus.Bus) (*Manager, error) {
	m := &Manager{
		conns: make(map[types.PeerID][]*connection.PeerConnection),
	}

	if bus != nil {
		em, err := bus.Emitter(new(types.EvtPeerDisconnected))
		if err != nil {
			return nil, err
		}
		m.disconnected = em

		sub, err := bus.Subscribe(new(types.EvtConnectionClosed))
		if err != nil {
			em.Close()
			return nil, err
		}
		m.closedSub = sub
		go m.watchClosed()
	}

	return m, nil
}

// watchClosed 连接自行释放时经由同一条移除路径
func (m *Manager) watchClosed() {
	for ev := range m.closedSub.Out() {
		closed, ok := ev.(types.EvtConnectionClosed)
		if !ok {
			continue
		}
		if conn, ok := closed.Conn.(*connection.PeerConnection); ok {
			m.Remove(conn)
		}
	}
}

// Add 登记连接
//
// 以远端节点 ID 为索引；同一连接对象已存在时直接返回该对象，
// 否则追加。远端节点的 connected_address 仅在此前为空时更新为
// 新连接的远端地址。
func (m *Manager) Add(conn *connection.PeerConnection) *connection.PeerConnection {
	remote := conn.RemotePeer()
	if remote == nil {
		logger.Warn("拒绝登记无远端身份的连接", "connID", conn.ID())
		return conn
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, have := range m.conns[remote.ID] {
		if have == conn {
			return have
		}
	}

	m.conns[remote.ID] = append(m.conns[remote.ID], conn)

	if remote.ConnectedAddr() == nil {
		remote.SetConnectedAddr(conn.RemoteAddr())
	}

	logger.Debug("连接已登记",
		"peerID", remote.ID.ShortString(),
		"connCount", len(m.conns[remote.ID]))

	return conn
}

// Remove 移除并释放连接
func (m *Manager) Remove(conn *connection.PeerConnection) {
	remote := conn.RemotePeer()
	if remote == nil {
		conn.Dispose()
		return
	}
	m.removeFrom(remote, conn)
}

// RemovePeer 移除并释放节点的全部连接
func (m *Manager) RemovePeer(peer *types.Peer) {
	if peer == nil {
		return
	}

	m.mu.Lock()
	conns := m.conns[peer.ID]
	delete(m.conns, peer.ID)
	hadConns := len(conns) > 0
	m.mu.Unlock()

	for _, c := range conns {
		c.Dispose()
	}

	if hadConns {
		peer.SetConnectedAddr(nil)
		m.emitDisconnected(peer)
	}
}

// removeFrom 从节点列表移除单条连接
func (m *Manager) removeFrom(peer *types.Peer, conn *connection.PeerConnection) {
	m.mu.Lock()

	list := m.conns[peer.ID]
	found := false
	for i, have := range list {
		if have == conn {
			list = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}

	if !found {
		m.mu.Unlock()
		conn.Dispose()
		return
	}

	var emptied bool
	if len(list) == 0 {
		delete(m.conns, peer.ID)
		emptied = true
	} else {
		m.conns[peer.ID] = list
	}
	m.mu.Unlock()

	conn.Dispose()

	if emptied {
		peer.SetConnectedAddr(nil)
		m.emitDisconnected(peer)
		logger.Debug("节点全部连接断开", "peerID", peer.ID.ShortString())
	} else {
		// 仍有连接：connected_address 指向最后一条剩余连接
		peer.SetConnectedAddr(list[len(list)-1].RemoteAddr())
	}
}

// emitDisconnected 发布节点断开事件
func (m *Manager) emitDisconnected(peer *types.Peer) {
	if m.disconnected != nil {
		m.disconnected.Emit(types.EvtPeerDisconnected{Peer: peer})
	}
}

// TryGet 返回节点的第一条活跃连接
//
// 仅按活跃性过滤，不做任何移除等副作用。
func (m *Manager) TryGet(peer *types.Peer) (*connection.PeerConnection, bool) {
	if peer == nil {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.conns[peer.ID] {
		if c.IsActive() {
			return c, true
		}
	}
	return nil, false
}

// IsConnected 节点是否有活跃连接
func (m *Manager) IsConnected(peer *types.Peer) bool {
	_, ok := m.TryGet(peer)
	return ok
}

// ActivePeers 返回当前有活跃连接的节点数
func (m *Manager) ActivePeers() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, list := range m.conns {
		for _, c := range list {
			if c.IsActive() {
				count++
				break
			}
		}
	}
	return count
}

// Clear 移除并释放全部连接
func (m *Manager) Clear() {
	m.mu.Lock()
	all := m.conns
	m.conns = make(map[types.PeerID][]*connection.PeerConnection)
	m.mu.Unlock()

	for _, list := range all {
		for _, c := range list {
			remote := c.RemotePeer()
			c.Dispose()
			if remote != nil {
				remote.SetConnectedAddr(nil)
			}
		}
	}
}

// Close 停止事件订阅并清空
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.closedSub != nil {
		m.closedSub.Close()
	}
	if m.disconnected != nil {
		m.disconnected.Close()
	}
	m.Clear()
	return nil
}
