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

// ============================================================================
//                              监听器管理
// ============================================================================

// Listen 监听多个地址
func (s *Swarm) Listen(addrs ...string) error {
	if !s.running.Load() {
		return ErrSwarmClosed
	}
	if len(addrs) == 0 {
		return fmt.Errorf("swarm: no addresses to listen")
	}

	var errs error
	succeeded := 0

	for _, addr := range addrs {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("parse %s: %w", addr, err))
			continue
		}
		if _, err := s.StartListening(maddr); err != nil {
			logger.Warn("监听地址失败", "addr", addr, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("listen %s: %w", addr, err))
		} else {
			succeeded++
		}
	}

	if succeeded == 0 {
		return fmt.Errorf("swarm: failed to listen on any address: %w", errs)
	}
	return nil
}

// StartListening 启动单个监听器
//
// 登记取消令牌，交给传输层监听（处理器为 on_remote_connect），
// 把通配 IP（0.0.0.0 / ::）展开为主机单播地址，逐一指向同一
// 令牌并并入本地节点的地址列表。返回实际监听地址。
func (s *Swarm) StartListening(maddr *multiaddr.Multiaddr) (*multiaddr.Multiaddr, error) {
	if !s.running.Load() {
		return nil, ErrSwarmClosed
	}

	key := maddr.TransportTail().String()
	s.mu.Lock()
	if _, exists := s.listeners[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyListening, maddr)
	}
	s.mu.Unlock()

	t, err := s.transports.ForAddr(maddr)
	if err != nil {
		return nil, err
	}

	lctx, cancel := context.WithCancel(s.ctx)

	actual, err := t.Listen(lctx, maddr, s.onRemoteConnect)
	if err != nil {
		cancel()
		return nil, err
	}

	expanded := actual.ExpandWildcard()
	entry := &listenerEntry{cancel: cancel, addrs: expanded}

	s.mu.Lock()
	for _, a := range expanded {
		s.listeners[a.TransportTail().String()] = entry
	}
	// 原始请求地址也指向同一令牌（0 端口请求与实际地址不同）
	s.listeners[key] = entry
	s.mu.Unlock()

	s.localPeer.AddAddrs(expanded...)

	logger.Info("监听器已建立",
		"requested", maddr,
		"actual", actual,
		"expandedCount", len(expanded))

	s.em.listener.Emit(types.EvtListenerEstablished{Peer: s.localPeer, Addr: actual})

	return actual, nil
}

// StopListening 停止监听
//
// 取消令牌并移除共享该令牌的全部监听地址，同时收缩本地节点的
// 地址列表。
func (s *Swarm) StopListening(maddr *multiaddr.Multiaddr) error {
	key := maddr.TransportTail().String()

	s.mu.Lock()
	entry, ok := s.listeners[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("swarm: not listening on %s", maddr)
	}

	for k, e := range s.listeners {
		if e == entry {
			delete(s.listeners, k)
		}
	}
	s.mu.Unlock()

	entry.cancel()
	s.localPeer.RemoveAddrs(entry.addrs...)

	logger.Debug("监听器已停止", "addr", maddr)
	return nil
}

// stopAllListeners 停止全部监听器
func (s *Swarm) stopAllListeners() {
	s.mu.Lock()
	entries := make(map[*listenerEntry]struct{})
	for _, e := range s.listeners {
		entries[e] = struct{}{}
	}
	s.listeners = make(map[string]*listenerEntry)
	s.mu.Unlock()

	for e := range entries {
		e.cancel()
		s.localPeer.RemoveAddrs(e.addrs...)
	}
}

// ListenAddrs 返回全部监听地址
func (s *Swarm) ListenAddrs() []*multiaddr.Multiaddr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*multiaddr.Multiaddr
	for _, entry := range s.listeners {
		for _, a := range entry.addrs {
			if _, dup := seen[a.String()]; dup {
				continue
			}
			seen[a.String()] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// ============================================================================
//                              入站握手
// ============================================================================

// onRemoteConnect 入站连接处理器
//
// 流程：运行检查 -> 同远端地址去重（第一条胜出，后续关闭）->
// 策略闸门 -> 构造入站连接（可选保护器）-> 挂载协议集合 ->
// 启动读循环 -> 依次等待安全、复用器与身份确立 -> 晋升远端
// 节点 -> 登记连接，保留者发布 ConnectionEstablished。
func (s *Swarm) onRemoteConnect(stream io.ReadWriteCloser, local, remote *multiaddr.Multiaddr) {
	if !s.running.Load() {
		stream.Close()
		return
	}

	// 同一远端地址的并发入站去重
	key := remote.String()
	if _, loaded := s.pendingInbound.LoadOrStore(key, struct{}{}); loaded {
		logger.Debug("重复的入站连接被关闭", "remote", remote)
		stream.Close()
		return
	}
	defer s.pendingInbound.Delete(key)

	// 入站同样经过策略闸门
	if !s.policy.Allows(remote) {
		logger.Debug("入站地址被策略拒绝", "remote", remote)
		stream.Close()
		return
	}

	conn, err := connection.New(stream, connection.Config{
		Direction:     types.DirInbound,
		LocalPeer:     s.localPeer,
		LocalAddr:     local,
		RemoteAddr:    remote,
		PrivateKey:    s.privKey,
		Registry:      s,
		Emitters:      s.connEmitters(),
		GlobalCounter: s.globalCounter,
	}, s.protector)
	if err != nil {
		logger.Debug("入站连接构造失败", "remote", remote, "error", err)
		return
	}

	s.mountProtocols(conn)

	go conn.ReadMessages(s.ctx)

	hctx, cancel := context.WithTimeout(s.ctx, s.cfg.TransportConnectTimeout)
	defer cancel()

	if _, err := conn.SecurityEstablished.Wait(hctx); err != nil {
		logger.Debug("入站安全建立失败", "remote", remote, "error", err)
		conn.Dispose()
		return
	}

	if _, err := conn.MuxerEstablished.Wait(hctx); err != nil {
		logger.Debug("入站复用器建立失败", "remote", remote, "error", err)
		conn.Dispose()
		return
	}

	peer, err := conn.IdentityEstablished.Wait(hctx)
	if err != nil {
		logger.Debug("入站身份建立失败", "remote", remote, "error", err)
		conn.Dispose()
		return
	}

	retained := s.manager.Add(conn)
	if retained == conn {
		s.em.established.Emit(types.EvtConnectionEstablished{Conn: conn})
	}

	logger.Info("入站连接已建立",
		"peerID", peer.ID.ShortString(),
		"remote", remote)
}
