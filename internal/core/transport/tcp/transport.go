// Package tcp 提供基于 TCP 的传输层实现
//
// TCP 传输不提供原生多路复用，需要配合 Muxer 使用。
package tcp

import (
	"context"
	"fmt"
	"io"
	"net"

	tec "github.com/jbenet/go-temp-err-catcher"

	"github.com/netweave/go-netweave/internal/core/transport"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

var logger = log.Logger("transport/tcp")

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport TCP 传输层实现
type Transport struct{}

// 确保实现接口
var _ transport.Transport = (*Transport)(nil)

// New 创建 TCP 传输层
func New() *Transport {
	return &Transport{}
}

// Factory 返回传输工厂
func Factory() transport.Factory {
	return func() transport.Transport { return New() }
}

// Dial 建立出站连接
func (t *Transport) Dial(ctx context.Context, raddr *multiaddr.Multiaddr) (io.ReadWriteCloser, error) {
	network, hostport, err := raddr.TransportTail().ToNetAddrString()
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", raddr, err)
	}
	if network != multiaddr.ProtoTCP {
		return nil, fmt.Errorf("tcp dial %s: not a tcp address", raddr)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", hostport, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	return conn, nil
}

// Listen 监听入站连接
//
// 每个接受的连接在独立的 goroutine 中交给 handler；
// handler 的 panic 只关闭该连接，不影响监听器。
func (t *Transport) Listen(ctx context.Context, laddr *multiaddr.Multiaddr, handler transport.AcceptHandler) (*multiaddr.Multiaddr, error) {
	_, hostport, err := laddr.TransportTail().ToNetAddrString()
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", laddr, err)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", hostport, err)
	}

	actual, err := multiaddr.FromNetAddr(listener.Addr())
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("tcp listen: convert addr: %w", err)
	}

	// ctx 取消时关闭监听套接字，使 Accept 返回
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	go t.acceptLoop(ctx, listener, actual, handler)

	logger.Debug("TCP 监听已启动", "addr", actual)
	return actual, nil
}

// acceptLoop 接受连接循环
func (t *Transport) acceptLoop(ctx context.Context, listener net.Listener, local *multiaddr.Multiaddr, handler transport.AcceptHandler) {
	var catcher tec.TempErrCatcher

	for {
		conn, err := listener.Accept()
		if err != nil {
			// 暂时性错误退避后重试，其余错误结束循环
			if catcher.IsTemporary(err) {
				continue
			}
			if ctx.Err() == nil {
				logger.Debug("TCP 接受循环结束", "addr", local, "error", err)
			}
			return
		}

		remote, err := multiaddr.FromNetAddr(conn.RemoteAddr())
		if err != nil {
			conn.Close()
			continue
		}

		go t.handleConn(conn, local, remote, handler)
	}
}

// handleConn 处理单个入站连接
func (t *Transport) handleConn(conn net.Conn, local, remote *multiaddr.Multiaddr, handler transport.AcceptHandler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("入站流处理器 panic，关闭该连接", "remote", remote, "panic", r)
			conn.Close()
		}
	}()

	handler(conn, local, remote)
}
